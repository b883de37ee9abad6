// Package wcmd contains the command tree of the weakd binary.
package wcmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding flags;
// --seal-interval is read from WEAK_SEAL_INTERVAL.
const EnvPrefix = "WEAK"

const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

// rootState is shared by every subcommand.
// It is populated in the root's PersistentPreRunE.
type rootState struct {
	v   *viper.Viper
	log *slog.Logger
}

// NewRootCommand returns the weakd root command.
// Logs are written to logOut; command output goes to cmd.OutOrStdout().
func NewRootCommand(logOut io.Writer) *cobra.Command {
	s := &rootState{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "weakd",
		Short: "Run and operate a weak-consistency replicated chain node",

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.bind(cmd); err != nil {
				return err
			}

			log, err := newLogger(logOut, s.v.GetString(flagLogLevel), s.v.GetString(flagLogFormat))
			if err != nil {
				return err
			}
			s.log = log
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.String(flagConfig, "", "path to a config file (toml, yaml or json) whose keys match flag names")
	f.String(flagLogLevel, "info", "minimum log level: debug, info, warn or error")
	f.String(flagLogFormat, "text", "log output format: text or json")

	cmd.AddCommand(
		newRunCommand(s),
		newKeygenCommand(s),
		newCertifyCommand(s),
		newSubmitCommand(s),
	)

	return cmd
}

// bind merges, from highest to lowest precedence,
// explicitly set flags, WEAK_* environment variables,
// the config file and flag defaults.
func (s *rootState) bind(cmd *cobra.Command) error {
	s.v.SetEnvPrefix(EnvPrefix)
	s.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	s.v.AutomaticEnv()

	if err := s.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	path := s.v.GetString(flagConfig)
	if path == "" {
		return nil
	}
	s.v.SetConfigFile(path)
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.New(`log format must be "text" or "json"`)
	}
}
