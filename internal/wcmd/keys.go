package wcmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/weakchain/weak/wcrypto"
)

const (
	flagOutDir    = "out-dir"
	flagCAKeyFile = "ca-key-file"
	flagPubKey    = "pub-key-file"
	flagOut       = "out"
)

func newKeygenCommand(s *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen NAME",
		Short: "Generate an Ed25519 key pair",
		Long: `Generate an Ed25519 key pair.

The secret key is written to NAME-sk.pem and the public key
to NAME-pk.pem inside the output directory.
The same command creates the CA key pair.`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			sk, pk, err := keygen(s.v.GetString(flagOutDir), args[0])
			if err != nil {
				return err
			}
			s.log.Info("Generated key pair", "secret_key", sk, "public_key", pk)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), pk)
			return err
		},
	}

	cmd.Flags().String(flagOutDir, ".", "directory to write the key files to")
	return cmd
}

// keygen writes a fresh key pair and returns the two file paths.
func keygen(dir, name string) (skPath, pkPath string, err error) {
	signer, err := wcrypto.GenerateEd25519Signer()
	if err != nil {
		return "", "", err
	}

	skPEM, err := wcrypto.MarshalPrivateKeyPEM(signer.PrivateKey())
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	skPath = filepath.Join(dir, name+"-sk.pem")
	pkPath = filepath.Join(dir, name+"-pk.pem")

	// Refuse to clobber an existing secret key.
	f, err := os.OpenFile(skPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", "", fmt.Errorf("failed to create secret key file: %w", err)
	}
	if _, err := f.WriteString(skPEM); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("failed to write secret key: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("failed to write secret key: %w", err)
	}

	if err := os.WriteFile(pkPath, []byte(signer.PubKey().PEM()), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return skPath, pkPath, nil
}

func newCertifyCommand(s *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certify",
		Short: "Issue a CA certificate for a node public key",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := certify(cmd, s.v)
			if err != nil {
				return err
			}
			s.log.Info("Wrote certificate", "path", out)
			return nil
		},
	}

	f := cmd.Flags()
	f.String(flagCAKeyFile, "", "PEM file holding the CA secret key")
	f.String(flagPubKey, "", "PEM file holding the node public key")
	f.String(flagOut, "", "certificate output path; defaults to the public key path with a -cert.sig suffix")
	return cmd
}

func certify(cmd *cobra.Command, v *viper.Viper) (string, error) {
	caPath := v.GetString(flagCAKeyFile)
	pkPath := v.GetString(flagPubKey)
	if caPath == "" || pkPath == "" {
		return "", fmt.Errorf("--%s and --%s are required", flagCAKeyFile, flagPubKey)
	}

	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return "", fmt.Errorf("failed to read CA key: %w", err)
	}
	ca, err := wcrypto.ParsePrivateKeyPEM(caPEM)
	if err != nil {
		return "", fmt.Errorf("failed to load CA key: %w", err)
	}

	pkPEM, err := os.ReadFile(pkPath)
	if err != nil {
		return "", fmt.Errorf("failed to read public key: %w", err)
	}
	pk, err := wcrypto.ParsePublicKeyPEM(pkPEM)
	if err != nil {
		return "", fmt.Errorf("failed to load public key: %w", err)
	}

	// Sign the canonical text, which is what the node presents in its identity.
	cert, err := wcrypto.Certify(cmd.Context(), ca, pk.PEM())
	if err != nil {
		return "", err
	}

	out := v.GetString(flagOut)
	if out == "" {
		out = trimPEMSuffix(pkPath) + "-cert.sig"
	}
	if err := os.WriteFile(out, cert, 0o644); err != nil {
		return "", fmt.Errorf("failed to write certificate: %w", err)
	}
	return out, nil
}

// trimPEMSuffix maps "dir/N0-pk.pem" to "dir/N0".
func trimPEMSuffix(path string) string {
	for _, suffix := range []string{"-pk.pem", ".pem"} {
		if base, ok := strings.CutSuffix(path, suffix); ok && base != "" {
			return base
		}
	}
	return path
}
