package wcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/weakchain/weak/wchain"
	"github.com/weakchain/weak/wsealer"
)

const (
	flagName           = "name"
	flagTransport      = "transport"
	flagListen         = "listen"
	flagAdvertise      = "advertise"
	flagConnect        = "connect"
	flagWithoutCrypto  = "without-crypto"
	flagKeyFile        = "key-file"
	flagCertFile       = "cert-file"
	flagCAPubKeyFile   = "ca-pub-key-file"
	flagPeers          = "peers"
	flagSealInterval   = "seal-interval"
	flagMaxTxsPerBatch = "max-txs-per-batch"
	flagMetricsAddr    = "metrics-addr"
)

// addIdentityFlags registers the flags describing how a process
// identifies itself and reaches peers.
// They are shared by run and submit.
func addIdentityFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(flagTransport, transportHTTP, `peer transport: "http" or "libp2p"`)
	f.Bool(flagWithoutCrypto, false, "neither sign nor verify messages")
	f.String(flagKeyFile, "", "PEM file holding the node's Ed25519 secret key")
	f.String(flagCertFile, "", "CA certificate of the node's public key")
	f.String(flagCAPubKeyFile, "", "PEM file holding the CA public key; when unset every peer is trusted")
	f.String(flagPeers, "", "peer description as JSON, or @path of a JSON file")
}

func newRunCommand(s *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node until interrupted",
		Long: `Run a node until interrupted.

Without --connect the node starts as the primary.
With --connect the node joins the primary at that address,
replays its command history, and relays client commands to it.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNode(cmd.Context(), s.log, s.v)
		},
	}

	addIdentityFlags(cmd)

	f := cmd.Flags()
	f.String(flagName, "", "node name used in logs; random when unset")
	f.String(flagListen, "", "listen address: host:port or unix:/path for http, a multiaddr for libp2p (default port 7777 on loopback)")
	f.String(flagAdvertise, "", "address peers reach this node at; defaults to the bound listen address")
	f.String(flagConnect, "", "address of the primary; empty to run as primary")
	f.Duration(flagSealInterval, wsealer.DefaultConfig().Interval, "time between block sealing attempts")
	f.Int(flagMaxTxsPerBatch, wchain.DefaultMaxTxsPerBatch, "maximum transactions in a sealed block")
	f.String(flagMetricsAddr, "", "serve Prometheus metrics at this address when set")

	return cmd
}

func runNode(ctx context.Context, log *slog.Logger, v *viper.Viper) error {
	name := v.GetString(flagName)
	if name == "" {
		name = petname.Generate(2, "-")
	}
	log = log.With("node", name)

	cfg, err := loadNodeConfig(v)
	if err != nil {
		return err
	}
	cfg.Listen = v.GetString(flagListen)
	if cfg.Listen == "" {
		cfg.Listen = defaultListen(cfg.Transport, 7777)
	}
	cfg.Advertise = v.GetString(flagAdvertise)
	cfg.Connect = v.GetString(flagConnect)
	cfg.SealInterval = v.GetDuration(flagSealInterval)
	cfg.MaxTxsPerBatch = v.GetInt(flagMaxTxsPerBatch)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	cfg.Registry = reg

	var metricsDone <-chan struct{}
	if addr := v.GetString(flagMetricsAddr); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
		}
		metricsDone = serveMetrics(ctx, log.With("sys", "metrics"), ln, reg)
	}

	n, err := startNode(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down", "cause", context.Cause(ctx))
	n.Wait()
	if metricsDone != nil {
		<-metricsDone
	}
	return nil
}

// loadNodeConfig reads the identity settings and key material.
func loadNodeConfig(v *viper.Viper) (nodeConfig, error) {
	cfg := nodeConfig{
		Transport:     v.GetString(flagTransport),
		WithoutCrypto: v.GetBool(flagWithoutCrypto),
		Peers:         v.GetString(flagPeers),
	}
	if cfg.WithoutCrypto {
		return cfg, nil
	}

	keyFile := v.GetString(flagKeyFile)
	if keyFile == "" {
		return nodeConfig{}, fmt.Errorf("--%s is required unless --%s is set", flagKeyFile, flagWithoutCrypto)
	}

	var err error
	if cfg.SecretKeyPEM, err = os.ReadFile(keyFile); err != nil {
		return nodeConfig{}, fmt.Errorf("failed to read secret key: %w", err)
	}
	if cfg.Cert, err = readOptionalFile(v.GetString(flagCertFile)); err != nil {
		return nodeConfig{}, fmt.Errorf("failed to read certificate: %w", err)
	}
	if cfg.CAPubKeyPEM, err = readOptionalFile(v.GetString(flagCAPubKeyFile)); err != nil {
		return nodeConfig{}, fmt.Errorf("failed to read CA public key: %w", err)
	}
	return cfg, nil
}

func defaultListen(transport string, port int) string {
	if transport == transportLibp2p {
		return fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", port)
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func readOptionalFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// serveMetrics serves reg at /metrics on ln until ctx is canceled.
// The returned channel is closed once the server has stopped.
func serveMetrics(
	ctx context.Context, log *slog.Logger, ln net.Listener, reg *prometheus.Registry,
) <-chan struct{} {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	srv := &http.Server{
		Handler: r,

		ReadHeaderTimeout: 5 * time.Second,

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("Serving metrics", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Info("Metrics server stopped due to error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return done
}
