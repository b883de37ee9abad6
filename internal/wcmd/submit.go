package wcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/weakchain/weak/wchain"
	"github.com/weakchain/weak/wnet"
)

const (
	flagTo      = "to"
	flagFrom    = "from"
	flagNonce   = "nonce"
	flagCount   = "count"
	flagData    = "data"
	flagTxsFile = "txs-file"
	flagTimeout = "timeout"
)

func newSubmitCommand(s *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit transactions to a node",
		Long: `Submit transactions to a node.

The transactions are sent to the node's execute route.
A subordinate relays them to the primary,
which adds them to every node's pool.

Either --txs-file names a JSON array of transactions,
or --count transactions are generated from --from
with consecutive nonces starting at --nonce.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadNodeConfig(s.v)
			if err != nil {
				return err
			}
			cfg.Listen = s.v.GetString(flagListen)
			if cfg.Listen == "" {
				cfg.Listen = defaultListen(cfg.Transport, 0)
			}

			txs, err := submittedTxs(s.v)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), s.v.GetDuration(flagTimeout))
			defer cancel()

			reply, err := submitTxs(ctx, s.log, cfg, s.v.GetString(flagTo), txs)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(reply))
			return err
		},
	}

	addIdentityFlags(cmd)

	f := cmd.Flags()
	f.String(flagListen, "", "local address of the client's own endpoint (default a random loopback port)")
	f.String(flagTo, "127.0.0.1:7777", "address of the node to submit to; a multiaddr for libp2p")
	f.String(flagFrom, "0x0000000000000000000000000000000000000001", "sender address of generated transactions")
	f.Uint64(flagNonce, 0, "nonce of the first generated transaction")
	f.Int(flagCount, 1, "number of transactions to generate")
	f.String(flagData, "0x", "hex data of generated transactions")
	f.String(flagTxsFile, "", "JSON file holding an array of transactions to submit instead")
	f.Duration(flagTimeout, 30*time.Second, "bound on the whole submission")

	return cmd
}

func submittedTxs(v *viper.Viper) ([]wchain.Tx, error) {
	if path := v.GetString(flagTxsFile); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read transactions: %w", err)
		}
		var txs []wchain.Tx
		if err := json.Unmarshal(b, &txs); err != nil {
			return nil, fmt.Errorf("failed to parse transactions: %w", err)
		}
		return txs, nil
	}

	var from wchain.Address
	if err := from.UnmarshalText([]byte(v.GetString(flagFrom))); err != nil {
		return nil, err
	}
	var data wchain.HexData
	if err := data.UnmarshalText([]byte(v.GetString(flagData))); err != nil {
		return nil, err
	}
	count := v.GetInt(flagCount)
	if count < 1 {
		return nil, fmt.Errorf("--%s must be at least 1, got %d", flagCount, count)
	}
	return generateTxs(from, v.GetUint64(flagNonce), count, data), nil
}

func generateTxs(from wchain.Address, nonce uint64, count int, data wchain.HexData) []wchain.Tx {
	txs := make([]wchain.Tx, count)
	for i := range txs {
		txs[i] = wchain.Tx{From: from, Data: data, Nonce: nonce + uint64(i)}
	}
	return txs
}

// submitTxs opens a short-lived network endpoint
// and sends txs to the execute route of the node at addr.
func submitTxs(
	ctx context.Context, log *slog.Logger, cfg nodeConfig, addr string, txs []wchain.Tx,
) ([]byte, error) {
	if len(txs) == 0 {
		return nil, errors.New("no transactions to submit")
	}

	to, err := resolveEndpoint(cfg, addr)
	if err != nil {
		return nil, err
	}

	netCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	nw, err := openNetwork(netCtx, log.With("sys", "net"), cfg, nil)
	if err != nil {
		return nil, err
	}
	defer nw.Wait()
	defer cancel()

	reply, err := nw.Send(ctx, to, wnet.RouteExecute, wchain.EncodeAddTxs(txs))
	if err != nil {
		return nil, fmt.Errorf("failed to submit %d txs to %s: %w", len(txs), addr, err)
	}
	log.Info("Submitted txs", "to", addr, "n_txs", len(txs))
	return reply, nil
}
