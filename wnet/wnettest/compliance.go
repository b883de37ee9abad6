package wnettest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/weakchain/weak/wnet"
)

// NodeFactory returns n nodes that can reach each other.
// Implementations should register cleanup of the nodes with t.
type NodeFactory func(t *testing.T, ctx context.Context, n int) ([]wnet.Network, error)

// TestNetworkCompliance runs the behaviors every [wnet.Network]
// implementation must share.
func TestNetworkCompliance(t *testing.T, f NodeFactory) {
	newNodes := func(t *testing.T, n int) (context.Context, []wnet.Network) {
		t.Helper()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		t.Cleanup(cancel)

		nodes, err := f(t, ctx, n)
		require.NoError(t, err)
		require.Len(t, nodes, n)
		return ctx, nodes
	}

	t.Run("request and reply", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 2)

		type call struct {
			from string
			data []byte
		}
		calls := make(chan call, 1)
		nodes[1].Listen("echo", func(_ context.Context, from string, data []byte) ([]byte, error) {
			calls <- call{from: from, data: bytes.Clone(data)}
			return append([]byte("echo:"), data...), nil
		})

		resp, err := nodes[0].Send(ctx, nodes[1].LocalEndpoint(), "echo", []byte("hi"))
		require.NoError(t, err)
		require.Equal(t, "echo:hi", string(resp))

		c := <-calls
		require.Equal(t, nodes[0].LocalEndpoint(), c.from)
		require.Equal(t, []byte("hi"), c.data)
	})

	t.Run("empty payload and reply", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 2)

		called := make(chan struct{}, 1)
		nodes[1].Listen("probe", func(_ context.Context, from string, data []byte) ([]byte, error) {
			called <- struct{}{}
			if len(data) != 0 {
				return nil, fmt.Errorf("unexpected data %x", data)
			}
			return nil, nil
		})

		resp, err := nodes[0].Send(ctx, nodes[1].LocalEndpoint(), "probe", nil)
		require.NoError(t, err)
		require.Empty(t, resp)
		require.Len(t, called, 1)
	})

	t.Run("large payload", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 2)

		nodes[1].Listen("size", func(_ context.Context, _ string, data []byte) ([]byte, error) {
			return []byte(fmt.Sprint(len(data))), nil
		})

		big := bytes.Repeat([]byte{0xab}, 1<<20)
		resp, err := nodes[0].Send(ctx, nodes[1].LocalEndpoint(), "size", big)
		require.NoError(t, err)
		require.Equal(t, "1048576", string(resp))
	})

	t.Run("unknown route", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 2)

		_, err := nodes[0].Send(ctx, nodes[1].LocalEndpoint(), "nope", []byte("x"))
		require.ErrorIs(t, err, wnet.ErrNoRoute)
	})

	t.Run("handler error", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 2)

		nodes[1].Listen("fail", func(context.Context, string, []byte) ([]byte, error) {
			return nil, errors.New("refused")
		})

		_, err := nodes[0].Send(ctx, nodes[1].LocalEndpoint(), "fail", []byte("x"))
		require.ErrorIs(t, err, wnet.ErrHandler)
		require.ErrorContains(t, err, "refused")
	})

	t.Run("listen replaces and clear removes", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 2)
		dst := nodes[1].LocalEndpoint()

		reply := func(s string) wnet.Handler {
			return func(context.Context, string, []byte) ([]byte, error) {
				return []byte(s), nil
			}
		}

		nodes[1].Listen("r", reply("first"))
		nodes[1].Listen("r", reply("second"))
		nodes[1].Listen("other", reply("other"))

		resp, err := nodes[0].Send(ctx, dst, "r", nil)
		require.NoError(t, err)
		require.Equal(t, "second", string(resp))

		nodes[1].Clear()

		_, err = nodes[0].Send(ctx, dst, "r", nil)
		require.ErrorIs(t, err, wnet.ErrNoRoute)
		_, err = nodes[0].Send(ctx, dst, "other", nil)
		require.ErrorIs(t, err, wnet.ErrNoRoute)

		nodes[1].Listen("r", reply("third"))
		resp, err = nodes[0].Send(ctx, dst, "r", nil)
		require.NoError(t, err)
		require.Equal(t, "third", string(resp))
	})

	t.Run("handler relays to another node", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 3)

		nodes[2].Listen("upper", func(_ context.Context, _ string, data []byte) ([]byte, error) {
			return bytes.ToUpper(data), nil
		})
		nodes[1].Listen("relay", func(ctx context.Context, _ string, data []byte) ([]byte, error) {
			return nodes[1].Send(ctx, nodes[2].LocalEndpoint(), "upper", data)
		})

		resp, err := nodes[0].Send(ctx, nodes[1].LocalEndpoint(), "relay", []byte("abc"))
		require.NoError(t, err)
		require.Equal(t, "ABC", string(resp))
	})

	t.Run("handler calls back the sender", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 2)

		nodes[0].Listen("callback", func(_ context.Context, _ string, data []byte) ([]byte, error) {
			return append(data, '!'), nil
		})
		nodes[1].Listen("ping", func(ctx context.Context, from string, data []byte) ([]byte, error) {
			return nodes[1].Send(ctx, from, "callback", data)
		})

		resp, err := nodes[0].Send(ctx, nodes[1].LocalEndpoint(), "ping", []byte("pong"))
		require.NoError(t, err)
		require.Equal(t, "pong!", string(resp))
	})

	t.Run("concurrent sends", func(t *testing.T) {
		t.Parallel()

		ctx, nodes := newNodes(t, 3)

		var mu sync.Mutex
		seen := make(map[string]int)
		nodes[2].Listen("count", func(_ context.Context, from string, _ []byte) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			seen[from]++
			return nil, nil
		})

		const perNode = 10
		var wg sync.WaitGroup
		errs := make(chan error, 2*perNode)
		for _, src := range nodes[:2] {
			for range perNode {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := src.Send(ctx, nodes[2].LocalEndpoint(), "count", []byte("x"))
					errs <- err
				}()
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		require.Equal(t, map[string]int{
			nodes[0].LocalEndpoint(): perNode,
			nodes[1].LocalEndpoint(): perNode,
		}, seen)
	})
}
