package wnettest_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weakchain/weak/internal/wtest"
	"github.com/weakchain/weak/wauth"
	"github.com/weakchain/weak/wcrypto"
	"github.com/weakchain/weak/wcrypto/wcryptotest"
	"github.com/weakchain/weak/wnet"
	"github.com/weakchain/weak/wnet/wnettest"
)

func TestHub_Compliance(t *testing.T) {
	t.Parallel()

	wnettest.TestNetworkCompliance(
		t,
		func(t *testing.T, _ context.Context, n int) ([]wnet.Network, error) {
			h := wnettest.NewHub()
			out := make([]wnet.Network, n)
			for i := range out {
				node, err := h.NewMockNode(fmt.Sprintf("node-%d:7777", i))
				if err != nil {
					return nil, err
				}
				out[i] = node
			}
			return out, nil
		},
	)
}

func TestHub_Compliance_crypto(t *testing.T) {
	t.Parallel()

	wnettest.TestNetworkCompliance(
		t,
		func(t *testing.T, _ context.Context, n int) ([]wnet.Network, error) {
			signers := wcryptotest.DeterministicEd25519Signers(n + 1)
			ca := signers[n]
			caPEM := []byte(ca.PubKey().PEM())

			h := wnettest.NewHub()
			out := make([]wnet.Network, n)
			for i := range out {
				m, err := newCertifiedManager(t, ca, caPEM, signers[i], fmt.Sprintf("n%d:1", i))
				if err != nil {
					return nil, err
				}
				node, err := h.NewNode(m)
				if err != nil {
					return nil, err
				}
				out[i] = node
			}
			return out, nil
		},
	)
}

func newCertifiedManager(
	t *testing.T, ca wcrypto.Signer, caPEM []byte, s wcrypto.Ed25519Signer, addr string,
) (*wauth.CryptoManager, error) {
	cert, err := wcrypto.Certify(context.Background(), ca, s.PubKey().PEM())
	if err != nil {
		return nil, err
	}
	sk, err := wcrypto.MarshalPrivateKeyPEM(s.PrivateKey())
	if err != nil {
		return nil, err
	}
	return wauth.NewCryptoManager(wtest.NewLogger(t), wauth.CryptoConfig{
		SecretKeyPEM: []byte(sk),
		Address:      addr,
		Cert:         cert,
		CAPubKeyPEM:  caPEM,
	})
}

func TestHub_duplicateEndpoint(t *testing.T) {
	t.Parallel()

	h := wnettest.NewHub()
	_, err := h.NewMockNode("a:1")
	require.NoError(t, err)

	_, err = h.NewMockNode("a:1")
	require.Error(t, err)
}

func TestHub_removedNode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	h := wnettest.NewHub()
	a, err := h.NewMockNode("a:1")
	require.NoError(t, err)
	b, err := h.NewMockNode("b:1")
	require.NoError(t, err)

	b.Listen("r", func(context.Context, string, []byte) ([]byte, error) {
		return []byte("ok"), nil
	})

	_, err = a.Send(ctx, b.LocalEndpoint(), "r", nil)
	require.NoError(t, err)

	h.Remove(b.LocalEndpoint())
	_, err = a.Send(ctx, b.LocalEndpoint(), "r", nil)
	require.ErrorIs(t, err, wnet.ErrUnknownEndpoint)

	// Hubs are isolated from each other.
	other := wnettest.NewHub()
	c, err := other.NewMockNode("c:1")
	require.NoError(t, err)
	_, err = c.Send(ctx, a.LocalEndpoint(), "r", nil)
	require.ErrorIs(t, err, wnet.ErrUnknownEndpoint)
}

func TestHub_rejectsUntrustedSender(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signers := wcryptotest.DeterministicEd25519Signers(3)
	ca := signers[2]

	h := wnettest.NewHub()

	m, err := newCertifiedManager(t, ca, []byte(ca.PubKey().PEM()), signers[0], "secure:1")
	require.NoError(t, err)
	secure, err := h.NewNode(m)
	require.NoError(t, err)

	called := false
	secure.Listen("r", func(context.Context, string, []byte) ([]byte, error) {
		called = true
		return nil, nil
	})

	mock, err := h.NewMockNode("mock:1")
	require.NoError(t, err)

	_, err = mock.Send(ctx, secure.LocalEndpoint(), "r", []byte("x"))
	require.ErrorIs(t, err, wnet.ErrRejected)
	require.False(t, called)
}

func TestHub_canceledContext(t *testing.T) {
	t.Parallel()

	h := wnettest.NewHub()
	a, err := h.NewMockNode("a:1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Send(ctx, a.LocalEndpoint(), "r", nil)
	require.ErrorIs(t, err, context.Canceled)
}
