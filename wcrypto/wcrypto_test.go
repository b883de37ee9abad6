package wcrypto_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weakchain/weak/wcrypto"
	"github.com/weakchain/weak/wcrypto/wcryptotest"
)

func TestPEM_RoundTrip(t *testing.T) {
	t.Parallel()

	s, err := wcrypto.GenerateEd25519Signer()
	require.NoError(t, err)

	skPEM, err := wcrypto.MarshalPrivateKeyPEM(s.PrivateKey())
	require.NoError(t, err)
	require.Contains(t, skPEM, "BEGIN PRIVATE KEY")

	s2, err := wcrypto.ParsePrivateKeyPEM([]byte(skPEM))
	require.NoError(t, err)
	require.True(t, s.PubKey().Equal(s2.PubKey()))

	pub, err := wcrypto.ParsePublicKeyPEM([]byte(s.PubKey().PEM()))
	require.NoError(t, err)
	require.True(t, pub.Equal(s.PubKey()))
}

func TestPEM_errors(t *testing.T) {
	t.Parallel()

	_, err := wcrypto.ParsePublicKeyPEM([]byte("not pem"))
	require.ErrorIs(t, err, wcrypto.ErrNoPEMBlock)

	_, err = wcrypto.ParsePrivateKeyPEM([]byte("not pem"))
	require.ErrorIs(t, err, wcrypto.ErrNoPEMBlock)

	s := wcryptotest.DeterministicEd25519Signers(1)[0]

	// A public key where a private key is expected, and vice versa.
	_, err = wcrypto.ParsePrivateKeyPEM([]byte(s.PubKey().PEM()))
	require.Error(t, err)

	skPEM, err := wcrypto.MarshalPrivateKeyPEM(s.PrivateKey())
	require.NoError(t, err)
	_, err = wcrypto.ParsePublicKeyPEM([]byte(skPEM))
	require.Error(t, err)
}

func TestEd25519_SignVerify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signers := wcryptotest.DeterministicEd25519Signers(2)

	msg := []byte("hello")
	sig, err := signers[0].Sign(ctx, msg)
	require.NoError(t, err)

	require.True(t, signers[0].PubKey().Verify(msg, sig))
	require.False(t, signers[1].PubKey().Verify(msg, sig))
	require.False(t, signers[0].PubKey().Verify([]byte("hellO"), sig))

	require.False(t, signers[0].PubKey().Equal(signers[1].PubKey()))
}

func TestNewEd25519PubKey(t *testing.T) {
	t.Parallel()

	_, err := wcrypto.NewEd25519PubKey([]byte("short"))
	require.Error(t, err)

	s := wcryptotest.DeterministicEd25519Signers(1)[0]
	pub, err := wcrypto.NewEd25519PubKey(s.PubKey().PubKeyBytes())
	require.NoError(t, err)
	require.Len(t, pub.PubKeyBytes(), ed25519.PublicKeySize)
	require.True(t, pub.Equal(s.PubKey()))

	// Malformed keys fail verification instead of panicking.
	require.False(t, wcrypto.Ed25519PubKey([]byte{1, 2}).Verify([]byte("m"), []byte("s")))
}

func TestCertificate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signers := wcryptotest.DeterministicEd25519Signers(3)
	ca, node, other := signers[0], signers[1], signers[2]

	cert, err := wcrypto.Certify(ctx, ca, node.PubKey().PEM())
	require.NoError(t, err)

	require.True(t, wcrypto.VerifyCert(ca.PubKey(), node.PubKey().PEM(), cert))

	// Certificate bound to a different key.
	require.False(t, wcrypto.VerifyCert(ca.PubKey(), other.PubKey().PEM(), cert))

	// Issued by someone else.
	require.False(t, wcrypto.VerifyCert(other.PubKey(), node.PubKey().PEM(), cert))

	require.False(t, wcrypto.VerifyCert(ca.PubKey(), node.PubKey().PEM(), nil))
}

func TestDeterministicEd25519Signers_stable(t *testing.T) {
	t.Parallel()

	a := wcryptotest.DeterministicEd25519Signers(3)
	b := wcryptotest.DeterministicEd25519Signers(2)

	require.True(t, a[0].PubKey().Equal(b[0].PubKey()))
	require.True(t, a[1].PubKey().Equal(b[1].PubKey()))
	require.False(t, a[0].PubKey().Equal(a[1].PubKey()))
}
