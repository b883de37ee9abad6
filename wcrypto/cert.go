package wcrypto

import (
	"context"
	"fmt"
)

// Certify issues a certificate for the public key whose PEM text is pubPEM.
// The certificate is the CA's signature over pubPEM.
func Certify(ctx context.Context, ca Signer, pubPEM string) ([]byte, error) {
	cert, err := ca.Sign(ctx, []byte(pubPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	return cert, nil
}

// VerifyCert reports whether cert is a certificate issued by ca over pubPEM.
// An empty certificate never verifies.
func VerifyCert(ca PubKey, pubPEM string, cert []byte) bool {
	if len(cert) == 0 {
		return false
	}
	return ca.Verify([]byte(pubPEM), cert)
}
