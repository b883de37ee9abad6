// Package wcrypto (Weak CRYPTOgraphy) contains the key and certificate
// primitives used to authenticate peer traffic.
//
// Keys cross process and network boundaries only as PEM text;
// certificates and signatures are raw signature bytes.
// A certificate is a CA signature over the PEM encoding of a node public key.
package wcrypto
