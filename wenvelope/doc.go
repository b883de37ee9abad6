// Package wenvelope (Weak ENVELOPE) contains the signed-data envelope
// exchanged between nodes.
//
// An envelope is the triple (from, sig, data), encoded as:
//
//	byte 0        len(from) - 1
//	from          1 to 256 bytes
//	byte          len(sig), only if sig or data is non-empty
//	sig           0 to 255 bytes
//	data          the remainder of the input
//
// A message carrying only an identity (both sig and data empty)
// is therefore exactly 1+len(from) bytes long.
//
// The same encoding is reused for endpoint identities,
// where the three fields are a public key, an address, and a certificate.
package wenvelope
