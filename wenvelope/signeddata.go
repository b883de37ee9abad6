package wenvelope

import (
	"errors"
	"fmt"
)

const (
	// MaxFromSize is the largest from field that fits the one-byte length prefix.
	MaxFromSize = 256

	// MaxSigSize is the largest sig field that fits the one-byte length prefix.
	MaxSigSize = 255
)

var (
	// ErrEmptyFrom is returned by [New] when the from field is empty.
	ErrEmptyFrom = errors.New("envelope from field cannot be empty")

	// ErrFromTooLong is returned by [New] when from exceeds [MaxFromSize].
	ErrFromTooLong = errors.New("envelope from field too long")

	// ErrSigTooLong is returned by [New] when sig exceeds [MaxSigSize].
	ErrSigTooLong = errors.New("envelope sig field too long")
)

// SignedData is the envelope of a single peer message.
//
// Values created through [New] or [Decode] always have a valid From,
// so [SignedData.Encode] never fails on them.
type SignedData struct {
	// Who sent the message. Never empty.
	From []byte

	// Signature over Data. May be empty.
	Sig []byte

	// The payload. May be empty.
	Data []byte
}

// New returns a SignedData after checking the field length limits.
func New(from, sig, data []byte) (SignedData, error) {
	if len(from) == 0 {
		return SignedData{}, ErrEmptyFrom
	}
	if len(from) > MaxFromSize {
		return SignedData{}, fmt.Errorf("%w: %d > %d", ErrFromTooLong, len(from), MaxFromSize)
	}
	if len(sig) > MaxSigSize {
		return SignedData{}, fmt.Errorf("%w: %d > %d", ErrSigTooLong, len(sig), MaxSigSize)
	}

	return SignedData{From: from, Sig: sig, Data: data}, nil
}

// Encode returns the wire encoding of d.
//
// Encode panics if d violates the field limits,
// which is only possible if d was not built through [New] or [Decode].
func (d SignedData) Encode() []byte {
	return AppendEncoded(nil, d.From, d.Sig, d.Data)
}

// Decode parses the wire encoding produced by [SignedData.Encode].
// The returned fields alias b.
//
// The ok result is false when b is malformed:
// shorter than two bytes, or ending before from or sig are complete.
func Decode(b []byte) (d SignedData, ok bool) {
	if len(b) < 2 {
		return SignedData{}, false
	}

	fromLen := int(b[0]) + 1
	rest := b[1:]
	if len(rest) < fromLen {
		return SignedData{}, false
	}
	d.From = rest[:fromLen]
	rest = rest[fromLen:]

	if len(rest) == 0 {
		// Short form: identity only.
		return d, true
	}

	sigLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < sigLen {
		return SignedData{}, false
	}
	if sigLen > 0 {
		d.Sig = rest[:sigLen]
	}
	rest = rest[sigLen:]

	if len(rest) > 0 {
		d.Data = rest
	}
	return d, true
}

// AppendEncoded appends the encoding of the (from, sig, data) triple to dst.
// It panics if from is empty or too long, or if sig is too long;
// callers holding untrusted input should use [New] first.
func AppendEncoded(dst, from, sig, data []byte) []byte {
	if len(from) == 0 || len(from) > MaxFromSize {
		panic(fmt.Errorf("BUG: envelope from length %d out of range [1, %d]", len(from), MaxFromSize))
	}
	if len(sig) > MaxSigSize {
		panic(fmt.Errorf("BUG: envelope sig length %d exceeds %d", len(sig), MaxSigSize))
	}

	if dst == nil {
		dst = make([]byte, 0, 2+len(from)+len(sig)+len(data))
	}

	dst = append(dst, byte(len(from)-1))
	dst = append(dst, from...)

	if len(sig) == 0 && len(data) == 0 {
		return dst
	}

	dst = append(dst, byte(len(sig)))
	dst = append(dst, sig...)
	return append(dst, data...)
}

// EncodeTriple is the string form of the envelope encoding,
// used for endpoint identities.
// It returns an error under the same conditions as [New].
func EncodeTriple(a, b, c string) (string, error) {
	d, err := New([]byte(a), []byte(b), []byte(c))
	if err != nil {
		return "", err
	}
	return string(d.Encode()), nil
}

// DecodeTriple is the inverse of [EncodeTriple].
func DecodeTriple(s string) (a, b, c string, ok bool) {
	d, ok := Decode([]byte(s))
	if !ok {
		return "", "", "", false
	}
	return string(d.From), string(d.Sig), string(d.Data), true
}
