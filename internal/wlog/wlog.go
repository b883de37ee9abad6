// Package wlog holds small helpers for structured log values.
package wlog

import (
	"encoding/hex"
	"log/slog"
	"strconv"
)

// MaxPayloadLog is the number of payload bytes [Abbrev] keeps.
const MaxPayloadLog = 48

// Abbrev returns a log value for a payload that may be large or binary.
// Printable payloads are quoted, others are hex encoded,
// and anything past MaxPayloadLog bytes is replaced by a length note.
func Abbrev(b []byte) slog.Value {
	return slog.AnyValue(abbrev(b))
}

type abbrev []byte

func (a abbrev) LogValue() slog.Value {
	b := []byte(a)
	suffix := ""
	if len(b) > MaxPayloadLog {
		suffix = "...(" + strconv.Itoa(len(b)) + " bytes)"
		b = b[:MaxPayloadLog]
	}

	if isPrintable(b) {
		return slog.StringValue(strconv.Quote(string(b)) + suffix)
	}
	return slog.StringValue("0x" + hex.EncodeToString(b) + suffix)
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
