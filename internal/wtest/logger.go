// Package wtest contains helpers shared by tests across the module.
package wtest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a debug-level logger that writes through t.Log,
// so output is attributed to the test that produced it
// and is only shown for failing or verbose runs.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t, slogt.Text())
}
