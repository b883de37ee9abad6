// Package wchan holds channel helpers for talking to kernel goroutines.
package wchan

import (
	"context"
	"log/slog"
)

// ReqResp sends req on requests and then waits for a value on responses.
// The ok result is false if ctx is canceled at either step;
// description is included in the log line in that case.
func ReqResp[T, U any](
	ctx context.Context,
	log *slog.Logger,
	requests chan<- T, req T,
	responses <-chan U,
	description string,
) (U, bool) {
	var zero U

	select {
	case <-ctx.Done():
		log.Info(
			"Context canceled while making request",
			"description", description,
			"cause", context.Cause(ctx),
		)
		return zero, false
	case requests <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		log.Info(
			"Context canceled while awaiting response",
			"description", description,
			"cause", context.Cause(ctx),
		)
		return zero, false
	case resp := <-responses:
		return resp, true
	}
}

// SendC sends v on ch, returning false if ctx is canceled first.
func SendC[T any](ctx context.Context, log *slog.Logger, ch chan<- T, v T, description string) bool {
	select {
	case <-ctx.Done():
		log.Info(
			"Context canceled while sending",
			"description", description,
			"cause", context.Cause(ctx),
		)
		return false
	case ch <- v:
		return true
	}
}
