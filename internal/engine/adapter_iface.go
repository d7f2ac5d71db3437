package engine

import (
	"context"
	"time"
)

// Engine abstracts the inference runtime: a command-line binary driven per
// request, or a model loaded in-process through bindings.
type Engine interface {
	// Name identifies the engine in logs and /readyz.
	Name() string
	// Ready returns nil once the engine can serve requests.
	Ready() error
	// Complete runs one request to completion and returns the cleaned reply.
	Complete(ctx context.Context, req InferenceRequest) (string, error)
	// Stream forwards content fragments to sink as they are produced. It
	// returns when generation ends, a limit fires, sink fails or ctx is done;
	// the returned error is the one the terminal event should carry.
	Stream(ctx context.Context, req InferenceRequest, sink TokenSink) (StreamResult, error)
	// Close releases worker-scoped resources.
	Close() error
}

// TokenSink receives content fragments in generation order.
type TokenSink func(text string) error

// StreamResult summarizes a finished stream session.
type StreamResult struct {
	Reason   StopReason
	Units    int
	PID      int
	Killed   bool
	Duration time.Duration
}
