//go:build !llama

package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// llamaBuilt is false in binaries built without the 'llama' tag.
var llamaBuilt = false

const bindingUnavailable = "llama bindings not built (missing 'llama' build tag)"

// BindingEngine is a stub that satisfies Engine but refuses to run inference
// without the 'llama' build tag. Default builds stay CGO-free.
type BindingEngine struct {
	cfg BindingConfig
}

func NewBindingEngine(cfg BindingConfig, _ zerolog.Logger, _ EventPublisher) *BindingEngine {
	cfg.applyDefaults()
	return &BindingEngine{cfg: cfg}
}

func (e *BindingEngine) Name() string { return "binding" }

func (e *BindingEngine) Load() error { return ErrDependencyUnavailable(bindingUnavailable) }

func (e *BindingEngine) Ready() error { return ErrDependencyUnavailable(bindingUnavailable) }

func (e *BindingEngine) Complete(ctx context.Context, _ InferenceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrDependencyUnavailable(bindingUnavailable)
}

func (e *BindingEngine) Stream(ctx context.Context, _ InferenceRequest, _ TokenSink) (StreamResult, error) {
	if err := ctx.Err(); err != nil {
		return StreamResult{}, err
	}
	return StreamResult{}, ErrDependencyUnavailable(bindingUnavailable)
}

func (e *BindingEngine) Close() error { return nil }
