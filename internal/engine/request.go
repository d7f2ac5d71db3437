package engine

import (
	"fmt"
	"strings"
)

// InferenceRequest is the engine-level view of one chat turn.
type InferenceRequest struct {
	// SessionID correlates logs and lifecycle events; it does not affect generation.
	SessionID   string
	Prompt      string
	MaxUnits    int
	Temperature float64
	Stop        []string
}

// Validate checks the invariants that must hold before dispatch.
func (r InferenceRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.MaxUnits <= 0 {
		return invalidRequestError{msg: fmt.Sprintf("max_tokens must be positive, got %d", r.MaxUnits)}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return invalidRequestError{msg: fmt.Sprintf("temperature must be within [0, 2], got %g", r.Temperature)}
	}
	return nil
}
