package engine

import "time"

// BindingConfig configures the in-process engine. The model is loaded once
// per worker and shared read-only by every request.
type BindingConfig struct {
	ModelPath  string
	CtxSize    int
	Threads    int
	GPULayers  int
	StreamWall time.Duration
	// BatchTimeout bounds Complete.
	BatchTimeout time.Duration
}

func (c *BindingConfig) applyDefaults() {
	if c.CtxSize <= 0 {
		c.CtxSize = 2048
	}
	if c.Threads <= 0 {
		c.Threads = 2
	}
	if c.StreamWall <= 0 {
		c.StreamWall = defaultStreamWall
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
}

// BindingAvailable reports whether the binary was built with in-process llama support.
func BindingAvailable() bool { return llamaBuilt }
