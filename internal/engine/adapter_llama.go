//go:build llama

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// BindingEngine runs the model in-process through go-llama.cpp.
type BindingEngine struct {
	cfg       BindingConfig
	log       zerolog.Logger
	publisher EventPublisher

	once    sync.Once
	model   *llama.LLama
	loadErr error

	// The token callback and KV cache belong to the model; one prediction at a time.
	mu sync.Mutex
}

// NewBindingEngine returns an engine whose model is loaded on the first Load or Ready call.
func NewBindingEngine(cfg BindingConfig, log zerolog.Logger, pub EventPublisher) *BindingEngine {
	cfg.applyDefaults()
	if pub == nil {
		pub = noopPublisher{}
	}
	return &BindingEngine{cfg: cfg, log: log, publisher: pub}
}

func (e *BindingEngine) Name() string { return "binding" }

// Load loads the model exactly once; concurrent callers wait for the first.
func (e *BindingEngine) Load() error {
	e.once.Do(func() {
		if strings.TrimSpace(e.cfg.ModelPath) == "" {
			e.loadErr = errors.New("model path is empty")
			return
		}
		start := time.Now()
		opts := []llama.ModelOption{llama.SetContext(e.cfg.CtxSize)}
		if e.cfg.GPULayers != 0 {
			opts = append(opts, llama.SetGPULayers(e.cfg.GPULayers))
		}
		e.model, e.loadErr = llama.New(e.cfg.ModelPath, opts...)
		e.publisher.Publish(Event{Name: "model_load", Fields: map[string]any{
			"path": e.cfg.ModelPath, "dur_ms": time.Since(start).Milliseconds(), "ok": e.loadErr == nil,
		}})
	})
	return e.loadErr
}

func (e *BindingEngine) Ready() error {
	if err := e.Load(); err != nil {
		return ErrDependencyUnavailable(fmt.Sprintf("load model: %v", err))
	}
	return nil
}

func (e *BindingEngine) Complete(ctx context.Context, req InferenceRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := e.Ready(); err != nil {
		return "", err
	}
	dctx, cancel := context.WithTimeout(ctx, e.cfg.BatchTimeout)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.model.SetTokenCallback(func(string) bool { return dctx.Err() == nil })
	text, err := e.model.Predict(req.Prompt, e.predictOptions(req)...)
	if dctx.Err() != nil {
		if ctx.Err() == nil {
			return "", ErrBatchTimeout
		}
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	if i := indexAny(text, req.Stop); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text), nil
}

func (e *BindingEngine) Stream(ctx context.Context, req InferenceRequest, sink TokenSink) (StreamResult, error) {
	if err := req.Validate(); err != nil {
		return StreamResult{}, err
	}
	if err := e.Ready(); err != nil {
		return StreamResult{}, err
	}
	started := time.Now()
	dctx, cancel := context.WithTimeout(ctx, e.cfg.StreamWall)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		units   int
		sinkErr error
	)
	e.model.SetTokenCallback(func(tok string) bool {
		if dctx.Err() != nil {
			return false
		}
		if tok == "" {
			return true
		}
		if err := sink(tok); err != nil {
			sinkErr = err
			return false
		}
		units++
		tokensEmitted.Inc()
		return units < req.MaxUnits
	})
	_, err := e.model.Predict(req.Prompt, e.predictOptions(req)...)

	res := StreamResult{Reason: ReasonEOF, Units: units, Duration: time.Since(started)}
	switch {
	case sinkErr != nil:
		res.Reason, err = ReasonEmitError, fmt.Errorf("emit: %w", sinkErr)
	case ctx.Err() != nil:
		res.Reason, err = ReasonCanceled, ctx.Err()
	case dctx.Err() != nil:
		res.Reason, err = ReasonWallTimeout, ErrWallTimeout
	case units >= req.MaxUnits:
		res.Reason, err = ReasonUnitCap, nil
	}
	streamTerminations.WithLabelValues(string(res.Reason)).Inc()
	e.publisher.Publish(Event{Name: "stream_end", SessionID: req.SessionID, Fields: map[string]any{
		"reason": string(res.Reason), "units": units, "dur_ms": res.Duration.Milliseconds(),
	}})
	return res, err
}

func (e *BindingEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

// predictOptions converts a request into go-llama.cpp options.
func (e *BindingEngine) predictOptions(req InferenceRequest) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(req.MaxUnits),
		llama.SetThreads(e.cfg.Threads),
		llama.SetTemperature(float32(req.Temperature)),
		llama.SetTopP(llama.DefaultOptions.TopP),
		llama.SetTopK(llama.DefaultOptions.TopK),
		llama.SetPenalty(llama.DefaultOptions.Penalty),
	}
	if len(req.Stop) > 0 {
		po = append(po, llama.SetStopWords(req.Stop...))
	}
	return po
}
