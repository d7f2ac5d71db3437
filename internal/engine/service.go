package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cadmonkey/pkg/types"
)

// Engine modes.
const (
	ModeSubprocess = "subprocess"
	ModeBinding    = "binding"
)

// Request defaults applied when the client omits a field.
const (
	defaultMaxTokens      = 256
	defaultMaxTokensLimit = 2048
	defaultTemperature    = 0.7
)

// Config encapsulates all tunables for Service construction.
type Config struct {
	Mode  string
	Model types.Model

	Subprocess SubprocessConfig
	Binding    BindingConfig
	Prompt     PromptTemplate

	DefaultMaxTokens int
	MaxTokensLimit   int
	// DefaultTemperature of 0 is greedy decoding; only a negative value
	// falls back to the built-in default.
	DefaultTemperature float64

	MaxConcurrent int
	QueueDepth    int
	MaxWait       time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used for request and lifecycle logs.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithPublisher replaces the default log-backed lifecycle publisher.
func WithPublisher(p EventPublisher) Option { return func(s *Service) { s.publisher = p } }

// WithEngine overrides the engine chosen by Config.Mode.
func WithEngine(e Engine) Option { return func(s *Service) { s.eng = e } }

// Service turns chat requests into engine sessions. It holds the worker-scoped
// state (engine, admission gate, prompt template) and is safe for concurrent use.
type Service struct {
	cfg       Config
	eng       Engine
	adm       *Admission
	log       zerolog.Logger
	publisher EventPublisher
	newID     func() string
}

// New builds a Service. The engine is selected by cfg.Mode unless WithEngine is given.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = defaultMaxTokens
	}
	if cfg.MaxTokensLimit <= 0 {
		cfg.MaxTokensLimit = defaultMaxTokensLimit
	}
	if cfg.DefaultMaxTokens > cfg.MaxTokensLimit {
		cfg.DefaultMaxTokens = cfg.MaxTokensLimit
	}
	if cfg.DefaultTemperature < 0 {
		cfg.DefaultTemperature = defaultTemperature
	}
	s := &Service{
		cfg:   cfg,
		adm:   NewAdmission(cfg.MaxConcurrent, cfg.QueueDepth, cfg.MaxWait),
		log:   zerolog.Nop(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.publisher == nil {
		s.publisher = NewLogPublisher(s.log)
	}
	if s.eng != nil {
		return s, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeSubprocess:
		sc := cfg.Subprocess
		if sc.Launch.ModelPath == "" {
			sc.Launch.ModelPath = cfg.Model.Path
		}
		if sc.Filter.AssistantMarker == "" {
			sc.Filter.AssistantMarker = cfg.Prompt.AssistantMarker
		}
		if sc.Filter.UserMarker == "" {
			sc.Filter.UserMarker = cfg.Prompt.UserMarker
		}
		s.eng = NewSubprocessEngine(sc, s.log, s.publisher)
	case ModeBinding:
		bc := cfg.Binding
		if bc.ModelPath == "" {
			bc.ModelPath = cfg.Model.Path
		}
		s.eng = NewBindingEngine(bc, s.log, s.publisher)
	default:
		return nil, fmt.Errorf("unknown engine mode %q (want %s or %s)", cfg.Mode, ModeSubprocess, ModeBinding)
	}
	return s, nil
}

// Model returns the served model.
func (s *Service) Model() types.Model { return s.cfg.Model }

// EngineName returns the active engine's name.
func (s *Service) EngineName() string { return s.eng.Name() }

// Ready reports whether the engine can serve requests.
func (s *Service) Ready() error { return s.eng.Ready() }

// Close releases the engine.
func (s *Service) Close() error { return s.eng.Close() }

// Prepare validates a chat request and converts it into an engine request,
// applying defaults and clamping max_tokens to the configured limit.
func (s *Service) Prepare(req types.ChatRequest) (InferenceRequest, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return InferenceRequest{}, ErrEmptyPrompt
	}
	maxUnits := s.cfg.DefaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxUnits = *req.MaxTokens
	}
	if maxUnits > s.cfg.MaxTokensLimit {
		maxUnits = s.cfg.MaxTokensLimit
	}
	temp := s.cfg.DefaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	prompt, stop := s.cfg.Prompt.Build(msg)
	ir := InferenceRequest{
		SessionID:   s.newID(),
		Prompt:      prompt,
		MaxUnits:    maxUnits,
		Temperature: temp,
		Stop:        stop,
	}
	if err := ir.Validate(); err != nil {
		return InferenceRequest{}, err
	}
	return ir, nil
}

// Chat runs the batch path and returns the cleaned reply.
func (s *Service) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	ir, err := s.Prepare(req)
	if err != nil {
		return types.ChatResponse{}, err
	}
	release, err := s.adm.Acquire(ctx)
	if err != nil {
		return types.ChatResponse{}, err
	}
	defer release()

	start := time.Now()
	text, err := s.eng.Complete(ctx, ir)
	s.log.Info().Str("session", ir.SessionID).Str("engine", s.eng.Name()).
		Dur("dur", time.Since(start)).Bool("ok", err == nil).Msg("chat complete")
	if err != nil {
		return types.ChatResponse{}, err
	}
	return types.ChatResponse{Response: text, Message: req.Message}, nil
}

// StreamSummary describes a finished streaming session.
type StreamSummary struct {
	SessionID string
	Result    StreamResult
	Tokens    int
	// Err is the error carried by the terminal event, nil when Done was sent.
	Err error
}

// ChatStream runs the streaming path, forwarding fragments to out followed by
// exactly one terminal event. A non-nil error means the request was rejected
// before anything was emitted.
func (s *Service) ChatStream(ctx context.Context, req types.ChatRequest, out Emitter) (StreamSummary, error) {
	ir, err := s.Prepare(req)
	if err != nil {
		return StreamSummary{}, err
	}
	release, err := s.adm.Acquire(ctx)
	if err != nil {
		return StreamSummary{}, err
	}
	defer release()

	es := NewEventStream(out)
	res, serr := s.eng.Stream(ctx, ir, es.Token)
	if ferr := es.Finish(serr); ferr != nil && ctx.Err() == nil {
		s.log.Debug().Err(ferr).Str("session", ir.SessionID).Msg("terminal event not delivered")
	}
	sum := StreamSummary{SessionID: ir.SessionID, Result: res, Tokens: es.Tokens(), Err: serr}
	ev := s.log.Info()
	if serr != nil && res.Reason != ReasonCanceled {
		ev = s.log.Warn().Err(serr)
	}
	ev.Str("session", ir.SessionID).Str("engine", s.eng.Name()).Int("pid", res.PID).
		Str("reason", string(res.Reason)).Int("units", res.Units).Dur("dur", res.Duration).
		Msg("stream_terminated")
	return sum, nil
}
