package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cadmonkey/internal/common/fsutil"
)

// Defaults applied when the corresponding SubprocessConfig fields are unset.
const (
	defaultStreamWall   = 120 * time.Second
	defaultIdleTimeout  = 5 * time.Second
	defaultKillGrace    = 5 * time.Second
	defaultBatchTimeout = 280 * time.Second
)

// SubprocessConfig configures the command-line engine.
type SubprocessConfig struct {
	Launch LaunchConfig
	Filter FilterConfig

	StreamWall   time.Duration
	IdleTimeout  time.Duration
	PollInterval time.Duration
	ChunkBytes   int
	KillGrace    time.Duration
	BatchTimeout time.Duration
}

func (c *SubprocessConfig) applyDefaults() {
	if c.StreamWall <= 0 {
		c.StreamWall = defaultStreamWall
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = defaultChunkBytes
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
}

// SubprocessEngine runs one inference process per request.
type SubprocessEngine struct {
	cfg       SubprocessConfig
	launcher  *Launcher
	filter    *Filter
	log       zerolog.Logger
	publisher EventPublisher
	now       func() time.Time
}

// NewSubprocessEngine builds the engine. A nil publisher drops events.
func NewSubprocessEngine(cfg SubprocessConfig, log zerolog.Logger, pub EventPublisher) *SubprocessEngine {
	cfg.applyDefaults()
	if pub == nil {
		pub = noopPublisher{}
	}
	return &SubprocessEngine{
		cfg:       cfg,
		launcher:  NewLauncher(cfg.Launch),
		filter:    NewFilter(cfg.Filter),
		log:       log,
		publisher: pub,
		now:       time.Now,
	}
}

func (e *SubprocessEngine) Name() string { return "subprocess" }

// Ready checks that the binary resolves and the model file exists.
func (e *SubprocessEngine) Ready() error {
	if _, err := fsutil.ResolveExecutable(e.cfg.Launch.Bin); err != nil {
		return ErrDependencyUnavailable(fmt.Sprintf("engine binary unavailable: %v", err))
	}
	if !fsutil.FileExists(e.cfg.Launch.ModelPath) {
		return ErrDependencyUnavailable("model file not found: " + e.cfg.Launch.ModelPath)
	}
	return nil
}

func (e *SubprocessEngine) Close() error { return nil }

// start launches the subprocess and accounts for it.
func (e *SubprocessEngine) start(req InferenceRequest) (*ProcessHandle, error) {
	h, err := e.launcher.Launch(req)
	if err != nil {
		launchFailures.Inc()
		e.publisher.Publish(Event{Name: "launch_failed", SessionID: req.SessionID, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}
	processesActive.Inc()
	e.publisher.Publish(Event{Name: "spawn_start", SessionID: req.SessionID, Fields: map[string]any{"pid": h.PID(), "bin": e.cfg.Launch.Bin}})
	return h, nil
}

// release destroys h. It is the single exit point for every subprocess.
func (e *SubprocessEngine) release(req InferenceRequest, h *ProcessHandle) error {
	err := h.Destroy(e.cfg.KillGrace)
	processesActive.Dec()
	switch {
	case err != nil:
		hungProcesses.Inc()
		e.publisher.Publish(Event{Name: "spawn_hung", SessionID: req.SessionID, Fields: map[string]any{"pid": h.PID()}})
	case h.Killed():
		e.publisher.Publish(Event{Name: "spawn_kill", SessionID: req.SessionID, Fields: map[string]any{"pid": h.PID()}})
	default:
		e.publisher.Publish(Event{Name: "spawn_exit", SessionID: req.SessionID, Fields: map[string]any{"pid": h.PID()}})
	}
	return err
}
