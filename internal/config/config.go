package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds runtime parameters for the server and the inference engine.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`
	Log    LogConfig    `json:"log" yaml:"log" toml:"log"`
	Model  ModelConfig  `json:"model" yaml:"model" toml:"model"`
	Engine EngineConfig `json:"engine" yaml:"engine" toml:"engine"`
	Stream StreamConfig `json:"stream" yaml:"stream" toml:"stream"`
	Batch  BatchConfig  `json:"batch" yaml:"batch" toml:"batch"`
	Filter FilterConfig `json:"filter" yaml:"filter" toml:"filter"`
}

type ServerConfig struct {
	Addr         string     `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes int64      `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORS         CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `json:"level" yaml:"level" toml:"level"`
	// Format is auto, console or json. auto picks console on a terminal.
	Format string `json:"format" yaml:"format" toml:"format"`
}

// ModelConfig names the served model. Path wins over ModelsDir + Name.
type ModelConfig struct {
	Name      string `json:"name" yaml:"name" toml:"name"`
	Path      string `json:"path" yaml:"path" toml:"path"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
}

type EngineConfig struct {
	// Mode is subprocess or binding.
	Mode      string   `json:"mode" yaml:"mode" toml:"mode"`
	Bin       string   `json:"bin" yaml:"bin" toml:"bin"`
	Threads   int      `json:"threads" yaml:"threads" toml:"threads"`
	CtxSize   int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	GPULayers int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	ExtraArgs []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	// Stderr is merge or discard.
	Stderr string `json:"stderr" yaml:"stderr" toml:"stderr"`

	DefaultMaxTokens   int     `json:"default_max_tokens" yaml:"default_max_tokens" toml:"default_max_tokens"`
	MaxTokensLimit     int     `json:"max_tokens_limit" yaml:"max_tokens_limit" toml:"max_tokens_limit"`
	DefaultTemperature float64 `json:"default_temperature" yaml:"default_temperature" toml:"default_temperature"`

	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	QueueDepth    int      `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	MaxWait       Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
}

type StreamConfig struct {
	WallTimeout    Duration `json:"wall_timeout" yaml:"wall_timeout" toml:"wall_timeout"`
	IdleTimeout    Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`
	PollInterval   Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	ReadChunkBytes int      `json:"read_chunk_bytes" yaml:"read_chunk_bytes" toml:"read_chunk_bytes"`
	KillGrace      Duration `json:"kill_grace" yaml:"kill_grace" toml:"kill_grace"`
}

type BatchConfig struct {
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// FilterConfig holds the noise signatures. A nil NoiseSubstrings keeps the
// built-in llama-cli list; an empty list disables substring matching.
type FilterConfig struct {
	NoiseSubstrings []string `json:"noise_substrings" yaml:"noise_substrings" toml:"noise_substrings"`
	FillerGlyphs    string   `json:"filler_glyphs" yaml:"filler_glyphs" toml:"filler_glyphs"`
	MinFillerRun    int      `json:"min_filler_run" yaml:"min_filler_run" toml:"min_filler_run"`
	AssistantMarker string   `json:"assistant_marker" yaml:"assistant_marker" toml:"assistant_marker"`
	UserMarker      string   `json:"user_marker" yaml:"user_marker" toml:"user_marker"`
}

// Duration is a time.Duration written as a string ("5s", "280s") in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Log-Level"},
			},
		},
		Log:   LogConfig{Level: "info", Format: "auto"},
		Model: ModelConfig{Name: "cadmonkey-1b", ModelsDir: "~/models"},
		Engine: EngineConfig{
			Mode:               "subprocess",
			Bin:                "llama-cli",
			Threads:            2,
			CtxSize:            2048,
			Stderr:             "merge",
			DefaultMaxTokens:   256,
			MaxTokensLimit:     2048,
			DefaultTemperature: 0.7,
			MaxConcurrent:      1,
			QueueDepth:         32,
			MaxWait:            Duration(30 * time.Second),
		},
		Stream: StreamConfig{
			WallTimeout:    Duration(120 * time.Second),
			IdleTimeout:    Duration(5 * time.Second),
			PollInterval:   Duration(time.Second),
			ReadChunkBytes: 4096,
			KillGrace:      Duration(5 * time.Second),
		},
		Batch: BatchConfig{Timeout: Duration(280 * time.Second)},
		Filter: FilterConfig{
			FillerGlyphs:    ">",
			MinFillerRun:    10,
			AssistantMarker: "Assistant:",
			UserMarker:      "User:",
		},
	}
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want auto, console or json", c.Log.Format))
	}
	if c.Model.Path == "" && (c.Model.ModelsDir == "" || c.Model.Name == "") {
		errs = append(errs, errors.New("model.path or model.models_dir + model.name is required"))
	}
	switch c.Engine.Mode {
	case "subprocess":
		if strings.TrimSpace(c.Engine.Bin) == "" {
			errs = append(errs, errors.New("engine.bin is required in subprocess mode"))
		}
	case "binding":
	default:
		errs = append(errs, fmt.Errorf("engine.mode %q: want subprocess or binding", c.Engine.Mode))
	}
	switch c.Engine.Stderr {
	case "merge", "discard":
	default:
		errs = append(errs, fmt.Errorf("engine.stderr %q: want merge or discard", c.Engine.Stderr))
	}
	if c.Engine.DefaultMaxTokens <= 0 || c.Engine.MaxTokensLimit <= 0 {
		errs = append(errs, errors.New("engine.default_max_tokens and engine.max_tokens_limit must be positive"))
	} else if c.Engine.DefaultMaxTokens > c.Engine.MaxTokensLimit {
		errs = append(errs, errors.New("engine.default_max_tokens exceeds engine.max_tokens_limit"))
	}
	if c.Engine.DefaultTemperature < 0 || c.Engine.DefaultTemperature > 2 {
		errs = append(errs, errors.New("engine.default_temperature must be within [0, 2]"))
	}
	if c.Engine.MaxConcurrent <= 0 || c.Engine.QueueDepth < 0 {
		errs = append(errs, errors.New("engine.max_concurrent must be positive and engine.queue_depth non-negative"))
	}
	for name, d := range map[string]Duration{
		"stream.wall_timeout":  c.Stream.WallTimeout,
		"stream.idle_timeout":  c.Stream.IdleTimeout,
		"stream.poll_interval": c.Stream.PollInterval,
		"stream.kill_grace":    c.Stream.KillGrace,
		"batch.timeout":        c.Batch.Timeout,
		"engine.max_wait":      c.Engine.MaxWait,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Stream.PollInterval > 0 && c.Stream.IdleTimeout > 0 && c.Stream.PollInterval > c.Stream.IdleTimeout {
		errs = append(errs, errors.New("stream.poll_interval must not exceed stream.idle_timeout"))
	}
	if c.Stream.ReadChunkBytes <= 0 {
		errs = append(errs, errors.New("stream.read_chunk_bytes must be positive"))
	}
	if c.Filter.AssistantMarker == "" || c.Filter.UserMarker == "" {
		errs = append(errs, errors.New("filter.assistant_marker and filter.user_marker are required"))
	}
	return errors.Join(errs...)
}
