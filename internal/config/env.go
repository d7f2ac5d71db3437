package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CADMONKEY_"

// ApplyEnv overlays CADMONKEY_* environment variables on cfg. Unset variables
// leave the current value alone; malformed numbers and durations are errors.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := get(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *Duration) error {
		v, ok := get(key)
		if !ok || v == "" {
			return nil
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		return nil
	}

	str("ADDR", &cfg.Server.Addr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("MODEL_NAME", &cfg.Model.Name)
	str("MODEL_PATH", &cfg.Model.Path)
	str("MODELS_DIR", &cfg.Model.ModelsDir)
	str("ENGINE_MODE", &cfg.Engine.Mode)
	str("ENGINE_BIN", &cfg.Engine.Bin)
	str("ENGINE_STDERR", &cfg.Engine.Stderr)
	if v, ok := get("ENGINE_EXTRA_ARGS"); ok {
		cfg.Engine.ExtraArgs = strings.Fields(v)
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		cfg.Server.CORS.AllowedOrigins = SplitCSV(v)
		cfg.Server.CORS.Enabled = len(cfg.Server.CORS.AllowedOrigins) > 0
	}
	if v, ok := get("TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sTEMPERATURE: %w", EnvPrefix, err)
		}
		cfg.Engine.DefaultTemperature = f
	}
	for key, dst := range map[string]*int{
		"THREADS":          &cfg.Engine.Threads,
		"CTX_SIZE":         &cfg.Engine.CtxSize,
		"GPU_LAYERS":       &cfg.Engine.GPULayers,
		"MAX_TOKENS":       &cfg.Engine.DefaultMaxTokens,
		"MAX_TOKENS_LIMIT": &cfg.Engine.MaxTokensLimit,
		"MAX_CONCURRENT":   &cfg.Engine.MaxConcurrent,
		"QUEUE_DEPTH":      &cfg.Engine.QueueDepth,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*Duration{
		"MAX_WAIT":            &cfg.Engine.MaxWait,
		"STREAM_WALL_TIMEOUT": &cfg.Stream.WallTimeout,
		"STREAM_IDLE_TIMEOUT": &cfg.Stream.IdleTimeout,
		"BATCH_TIMEOUT":       &cfg.Batch.Timeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empty items.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
