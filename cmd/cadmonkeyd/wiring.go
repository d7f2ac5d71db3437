package main

import (
	"github.com/rs/zerolog"

	"cadmonkey/internal/config"
	"cadmonkey/internal/engine"
	"cadmonkey/internal/registry"
)

func engineBindingAvailable() bool { return engine.BindingAvailable() }

// buildEngineConfig translates the file configuration into engine settings.
func buildEngineConfig(cfg config.Config) engine.Config {
	noise := cfg.Filter.NoiseSubstrings
	if noise == nil {
		noise = engine.DefaultNoiseSubstrings()
	}
	prompt := engine.PromptTemplate{
		UserMarker:      cfg.Filter.UserMarker,
		AssistantMarker: cfg.Filter.AssistantMarker,
	}
	return engine.Config{
		Mode:   cfg.Engine.Mode,
		Prompt: prompt,
		Subprocess: engine.SubprocessConfig{
			Launch: engine.LaunchConfig{
				Bin:       cfg.Engine.Bin,
				Threads:   cfg.Engine.Threads,
				CtxSize:   cfg.Engine.CtxSize,
				GPULayers: cfg.Engine.GPULayers,
				ExtraArgs: cfg.Engine.ExtraArgs,
				Stderr:    engine.StderrPolicy(cfg.Engine.Stderr),
			},
			Filter: engine.FilterConfig{
				NoiseSubstrings: noise,
				FillerGlyphs:    cfg.Filter.FillerGlyphs,
				MinFillerRun:    cfg.Filter.MinFillerRun,
				AssistantMarker: cfg.Filter.AssistantMarker,
				UserMarker:      cfg.Filter.UserMarker,
			},
			StreamWall:   cfg.Stream.WallTimeout.Std(),
			IdleTimeout:  cfg.Stream.IdleTimeout.Std(),
			PollInterval: cfg.Stream.PollInterval.Std(),
			ChunkBytes:   cfg.Stream.ReadChunkBytes,
			KillGrace:    cfg.Stream.KillGrace.Std(),
			BatchTimeout: cfg.Batch.Timeout.Std(),
		},
		Binding: engine.BindingConfig{
			CtxSize:      cfg.Engine.CtxSize,
			Threads:      cfg.Engine.Threads,
			GPULayers:    cfg.Engine.GPULayers,
			StreamWall:   cfg.Stream.WallTimeout.Std(),
			BatchTimeout: cfg.Batch.Timeout.Std(),
		},
		DefaultMaxTokens:   cfg.Engine.DefaultMaxTokens,
		MaxTokensLimit:     cfg.Engine.MaxTokensLimit,
		DefaultTemperature: cfg.Engine.DefaultTemperature,
		MaxConcurrent:      cfg.Engine.MaxConcurrent,
		QueueDepth:         cfg.Engine.QueueDepth,
		MaxWait:            cfg.Engine.MaxWait.Std(),
	}
}

// newService resolves the model and builds the chat service.
func newService(cfg config.Config, log zerolog.Logger) (*engine.Service, error) {
	model, err := registry.Resolve(cfg.Model.Name, cfg.Model.Path, cfg.Model.ModelsDir)
	if err != nil {
		return nil, err
	}
	ec := buildEngineConfig(cfg)
	ec.Model = model
	return engine.New(ec, engine.WithLogger(log))
}
