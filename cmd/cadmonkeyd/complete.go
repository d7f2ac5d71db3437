package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cadmonkey/internal/engine"
	"cadmonkey/pkg/types"
)

type completeFlags struct {
	message     string
	stream      bool
	maxTokens   int
	temperature float64
}

func newCompleteCmd(f *rootFlags) *cobra.Command {
	cf := &completeFlags{}
	cmd := &cobra.Command{
		Use:     "complete",
		Short:   "Run one chat turn locally and print the reply",
		Example: "  cadmonkeyd complete -m 'a cube with a hole through it'\n  cadmonkeyd complete --stream -m 'a gear with 12 teeth'",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			svc, err := newService(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			req := types.ChatRequest{Message: cf.message}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = &cf.maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &cf.temperature
			}
			return runComplete(ctx, svc, req, cf.stream, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&cf.message, "message", "m", "", "User message")
	cmd.Flags().BoolVar(&cf.stream, "stream", false, "Print fragments as they arrive")
	cmd.Flags().IntVar(&cf.maxTokens, "max-tokens", 0, "Maximum content fragments (default from config)")
	cmd.Flags().Float64Var(&cf.temperature, "temperature", 0, "Sampling temperature in [0, 2] (default from config)")
	return cmd
}

// chatter is the part of the service the complete command needs.
type chatter interface {
	Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	ChatStream(ctx context.Context, req types.ChatRequest, out engine.Emitter) (engine.StreamSummary, error)
}

func runComplete(ctx context.Context, svc chatter, req types.ChatRequest, stream bool, w io.Writer) error {
	if !stream {
		resp, err := svc.Chat(ctx, req)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, resp.Response)
		return err
	}
	var streamErr error
	sum, err := svc.ChatStream(ctx, req, engine.EmitterFunc(func(ev engine.OutputEvent) error {
		switch ev.Kind {
		case engine.EventToken:
			_, err := fmt.Fprintln(w, ev.Text)
			return err
		case engine.EventError:
			streamErr = errors.New(ev.Text)
		}
		return nil
	}))
	if err != nil {
		return err
	}
	if streamErr != nil {
		return fmt.Errorf("stream ended after %d fragments: %w", sum.Tokens, streamErr)
	}
	return nil
}
