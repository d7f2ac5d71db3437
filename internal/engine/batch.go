package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Complete runs the engine to completion under the batch deadline and returns
// the cleaned reply. A timeout returns ErrBatchTimeout and no partial output.
func (e *SubprocessEngine) Complete(ctx context.Context, req InferenceRequest) (text string, err error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	h, err := e.start(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if derr := e.release(req, h); derr != nil && err == nil {
			text, err = "", derr
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, e.cfg.BatchTimeout)
	defer cancel()
	reader := NewReader(h.Stdout(), NewStreamClock(e.now()), e.cfg.PollInterval, e.cfg.ChunkBytes)
	reader.now = e.now
	stop := context.AfterFunc(dctx, reader.Interrupt)
	defer stop()

	var lines []string
	for {
		if cerr := dctx.Err(); cerr != nil {
			if ctx.Err() == nil && errors.Is(cerr, context.DeadlineExceeded) {
				return "", ErrBatchTimeout
			}
			return "", ctx.Err()
		}
		got, eof, rerr := reader.Poll()
		lines = append(lines, got...)
		if rerr != nil {
			return "", fmt.Errorf("read engine output: %w", rerr)
		}
		if eof {
			if tail, ok := reader.Finish(); ok {
				lines = append(lines, tail)
			}
			break
		}
	}

	if exited, exitErr := h.WaitExit(e.cfg.KillGrace); exited && exitErr != nil {
		return "", exitFailure(exitErr, lastNonBlank(lines))
	}
	return e.filter.CleanTranscript(lines, req.Stop), nil
}

func lastNonBlank(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
