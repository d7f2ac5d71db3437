package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeEmit
	outcomeTerminate
)

// outcome is what one output line means for the session.
type outcome struct {
	kind   outcomeKind
	text   string
	reason StopReason
	err    error
}

func terminate(reason StopReason, err error) outcome {
	return outcome{kind: outcomeTerminate, reason: reason, err: err}
}

// streamSession is the per-request state of the subprocess bridge. All of it
// is touched only by the goroutine running Stream.
type streamSession struct {
	req    InferenceRequest
	reader *Reader
	clock  *StreamClock
	sup    *Supervisor
	filter *Filter
	sink   TokenSink
	now    func() time.Time

	// lastLine is the most recent non-blank output line, quoted when the
	// engine exits with an error.
	lastLine string
}

// Stream launches the engine and forwards cleaned lines to sink until the
// output ends or the supervisor fires. The subprocess is destroyed before
// Stream returns, on every path.
func (e *SubprocessEngine) Stream(ctx context.Context, req InferenceRequest, sink TokenSink) (res StreamResult, err error) {
	if err := req.Validate(); err != nil {
		return StreamResult{}, err
	}
	started := e.now()
	h, err := e.start(req)
	if err != nil {
		return StreamResult{Duration: e.now().Sub(started)}, err
	}
	clock := NewStreamClock(started)
	s := &streamSession{
		req:    req,
		reader: NewReader(h.Stdout(), clock, e.cfg.PollInterval, e.cfg.ChunkBytes),
		clock:  clock,
		sup:    NewSupervisor(Limits{Wall: e.cfg.StreamWall, Idle: e.cfg.IdleTimeout, MaxUnits: req.MaxUnits}, clock),
		filter: e.filter,
		sink:   sink,
		now:    e.now,
	}
	s.reader.now = e.now

	reason, err := s.run(ctx)
	if reason == ReasonEOF {
		if err = e.checkExit(h, s.lastLine); err != nil {
			reason = ReasonEngineFailed
		}
	}
	if derr := e.release(req, h); derr != nil {
		if err != nil {
			err = fmt.Errorf("%w: %w", derr, err)
		} else {
			err = derr
		}
	}
	_, _, units := clock.Snapshot()
	res = StreamResult{Reason: reason, Units: units, PID: h.PID(), Killed: h.Killed(), Duration: e.now().Sub(started)}
	streamTerminations.WithLabelValues(string(reason)).Inc()
	e.publisher.Publish(Event{Name: "stream_end", SessionID: req.SessionID, Fields: map[string]any{
		"pid": res.PID, "reason": string(reason), "units": units, "dur_ms": res.Duration.Milliseconds(),
	}})
	return res, err
}

// checkExit reaps a process whose output ended. A non-zero exit is a failure
// even when content was already forwarded.
func (e *SubprocessEngine) checkExit(h *ProcessHandle, lastLine string) error {
	exited, exitErr := h.WaitExit(e.cfg.KillGrace)
	if !exited || exitErr == nil {
		return nil
	}
	return exitFailure(exitErr, lastLine)
}

const maxExitTail = 256

// exitFailure describes a failed exit, quoting the tail of the last output
// line. With merged stderr that is usually the engine's own error message.
func exitFailure(exitErr error, lastLine string) error {
	tail := strings.TrimSpace(lastLine)
	if tail == "" {
		return fmt.Errorf("engine exited with error: %w", exitErr)
	}
	if len(tail) > maxExitTail {
		tail = strings.ToValidUTF8(tail[len(tail)-maxExitTail:], "")
	}
	return fmt.Errorf("engine exited with error: %w: %s", exitErr, tail)
}

// run is the polling loop: one bounded read, then the clocks, until a
// terminal outcome.
func (s *streamSession) run(ctx context.Context) (StopReason, error) {
	stop := context.AfterFunc(ctx, s.reader.Interrupt)
	defer stop()
	for {
		if err := ctx.Err(); err != nil {
			s.sup.Trip(ReasonCanceled)
			return ReasonCanceled, err
		}
		if reason, fired := s.sup.Check(s.now()); fired {
			return reason, reason.Err()
		}
		lines, eof, err := s.reader.Poll()
		for _, line := range lines {
			if o := s.step(line); o.kind == outcomeTerminate {
				return o.reason, o.err
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ReasonCanceled, ctx.Err()
			}
			s.sup.Trip(ReasonReadError)
			return ReasonReadError, fmt.Errorf("read engine output: %w", err)
		}
		if eof {
			if tail, ok := s.reader.Finish(); ok {
				if o := s.step(tail); o.kind == outcomeTerminate {
					return o.reason, o.err
				}
			}
			return ReasonEOF, nil
		}
	}
}

// classify turns a completed line into an outcome without side effects.
func (s *streamSession) classify(line string) outcome {
	// The echoed prompt arrives as a user turn before any content.
	if _, _, units := s.clock.Snapshot(); units == 0 && s.filter.IsNoise(line) {
		if strings.TrimSpace(line) != "" {
			linesDropped.Inc()
		}
		return outcome{kind: outcomeContinue}
	}
	if i := indexAny(line, s.req.Stop); i >= 0 {
		o := terminate(ReasonStopSequence, nil)
		if text, ok := s.filter.Apply(line[:i]); ok {
			o.text = text
		}
		return o
	}
	text, ok := s.filter.Apply(line)
	if !ok {
		if strings.TrimSpace(line) != "" {
			linesDropped.Inc()
		}
		return outcome{kind: outcomeContinue}
	}
	return outcome{kind: outcomeEmit, text: text}
}

// step applies an outcome: forwards content, counts it and consults the
// supervisor so the unit cap ends the session before the next line.
func (s *streamSession) step(line string) outcome {
	if strings.TrimSpace(line) != "" {
		s.lastLine = line
	}
	o := s.classify(line)
	if o.text != "" {
		if err := s.sink(o.text); err != nil {
			s.sup.Trip(ReasonEmitError)
			return terminate(ReasonEmitError, fmt.Errorf("emit: %w", err))
		}
		s.clock.AddUnit()
		tokensEmitted.Inc()
	}
	if o.kind == outcomeTerminate {
		s.sup.Trip(o.reason)
		return o
	}
	if reason, fired := s.sup.Check(s.now()); fired {
		return terminate(reason, reason.Err())
	}
	return o
}
