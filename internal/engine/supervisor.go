package engine

import (
	"sync"
	"time"
)

// StopReason tags why a stream session ended.
type StopReason string

const (
	ReasonEOF          StopReason = "eof"
	ReasonUnitCap      StopReason = "unit_cap"
	ReasonStopSequence StopReason = "stop_sequence"
	ReasonWallTimeout  StopReason = "wall_timeout"
	ReasonIdleTimeout  StopReason = "idle_timeout"
	ReasonCanceled     StopReason = "canceled"
	ReasonReadError    StopReason = "read_error"
	ReasonEmitError    StopReason = "emit_error"
	ReasonEngineFailed StopReason = "engine_failed"
)

// Err maps a reason to the error carried by the terminal event. Normal stops
// return nil.
func (r StopReason) Err() error {
	switch r {
	case ReasonWallTimeout:
		return ErrWallTimeout
	case ReasonIdleTimeout:
		return ErrIdleTimeout
	}
	return nil
}

// StreamClock tracks the three quantities the supervisor watches.
type StreamClock struct {
	mu           sync.Mutex
	startedAt    time.Time
	lastDataAt   time.Time
	unitsEmitted int
}

// NewStreamClock starts a clock at now.
func NewStreamClock(now time.Time) *StreamClock {
	return &StreamClock{startedAt: now, lastDataAt: now}
}

// Touch records the arrival of output bytes.
func (c *StreamClock) Touch(now time.Time) {
	c.mu.Lock()
	c.lastDataAt = now
	c.mu.Unlock()
}

// AddUnit counts one forwarded content fragment and returns the new total.
func (c *StreamClock) AddUnit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unitsEmitted++
	return c.unitsEmitted
}

// Snapshot returns the current readings.
func (c *StreamClock) Snapshot() (startedAt, lastDataAt time.Time, units int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt, c.lastDataAt, c.unitsEmitted
}

// Limits configures the supervisor. A zero duration or MaxUnits disables that bound.
type Limits struct {
	Wall     time.Duration
	Idle     time.Duration
	MaxUnits int
}

// Supervisor decides when a session must be terminated. It latches the first
// reason that fires; later checks return the same reason.
type Supervisor struct {
	limits Limits
	clock  *StreamClock
	fired  StopReason
}

// NewSupervisor binds limits to a clock.
func NewSupervisor(limits Limits, clock *StreamClock) *Supervisor {
	return &Supervisor{limits: limits, clock: clock}
}

// Check evaluates the wall, idle and unit bounds at now.
func (s *Supervisor) Check(now time.Time) (StopReason, bool) {
	if s.fired != "" {
		return s.fired, true
	}
	started, last, units := s.clock.Snapshot()
	switch {
	case s.limits.Wall > 0 && now.Sub(started) > s.limits.Wall:
		s.fired = ReasonWallTimeout
	case s.limits.Idle > 0 && now.Sub(last) > s.limits.Idle:
		s.fired = ReasonIdleTimeout
	case s.limits.MaxUnits > 0 && units >= s.limits.MaxUnits:
		s.fired = ReasonUnitCap
	default:
		return "", false
	}
	return s.fired, true
}

// Trip latches reason if nothing has fired yet and reports whether it did.
func (s *Supervisor) Trip(reason StopReason) bool {
	if s.fired != "" {
		return false
	}
	s.fired = reason
	return true
}

// Fired returns the latched reason, if any.
func (s *Supervisor) Fired() StopReason { return s.fired }
