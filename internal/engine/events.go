package engine

import "github.com/rs/zerolog"

// Event is a subprocess or stream lifecycle notification: spawn_start,
// spawn_exit, spawn_kill, launch_failed, stream_end.
type Event struct {
	Name      string
	SessionID string
	Fields    map[string]any
}

// EventPublisher receives lifecycle events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// logPublisher writes each event as one structured log line.
type logPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher returns a publisher that logs events at debug level, and
// failures at warn.
func NewLogPublisher(l zerolog.Logger) EventPublisher { return logPublisher{log: l} }

func (p logPublisher) Publish(e Event) {
	ev := p.log.Debug()
	if e.Name == "launch_failed" || e.Name == "spawn_hung" {
		ev = p.log.Warn()
	}
	ev.Str("event", e.Name).Str("session", e.SessionID).Fields(e.Fields).Msg("engine event")
}
