package engine

// EventKind tags an OutputEvent.
type EventKind int

const (
	EventToken EventKind = iota
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// OutputEvent is one wire event: a content fragment, Done, or Error.
type OutputEvent struct {
	Kind EventKind
	Text string
}

// Emitter delivers events to the client, flushing each one.
type Emitter interface {
	Emit(OutputEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(OutputEvent) error

func (f EmitterFunc) Emit(ev OutputEvent) error { return f(ev) }

// EventStream forwards events in order and guarantees exactly one terminal
// event; anything after it is refused with ErrStreamClosed.
type EventStream struct {
	out        Emitter
	tokens     int
	terminated bool
}

// NewEventStream wraps out.
func NewEventStream(out Emitter) *EventStream { return &EventStream{out: out} }

// Token forwards one content fragment.
func (s *EventStream) Token(text string) error {
	if s.terminated {
		return ErrStreamClosed
	}
	if err := s.out.Emit(OutputEvent{Kind: EventToken, Text: text}); err != nil {
		return err
	}
	s.tokens++
	return nil
}

// Finish emits Done when err is nil and Error otherwise. Only the first call
// emits.
func (s *EventStream) Finish(err error) error {
	if s.terminated {
		return ErrStreamClosed
	}
	s.terminated = true
	if err == nil {
		return s.out.Emit(OutputEvent{Kind: EventDone})
	}
	return s.out.Emit(OutputEvent{Kind: EventError, Text: err.Error()})
}

// Terminated reports whether the terminal event has been emitted.
func (s *EventStream) Terminated() bool { return s.terminated }

// Tokens returns the number of content events forwarded.
func (s *EventStream) Tokens() int { return s.tokens }
