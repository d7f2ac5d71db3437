package httpapi

import (
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"cadmonkey/internal/engine"
	"cadmonkey/pkg/types"
)

// sseWriter serializes engine events as Server-Sent Events. Headers are sent
// with the first event, so a request rejected before any event can still be
// answered with a JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	mirror  io.Writer
	started bool
	events  int
}

func newSSEWriter(w http.ResponseWriter, mirror io.Writer) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w), mirror: mirror}
}

// Emit writes one `data: <json>\n\n` frame and flushes it.
func (s *sseWriter) Emit(ev engine.OutputEvent) error {
	var payload any
	switch ev.Kind {
	case engine.EventToken:
		payload = types.TokenEvent{Token: ev.Text}
	case engine.EventDone:
		payload = types.DoneEvent{Done: true}
	case engine.EventError:
		payload = types.ErrorEvent{Error: ev.Text}
	default:
		return errors.New("unknown event kind")
	}
	b, err := json.MarshalWithOption(payload, json.DisableHTMLEscape())
	if err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	frame := make([]byte, 0, len(b)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, b...)
	frame = append(frame, '\n', '\n')
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	s.events++
	sseEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
	if s.mirror != nil {
		_, _ = s.mirror.Write(frame)
	}
	return nil
}
