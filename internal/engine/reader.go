package engine

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultPollInterval = time.Second
	defaultChunkBytes   = 4096
)

// LineBuffer accumulates raw output until a line terminator arrives. Bytes are
// kept undecoded so a multi-byte rune split across reads is reassembled before
// decoding; invalid sequences are replaced, never fatal.
type LineBuffer struct {
	buf    []byte
	skipLF bool
}

// Write appends p and returns every line completed by it. "\n", "\r\n" and a
// bare "\r" all terminate a line.
func (b *LineBuffer) Write(p []byte) []string {
	if b.skipLF && len(p) > 0 {
		if p[0] == '\n' {
			p = p[1:]
		}
		b.skipLF = false
	}
	b.buf = append(b.buf, p...)
	var lines []string
	for {
		i := bytes.IndexAny(b.buf, "\r\n")
		if i < 0 {
			break
		}
		lines = append(lines, decodeLine(b.buf[:i]))
		next := i + 1
		if b.buf[i] == '\r' {
			if next < len(b.buf) {
				if b.buf[next] == '\n' {
					next++
				}
			} else {
				// "\r" ends the chunk; a "\n" may follow in the next read.
				b.skipLF = true
			}
		}
		b.buf = b.buf[next:]
	}
	return lines
}

// Flush returns the trailing unterminated content and empties the buffer.
func (b *LineBuffer) Flush() (string, bool) {
	data := b.buf
	b.buf = nil
	b.skipLF = false
	if len(data) == 0 {
		return "", false
	}
	return decodeLine(data), true
}

// Len reports the number of buffered, unterminated bytes.
func (b *LineBuffer) Len() int { return len(b.buf) }

func decodeLine(p []byte) string {
	return strings.ToValidUTF8(string(p), "\uFFFD")
}

// deadlineReader is satisfied by pipe ends (*os.File) on platforms with a
// pollable descriptor.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Reader performs bounded-wait reads against a subprocess output stream and
// hands back completed lines.
type Reader struct {
	src   deadlineReader
	chunk []byte
	poll  time.Duration
	lines LineBuffer
	clock *StreamClock
	now   func() time.Time

	interrupted atomic.Bool
}

// NewReader returns a Reader that waits at most poll per call and reads at most
// chunkBytes per call.
func NewReader(src deadlineReader, clock *StreamClock, poll time.Duration, chunkBytes int) *Reader {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}
	return &Reader{src: src, chunk: make([]byte, chunkBytes), poll: poll, clock: clock, now: time.Now}
}

// Poll performs one bounded read. A poll that times out without data returns
// no lines, eof=false and a nil error. On end of stream eof is true and the
// caller should call Finish for the trailing fragment.
func (r *Reader) Poll() (lines []string, eof bool, err error) {
	if err := r.src.SetReadDeadline(r.now().Add(r.poll)); err != nil {
		return nil, false, err
	}
	// An Interrupt racing the deadline above would otherwise be overwritten.
	if r.interrupted.Load() {
		return nil, false, nil
	}
	n, rerr := r.src.Read(r.chunk)
	if n > 0 {
		if r.clock != nil {
			r.clock.Touch(r.now())
		}
		lines = r.lines.Write(r.chunk[:n])
	}
	switch {
	case rerr == nil:
		return lines, false, nil
	case errors.Is(rerr, os.ErrDeadlineExceeded):
		return lines, false, nil
	case errors.Is(rerr, io.EOF):
		return lines, true, nil
	default:
		return lines, false, rerr
	}
}

// Finish returns the final unterminated fragment, if any.
func (r *Reader) Finish() (string, bool) { return r.lines.Flush() }

// Interrupt makes a blocked Poll return immediately. Every later Poll returns
// without reading.
func (r *Reader) Interrupt() {
	r.interrupted.Store(true)
	_ = r.src.SetReadDeadline(time.Unix(1, 0))
}
