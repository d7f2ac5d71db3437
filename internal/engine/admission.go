package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrent = 1
	defaultQueueDepth    = 32
	defaultMaxWait       = 30 * time.Second
)

// Admission bounds the number of inference sessions in flight. A request first
// takes a queue slot, failing fast when the queue is full, then waits up to
// maxWait for an execution slot.
type Admission struct {
	queueCh chan struct{}
	slots   *semaphore.Weighted
	maxWait time.Duration
}

// NewAdmission builds an admission gate. Zero values select the defaults.
func NewAdmission(maxConcurrent, queueDepth int, maxWait time.Duration) *Admission {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &Admission{
		queueCh: make(chan struct{}, maxConcurrent+queueDepth),
		slots:   semaphore.NewWeighted(int64(maxConcurrent)),
		maxWait: maxWait,
	}
}

// Acquire reserves an execution slot. The returned release func must be called
// exactly once when the session ends.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	select {
	case a.queueCh <- struct{}{}:
	default:
		return func() {}, tooBusyError{reason: "queue full"}
	}

	wctx, cancel := context.WithTimeout(ctx, a.maxWait)
	defer cancel()
	if err := a.slots.Acquire(wctx, 1); err != nil {
		<-a.queueCh
		if ctx.Err() != nil {
			return func() {}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return func() {}, tooBusyError{reason: "timed out waiting for a worker"}
		}
		return func() {}, err
	}
	return func() { a.slots.Release(1); <-a.queueCh }, nil
}

// Waiting reports the number of sessions queued or running.
func (a *Admission) Waiting() int { return len(a.queueCh) }
