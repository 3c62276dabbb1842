// Package jobhandle implements the per-job client-side view: status
// derivation, info, blocking result-wait, and abort (spec §4.C).
package jobhandle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/redisq/internal/queue/clock"
	"github.com/geocoder89/redisq/internal/queue/codec"
	"github.com/geocoder89/redisq/internal/queue/store"
)

type Status string

const (
	StatusDeferred   Status = "deferred"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusNotFound   Status = "not_found"
)

// ErrWaitTimeout is raised by Result when the caller's wait timeout
// elapses before a result record appears.
var ErrWaitTimeout = errors.New("jobhandle: result wait timed out")

// ErrJobTimeout is raised by Result when the stored result shows the job
// itself exceeded its job_timeout.
var ErrJobTimeout = errors.New("jobhandle: job exceeded its timeout")

// ErrCancelled is raised by Result when the stored result carries the
// abort cancellation marker.
var ErrCancelled = errors.New("jobhandle: job was cancelled")

// ExecutionError wraps a non-cancellation failure result.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("jobhandle: job failed: %s", e.Message)
}

type Handle struct {
	ID        string
	QueueName string
	store     *store.Store
}

func New(id, queueName string, st *store.Store) *Handle {
	return &Handle{ID: id, QueueName: queueName, store: st}
}

// Status derives the job's lifecycle state exactly per spec §4.C.
func (h *Handle) Status(ctx context.Context) (Status, error) {
	res, err := h.store.GetResult(ctx, h.ID)
	if err != nil {
		return "", err
	}
	if res != nil {
		return StatusComplete, nil
	}

	inProgress, err := h.store.InProgressExists(ctx, h.ID)
	if err != nil {
		return "", err
	}
	if inProgress {
		return StatusInProgress, nil
	}

	score, found, err := h.store.QueueScore(ctx, h.QueueName, h.ID)
	if err != nil {
		return "", err
	}
	if found {
		if score > clock.NowMS() {
			return StatusDeferred, nil
		}
		return StatusQueued, nil
	}

	return StatusNotFound, nil
}

// Info returns the job definition augmented with its current queue score,
// or (if a result already exists) the result's definition fields with a
// nil score.
func (h *Handle) Info(ctx context.Context) (*codec.JobDef, error) {
	res, err := h.store.GetResult(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	if res != nil {
		def := res.JobDef
		def.Score = nil
		return &def, nil
	}

	def, err := h.store.GetJobDef(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, nil
	}

	if score, found, err := h.store.QueueScore(ctx, h.QueueName, h.ID); err != nil {
		return nil, err
	} else if found {
		def.Score = &score
	}

	return def, nil
}

// ResultInfo is a non-blocking read of the result record, nil if none yet.
func (h *Handle) ResultInfo(ctx context.Context) (*codec.JobResult, error) {
	return h.store.GetResult(ctx, h.ID)
}

type resultOptions struct {
	pollDelay time.Duration
}

type ResultOption func(*resultOptions)

func WithPollDelay(d time.Duration) ResultOption {
	return func(o *resultOptions) { o.pollDelay = d }
}

// Result blocks until a result record appears or timeout elapses,
// polling at pollDelay (default 500ms, spec §4.C result(timeout)).
func (h *Handle) Result(ctx context.Context, timeout time.Duration, opts ...ResultOption) (any, error) {
	o := resultOptions{pollDelay: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(timeout)
	for {
		res, err := h.store.GetResult(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return resolveOutcome(res)
		}

		if time.Now().After(deadline) {
			return nil, ErrWaitTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.pollDelay):
		}
	}
}

func resolveOutcome(res *codec.JobResult) (any, error) {
	if res.Success {
		return res.Result, nil
	}
	switch res.ErrorMessage {
	case codec.CancelledMarker:
		return nil, ErrCancelled
	case codec.TimeoutMarker:
		return nil, ErrJobTimeout
	default:
		return nil, &ExecutionError{Message: res.ErrorMessage}
	}
}

// Abort inserts the identity into the abort set, then awaits the result as
// Result does; it returns true iff the awaited result carries the
// cancellation marker (spec §4.C abort()).
func (h *Handle) Abort(ctx context.Context, timeout time.Duration, opts ...ResultOption) (bool, error) {
	if err := h.store.RequestAbort(ctx, h.ID); err != nil {
		return false, err
	}

	_, err := h.Result(ctx, timeout, opts...)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrCancelled) {
		return true, nil
	}
	if errors.Is(err, ErrWaitTimeout) {
		return false, err
	}
	return false, err
}
