// Package producer implements EnqueueJob, the client entrypoint for
// submitting named function invocations (spec §4.D).
package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geocoder89/redisq/internal/queue/clock"
	"github.com/geocoder89/redisq/internal/queue/codec"
	"github.com/geocoder89/redisq/internal/queue/jobhandle"
	"github.com/geocoder89/redisq/internal/queue/keys"
	"github.com/geocoder89/redisq/internal/queue/store"
)

// NewJobID renders a random 128-bit value as 32 hex characters (spec §3),
// matching aiorq's own uuid4().hex rather than a dashed UUID string.
func NewJobID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// UsageError reports a synchronous, no-state-mutated caller mistake
// (spec §7 UsageError) - mutually exclusive options, bad input.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("producer: %s", e.Message)
}

// ErrNotCreated is returned (not wrapped as an error the caller must
// unwrap) when TryEnqueue reports a duplicate job_id (spec §7 DuplicateJob:
// "not created" is a sentinel, not an exception).
var ErrNotCreated = fmt.Errorf("producer: job not created (duplicate identity)")

type options struct {
	jobID      string
	queueName  string
	deferUntil *time.Time
	deferBy    *time.Duration
	expires    time.Duration
	jobTry     int
}

type Option func(*options)

func WithJobID(id string) Option {
	return func(o *options) { o.jobID = id }
}

func WithQueueName(name string) Option {
	return func(o *options) { o.queueName = name }
}

func WithDeferUntil(t time.Time) Option {
	return func(o *options) { o.deferUntil = &t }
}

func WithDeferBy(d time.Duration) Option {
	return func(o *options) { o.deferBy = &d }
}

func WithExpires(d time.Duration) Option {
	return func(o *options) { o.expires = d }
}

func WithJobTry(n int) Option {
	return func(o *options) { o.jobTry = n }
}

// EnqueueJob computes identity, score, and expiry, then delegates the
// atomic write to store.TryEnqueue (spec §4.D's watch+multi-exec
// algorithm). A nil handle with ErrNotCreated means a duplicate job_id
// already occupies the pending/in-progress/result slot.
func EnqueueJob(ctx context.Context, st *store.Store, function string, args []any, kwargs map[string]any, opts ...Option) (*jobhandle.Handle, error) {
	o := options{queueName: keys.DefaultQueueName}
	for _, opt := range opts {
		opt(&o)
	}

	if o.deferUntil != nil && o.deferBy != nil {
		return nil, &UsageError{Message: "defer_until and defer_by are mutually exclusive"}
	}

	id := o.jobID
	if id == "" {
		id = NewJobID()
	}

	now := clock.NowMS()
	score := now
	switch {
	case o.deferUntil != nil:
		score = clock.ToUnixMS(*o.deferUntil)
	case o.deferBy != nil:
		score = now + clock.ToMS(*o.deferBy)
	}

	def := &codec.JobDef{
		ID:          id,
		Function:    function,
		Args:        args,
		Kwargs:      kwargs,
		JobTry:      o.jobTry,
		EnqueueTime: now,
		QueueName:   o.queueName,
	}

	created, err := st.TryEnqueue(ctx, def, score, o.expires)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrNotCreated
	}

	return jobhandle.New(id, o.queueName, st), nil
}
