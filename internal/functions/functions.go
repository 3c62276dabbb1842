// Package functions is the string-to-callable registry the worker invokes
// by job definition's Function field (spec §4.F "Coroutine-as-callable"
// design note), plus the demo functions grounded on aiorq's tasks.py.
package functions

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Context is the hook/job context passed to every invocation: job_id,
// job_try, enqueue_time, score, a raw redis handle, and a user-extensible
// map (spec §9 "Hooks and ctx").
type Context struct {
	Ctx         context.Context
	JobID       string
	JobTry      int
	EnqueueTime int64
	Score       int64
	Redis       redis.Cmdable
	Extra       map[string]any
}

// Func is a registered job function: (context, args, kwargs) -> result.
type Func func(c *Context, args []any, kwargs map[string]any) (any, error)

type Registry map[string]Func

func NewRegistry(funcs ...NamedFunc) Registry {
	r := make(Registry, len(funcs))
	for _, f := range funcs {
		r[f.Name] = f.Func
	}
	return r
}

type NamedFunc struct {
	Name string
	Func Func
}

// RetrySignal is returned by a Func to request re-queue with an optional
// delay hint, without being treated as a failure (spec §4.F outcome table
// "Retry signal"; glossary "Retry signal").
type RetrySignal struct {
	Defer time.Duration
}

func (r *RetrySignal) Error() string {
	return "functions: retry requested"
}

// Retry is a convenience constructor matching the teacher's terse error
// helpers.
func Retry(after time.Duration) error {
	return &RetrySignal{Defer: after}
}
