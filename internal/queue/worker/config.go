package worker

import (
	"context"
	"time"

	"github.com/geocoder89/redisq/internal/cron"
	"github.com/geocoder89/redisq/internal/functions"
)

// HookContext is the shared mutable map passed to on_startup/on_shutdown/
// on_job_start/on_job_end hooks (spec §9 "Hooks and ctx" - an explicit
// context record with a user-extensible map, never a process-wide global).
type HookContext struct {
	Ctx   context.Context
	Extra map[string]any
}

// Config enumerates spec §4.F's worker configuration table.
type Config struct {
	Functions functions.Registry
	CronJobs  []cron.Entry

	QueueName  string
	WorkerName string

	MaxJobs    int
	JobTimeout time.Duration

	KeepResult        time.Duration
	KeepResultForever bool

	PollDelay time.Duration

	MaxTries       int
	RetryJobs      bool
	AllowAbortJobs bool

	OnStartup  func(*HookContext) error
	OnShutdown func(*HookContext) error
	OnJobStart func(*HookContext) error
	OnJobEnd   func(*HookContext) error

	HealthCheckInterval time.Duration
	ShutdownGrace       time.Duration
	HealthAddr          string
	Burst               bool

	// BackoffFunc computes the retry defer when a function returns an
	// error or RetrySignal without its own Defer hint. Defaults to
	// ExponentialBackoff; LinearBackoff is the source-compatible
	// alternative (spec §9 Open Question).
	BackoffFunc BackoffFunc
}

func (c *Config) setDefaults() {
	if c.QueueName == "" {
		c.QueueName = "default:queue"
	}
	if c.WorkerName == "" {
		c.WorkerName = "redisq-worker"
	}
	if c.MaxJobs <= 0 {
		c.MaxJobs = 10
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 300 * time.Second
	}
	if c.KeepResult <= 0 {
		c.KeepResult = 3600 * time.Second
	}
	if c.PollDelay <= 0 {
		c.PollDelay = 500 * time.Millisecond
	}
	if c.MaxTries <= 0 {
		c.MaxTries = 5
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = time.Hour
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.HealthAddr == "" {
		c.HealthAddr = ":8081"
	}
	if c.BackoffFunc == nil {
		c.BackoffFunc = ExponentialBackoff
	}
	if c.Functions == nil {
		c.Functions = functions.Registry{}
	}
}
