// Package keys defines the Redis namespace layout shared by the producer,
// worker, and introspection components. Every key a component touches is
// built here so the prefix scheme only has to change in one place.
package keys

import "fmt"

const (
	DefaultPrefix    = "redisq"
	DefaultQueueName = "default:queue"
)

// Schema builds namespaced keys under a single configurable prefix.
type Schema struct {
	Prefix string
}

func New(prefix string) Schema {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Schema{Prefix: prefix}
}

func (s Schema) Job(id string) string {
	return fmt.Sprintf("%s:job:%s", s.Prefix, id)
}

func (s Schema) Result(id string) string {
	return fmt.Sprintf("%s:result:%s", s.Prefix, id)
}

func (s Schema) InProgress(id string) string {
	return fmt.Sprintf("%s:in-progress:%s", s.Prefix, id)
}

func (s Schema) Retry(id string) string {
	return fmt.Sprintf("%s:retry:%s", s.Prefix, id)
}

// Abort is the single global sorted set of identities marked for cancellation.
func (s Schema) Abort() string {
	return fmt.Sprintf("%s:abort", s.Prefix)
}

func (s Schema) Worker(name string) string {
	return fmt.Sprintf("%s:worker:%s", s.Prefix, name)
}

func (s Schema) HealthCheck(name string) string {
	return fmt.Sprintf("%s:health-check:%s", s.Prefix, name)
}

// Task is the function-registry blob published by each worker.
func (s Schema) Task() string {
	return fmt.Sprintf("%s:task", s.Prefix)
}

// WorkerPattern/HealthCheckPattern match all currently published
// worker/health records; introspection's SCAN-based AllWorkers uses
// WorkerPattern.
func (s Schema) WorkerPattern() string {
	return fmt.Sprintf("%s:worker:*", s.Prefix)
}

func (s Schema) HealthCheckPattern() string {
	return fmt.Sprintf("%s:health-check:*", s.Prefix)
}

// ResultPattern is SCANned by introspection's AllJobResults when called
// with no ids, mirroring aiorq's connections.py all_job_results() keys()
// scan over its result key prefix.
func (s Schema) ResultPattern() string {
	return fmt.Sprintf("%s:result:*", s.Prefix)
}

// Queue returns the queue name unchanged if non-empty, else the default.
// Queues are not namespaced under Prefix: a queue name is caller-chosen and
// used directly as a sorted-set key, matching spec's "<queue>" entry.
func Queue(name string) string {
	if name == "" {
		return DefaultQueueName
	}
	return name
}
