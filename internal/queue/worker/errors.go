package worker

import "fmt"

// UsageError describes a worker-side configuration mistake (spec §7
// UsageError). The worker itself does not return it: a job definition
// naming a function that was never registered is finalized by runOne as a
// failed result instead.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("worker: %s", e.Message)
}
