package notifications

import "context"

// Message is a generic job-side-effect notification: a demo job function
// dispatches one of these through a circuit-breaker-guarded Notifier,
// exercising the pattern the teacher built for its own send path.
type Message struct {
	Job       string
	Recipient string
	Body      string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}
