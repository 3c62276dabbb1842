package functions

import (
	"fmt"
	"log"
	"time"

	"github.com/geocoder89/redisq/internal/notifications"
)

// SayHi and SayHello are the direct descendants of aiorq tasks.py's
// say_hi/say_hello: cheap demo functions used to exercise the enqueue/
// claim/execute/result pipeline end to end.
func SayHi(c *Context, args []any, kwargs map[string]any) (any, error) {
	name := argString(args, kwargs, "name", "world")
	log.Printf("say_hi job=%s try=%d name=%s", c.JobID, c.JobTry, name)
	return fmt.Sprintf("Hi %s", name), nil
}

func SayHello(c *Context, args []any, kwargs map[string]any) (any, error) {
	name := argString(args, kwargs, "name", "world")
	log.Printf("say_hello job=%s try=%d name=%s", c.JobID, c.JobTry, name)
	return fmt.Sprintf("Hello %s", name), nil
}

// NotifyFunc builds a demo job function that dispatches a notification
// through the circuit-breaker-guarded Notifier the worker was given -
// grounded on the teacher's ProtectedNotifier, repurposed here as a job
// side-effect rather than an HTTP-triggered send.
func NotifyFunc(notifier notifications.Notifier) Func {
	return func(c *Context, args []any, kwargs map[string]any) (any, error) {
		recipient := argString(args, kwargs, "recipient", "")
		body := argString(args, kwargs, "body", "")
		if recipient == "" {
			return nil, fmt.Errorf("notify: recipient is required")
		}

		err := notifier.Notify(c.Ctx, notifications.Message{
			Job:       c.JobID,
			Recipient: recipient,
			Body:      body,
		})
		if err != nil {
			return nil, err
		}
		return "sent", nil
	}
}

// RunCron is the target of the demo cron entry (aiorq tasks.py's
// run_cron), just loud enough to prove the planner fired on schedule.
func RunCron(c *Context, args []any, kwargs map[string]any) (any, error) {
	log.Printf("run_cron job=%s at=%s", c.JobID, time.UnixMilli(c.EnqueueTime).Format(time.RFC3339))
	return nil, nil
}

func argString(args []any, kwargs map[string]any, key, fallback string) string {
	if v, ok := kwargs[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	return fallback
}
