package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/geocoder89/redisq/internal/cron"
	"github.com/geocoder89/redisq/internal/queue/producer"
)

// cronLoop sleeps until entry's next matching instant, enqueues it, then
// recomputes from the instant it just fired (spec §4.E). A unique entry
// gets a deterministic cron:<name>:<next_run_ms> identity so a second
// worker racing the same schedule can't double-enqueue it; a non-unique
// entry gets a random suffix instead.
func (w *Worker) cronLoop(ctx context.Context, entry cron.Entry) {
	for {
		next := entry.NextRun(time.Now())
		if next.IsZero() {
			log.Printf("worker: cron %q has no satisfiable next run, stopping", entry.Name)
			return
		}

		wait := time.Until(next)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		id := fmt.Sprintf("cron:%s:%d", entry.Name, next.UnixMilli())
		if !entry.Unique {
			id = fmt.Sprintf("cron:%s:%d:%s", entry.Name, next.UnixMilli(), producer.NewJobID())
		}

		opts := []producer.Option{producer.WithJobID(id), producer.WithQueueName(w.cfg.QueueName)}
		if entry.MaxTries > 0 {
			opts = append(opts, producer.WithJobTry(0))
		}

		_, err := producer.EnqueueJob(ctx, w.store, entry.Func, nil, nil, opts...)
		if err != nil && err != producer.ErrNotCreated {
			log.Printf("worker: cron %q enqueue error: %v", entry.Name, err)
		}
	}
}
