package worker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/geocoder89/redisq/internal/queue/codec"
)

// farFutureMS lets the heartbeat's queue_len count every entry regardless
// of score, deferred or ready alike.
const farFutureMS = int64(1) << 60

// heartbeatLoop refreshes the worker record and the health-check blob on
// HealthCheckInterval (spec §4.F "Heartbeat / health": "j_complete=%d
// j_failed=%d j_retried=%d j_ongoing=%d queue_len=%d").
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.writeWorkerRecord(ctx, true)
			w.writeHealthCheck(ctx)
		}
	}
}

// housekeepingLoop culls the abort set on a fixed cadence independent of
// the job poll delay, matching the teacher's pattern of separate tickers
// per concern rather than one loop doing everything.
func (w *Worker) housekeepingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.CullAbortSet(ctx); err != nil {
				log.Printf("worker: cull_abort_set error: %v", err)
			}
		}
	}
}

func (w *Worker) writeWorkerRecord(ctx context.Context, active bool) {
	names := make([]string, 0, len(w.cfg.Functions))
	for name := range w.cfg.Functions {
		names = append(names, name)
	}
	sort.Strings(names)

	rec := &codec.WorkerRecord{
		WorkerName: w.cfg.WorkerName,
		QueueName:  w.cfg.QueueName,
		Functions:  names,
		StartedAt:  w.startedAt,
		Active:     active,
	}
	payload, err := codec.EncodeWorkerRecord(rec)
	if err != nil {
		log.Printf("worker: encode worker record error: %v", err)
		return
	}

	ttl := w.cfg.HealthCheckInterval*2 + 30*time.Second
	if !active {
		ttl = 30 * time.Second
	}
	if err := w.store.WriteWorkerRecord(ctx, w.cfg.WorkerName, payload, ttl); err != nil {
		log.Printf("worker: write_worker_record error: %v", err)
	}
}

// writeTaskRegistry publishes the current worker's function and cron
// names so introspection can answer GetJobFuncs without asking every
// worker process directly (spec §4.G).
func (w *Worker) writeTaskRegistry(ctx context.Context) {
	recs := make([]codec.FuncRecord, 0, len(w.cfg.Functions)+len(w.cfg.CronJobs))
	now := nowMS()
	for name := range w.cfg.Functions {
		recs = append(recs, codec.FuncRecord{Name: name, RegisteredAt: now})
	}
	for _, entry := range w.cfg.CronJobs {
		recs = append(recs, codec.FuncRecord{Name: entry.Name, IsCron: true, RegisteredAt: now})
	}

	payload, err := codec.EncodeFuncRecords(recs)
	if err != nil {
		log.Printf("worker: encode func records error: %v", err)
		return
	}
	if err := w.store.WriteTaskRegistry(ctx, payload); err != nil {
		log.Printf("worker: write_task_registry error: %v", err)
	}
}

func (w *Worker) writeHealthCheck(ctx context.Context) {
	snap := w.metrics.Snapshot()

	queueLen := int64(0)
	if ids, err := w.store.PollReady(ctx, w.cfg.QueueName, farFutureMS, 10000); err == nil {
		queueLen = int64(len(ids))
	}

	blob := fmt.Sprintf(
		"j_complete=%d j_failed=%d j_retried=%d j_ongoing=%d queue_len=%d",
		snap.Done, snap.Failed, snap.Retried, snap.Ongoing, queueLen,
	)

	ttl := w.cfg.HealthCheckInterval*2 + 30*time.Second
	if err := w.store.WriteHealthCheck(ctx, w.cfg.WorkerName, blob, ttl); err != nil {
		log.Printf("worker: write_health_check error: %v", err)
	}
}
