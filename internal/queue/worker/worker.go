// Package worker implements the worker runtime: poll, claim, execute,
// retry, record result, heartbeat, shutdown (spec §4.F). The concurrency
// shape - a bounded semaphore gating job goroutines, independent tickers
// for polling/heartbeat/housekeeping - is the teacher's worker.go pattern,
// generalized from its Postgres job queue to the shared Redis store.
package worker

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/geocoder89/redisq/internal/observability"
	"github.com/geocoder89/redisq/internal/queue/store"
)

var tracer = otel.Tracer("redisq-worker")

type Worker struct {
	cfg     Config
	store   *store.Store
	prom    *observability.Prom
	metrics *observability.JobMetrics

	readyMu sync.RWMutex
	ready   bool

	hookMu    sync.Mutex
	hookExtra map[string]any

	startedAt int64

	PromRegistry *prometheus.Registry
}

func New(cfg Config, st *store.Store, prom *observability.Prom) *Worker {
	cfg.setDefaults()
	return &Worker{
		cfg:       cfg,
		store:     st,
		prom:      prom,
		metrics:   observability.NewJobMetrics(),
		ready:     true,
		hookExtra: make(map[string]any),
	}
}

func (w *Worker) hookContext(ctx context.Context) *HookContext {
	w.hookMu.Lock()
	defer w.hookMu.Unlock()
	return &HookContext{Ctx: ctx, Extra: w.hookExtra}
}

// Run starts the health server, heartbeat/housekeeping tickers, and the
// main poll loop; it blocks until ctx is cancelled (or, in burst mode,
// until the queue drains) and returns once shutdown has drained or the
// grace window has elapsed.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.OnStartup != nil {
		if err := w.cfg.OnStartup(w.hookContext(ctx)); err != nil {
			log.Printf("worker.on_startup error=%v", err)
		}
	}

	srv := &http.Server{Addr: w.cfg.HealthAddr, Handler: w.HealthHandler(w.PromRegistry)}
	healthDone := make(chan struct{})

	go func() {
		log.Printf("worker health server starting on %s", w.cfg.HealthAddr)
		log.Printf("worker boot pid=%d worker_name=%s queue=%s health_addr=%s",
			os.Getpid(), w.cfg.WorkerName, w.cfg.QueueName, w.cfg.HealthAddr)

		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Printf("worker health server error: %v", err)
		}
		close(healthDone)
	}()

	go func() {
		<-ctx.Done()

		w.readyMu.Lock()
		w.ready = false
		w.readyMu.Unlock()

		time.Sleep(2 * time.Second)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	w.startedAt = nowMS()
	w.writeWorkerRecord(ctx, true)
	w.writeHealthCheck(ctx)
	w.writeTaskRegistry(ctx)

	go w.heartbeatLoop(ctx)
	go w.housekeepingLoop(ctx)
	for _, entry := range w.cfg.CronJobs {
		go w.cronLoop(ctx, entry)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.cfg.MaxJobs)

	// jobParentCtx is deliberately NOT ctx: an in-flight job should run to
	// completion (or its own job_timeout) during the shutdown drain
	// window, not be cancelled the instant the poll loop stops claiming
	// new work. It is only cancelled if ShutdownGrace elapses first.
	jobParentCtx, cancelJobParent := context.WithCancel(context.Background())
	defer cancelJobParent()

	ticker := time.NewTicker(w.cfg.PollDelay)
	defer ticker.Stop()

pollLoop:
	for {
		select {
		case <-ctx.Done():
			log.Println("worker: shutdown signal received; stopping claims")
			break pollLoop

		case <-ticker.C:
			inFlight := len(sem)
			free := w.cfg.MaxJobs - inFlight
			if free <= 0 {
				continue
			}

			ids, err := w.store.PollReady(ctx, w.cfg.QueueName, nowMS(), int64(free))
			if err != nil {
				log.Printf("worker: poll error: %v", err)
				continue
			}

			if w.cfg.Burst && len(ids) == 0 && inFlight == 0 {
				log.Println("worker: burst mode, queue drained, exiting")
				break pollLoop
			}

			for _, id := range ids {
				claimed, err := w.store.ClaimJob(ctx, id, w.cfg.JobTimeout)
				if err != nil {
					log.Printf("worker: claim error id=%s err=%v", id, err)
					continue
				}
				if !claimed {
					continue // another worker owns it
				}

				w.metrics.IncClaimed()

				sem <- struct{}{}
				wg.Add(1)
				go func(jobID string) {
					defer wg.Done()
					defer func() { <-sem }()
					w.runOne(jobParentCtx, jobID)
				}(id)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("worker: all in-flight jobs completed")
	case <-time.After(w.cfg.ShutdownGrace):
		log.Printf("worker: shutdown grace (%s) exceeded; cancelling in-flight jobs", w.cfg.ShutdownGrace)
		cancelJobParent()
		<-done
	}

	if w.cfg.OnShutdown != nil {
		if err := w.cfg.OnShutdown(w.hookContext(context.Background())); err != nil {
			log.Printf("worker.on_shutdown error=%v", err)
		}
	}

	w.writeWorkerRecord(context.Background(), false)

	select {
	case <-healthDone:
	case <-time.After(5 * time.Second):
	}

	return nil
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
