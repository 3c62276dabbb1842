package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/geocoder89/redisq/internal/functions"
	"github.com/geocoder89/redisq/internal/queue/codec"
	"github.com/geocoder89/redisq/internal/queue/store"
)

// runOne implements spec §4.F "Executing one job": decode, check the
// abort set, invoke the registered function under a watcher that can
// cancel early on either abort or job_timeout, then finalize or requeue
// depending on the outcome.
func (w *Worker) runOne(ctx context.Context, id string) {
	ctx, span := tracer.Start(ctx, "job.execute", trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	start := time.Now()
	w.metrics.OngoingInc()
	defer w.metrics.OngoingDec()
	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	def, err := w.store.GetJobDef(ctx, id)
	if err != nil {
		var decErr *codec.DecodeError
		if errors.As(err, &decErr) {
			w.finalizeDecodeFailure(ctx, id, decErr.Error(), start)
			return
		}
		log.Printf("worker: get_job_def error id=%s err=%v", id, err)
		return
	}
	if def == nil {
		// The definition expired or was never written; drop the
		// in-progress marker by letting its TTL expire rather than
		// finalize with a fabricated result.
		log.Printf("worker: job %s claimed but definition missing", id)
		return
	}

	// Every claimed attempt - successful or not - bumps the retry counter
	// before the abort check or invocation, so job_try reflects the real
	// attempt number throughout this run and in the persisted result
	// (spec §4.F step 2). The counter's TTL outlasts any backoff delay
	// between attempts; Finalize deletes it.
	if n, err := w.store.IncrRetry(ctx, id, store.ExpiresExtra); err != nil {
		log.Printf("worker: incr_retry error id=%s err=%v", id, err)
	} else {
		def.JobTry = int(n)
	}

	if w.cfg.OnJobStart != nil {
		if err := w.cfg.OnJobStart(w.hookContext(ctx)); err != nil {
			log.Printf("worker.on_job_start error=%v", err)
		}
	}

	aborted, err := w.store.IsAborted(ctx, id)
	if err != nil {
		log.Printf("worker: is_aborted error id=%s err=%v", id, err)
	}
	if w.cfg.AllowAbortJobs && aborted {
		w.finalizeCancel(ctx, def, start, codec.CancelledMarker)
		w.metrics.IncAborted()
		return
	}

	span.SetAttributes(attribute.String("job.function", def.Function), attribute.Int("job.try", def.JobTry))

	fn, ok := w.cfg.Functions[def.Function]
	if !ok {
		msg := fmt.Sprintf("no function registered for %q", def.Function)
		w.finalizeFailure(ctx, def, msg, start, false)
		span.RecordError(fmt.Errorf("%s", msg))
		return
	}

	result, execErr := w.invoke(ctx, def, fn)
	if execErr != nil {
		span.RecordError(execErr)
	}

	if w.cfg.OnJobEnd != nil {
		if err := w.cfg.OnJobEnd(w.hookContext(ctx)); err != nil {
			log.Printf("worker.on_job_end error=%v", err)
		}
	}

	switch {
	case execErr == nil:
		w.finalizeSuccess(ctx, def, result, start)

	case errors.Is(execErr, errAbortedMidFlight):
		w.finalizeCancel(ctx, def, start, codec.CancelledMarker)
		w.metrics.IncAborted()

	case errors.Is(execErr, context.Canceled):
		// Parent shutdown cancelled the job context mid-flight; leave the
		// in-progress marker to its TTL instead of finalizing with a
		// misleading outcome.
		log.Printf("worker: job %s cancelled by shutdown, leaving in-progress marker to expire", id)

	default:
		w.handleRetryableOutcome(ctx, def, execErr, start)
	}
}

// handleRetryableOutcome covers both a timed-out invocation and an ordinary
// returned error identically: both are retried while job_try is below
// max_tries, and the attempt that reaches max_tries is finalized - a
// timeout with the timeout marker, an ordinary error with its message
// (spec §8 scenario 3).
func (w *Worker) handleRetryableOutcome(ctx context.Context, def *codec.JobDef, execErr error, start time.Time) {
	isTimeout := errors.Is(execErr, errJobTimedOut)

	var retry *functions.RetrySignal
	var deferHint time.Duration
	if errors.As(execErr, &retry) {
		deferHint = retry.Defer
	}

	if w.cfg.RetryJobs && def.JobTry < w.cfg.MaxTries {
		w.requeueForRetry(ctx, def, deferHint)
		return
	}

	if isTimeout {
		w.finalizeCancel(ctx, def, start, codec.TimeoutMarker)
		return
	}
	w.finalizeFailure(ctx, def, execErr.Error(), start, true)
}

var (
	errAbortedMidFlight = errors.New("worker: job aborted mid-flight")
	errJobTimedOut      = errors.New("worker: job exceeded job_timeout")
)

// invoke runs fn under a context that is cancelled early either by
// job_timeout or, when enabled, by a poller observing an abort request.
// It translates that early cancellation into one of the two sentinel
// errors above so runOne can tell them apart from an ordinary context
// cancellation propagated from worker shutdown.
func (w *Worker) invoke(ctx context.Context, def *codec.JobDef, fn functions.Func) (any, error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	var abortedFlag atomic.Bool
	stopWatch := make(chan struct{})

	if w.cfg.AllowAbortJobs {
		go func() {
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stopWatch:
					return
				case <-jobCtx.Done():
					return
				case <-ticker.C:
					aborted, err := w.store.IsAborted(context.Background(), def.ID)
					if err != nil {
						continue
					}
					if aborted {
						abortedFlag.Store(true)
						cancel()
						return
					}
				}
			}
		}()
	}

	fnCtx := &functions.Context{
		Ctx:         jobCtx,
		JobID:       def.ID,
		JobTry:      def.JobTry,
		EnqueueTime: def.EnqueueTime,
		Score:       clockScore(def),
		Redis:       w.store.Raw(),
		Extra:       w.hookExtra,
	}

	result, err := fn(fnCtx, def.Args, def.Kwargs)
	close(stopWatch)

	if err == nil {
		return result, nil
	}

	if abortedFlag.Load() {
		return nil, errAbortedMidFlight
	}
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return nil, errJobTimedOut
	}
	return nil, err
}

func clockScore(def *codec.JobDef) int64 {
	if def.Score != nil {
		return *def.Score
	}
	return def.EnqueueTime
}

func (w *Worker) finalizeSuccess(ctx context.Context, def *codec.JobDef, result any, start time.Time) {
	res := &codec.JobResult{
		JobDef:     *def,
		Success:    true,
		Result:     result,
		StartTime:  start.UnixMilli(),
		FinishTime: time.Now().UnixMilli(),
		WorkerName: w.cfg.WorkerName,
	}
	if err := w.store.Finalize(ctx, def.ID, def.QueueName, res, w.resultTTL(), w.cfg.KeepResultForever); err != nil {
		log.Printf("worker: finalize (success) error id=%s err=%v", def.ID, err)
		return
	}
	w.metrics.IncDone()
	w.metrics.ObserveDuration(time.Since(start))
	if w.prom != nil {
		w.prom.JobDuration.WithLabelValues(def.Function, "success").Observe(time.Since(start).Seconds())
		w.prom.JobResults.WithLabelValues(def.Function, "success").Inc()
	}
}

func (w *Worker) finalizeCancel(ctx context.Context, def *codec.JobDef, start time.Time, marker string) {
	res := &codec.JobResult{
		JobDef:       *def,
		Success:      false,
		ErrorMessage: marker,
		StartTime:    start.UnixMilli(),
		FinishTime:   time.Now().UnixMilli(),
		WorkerName:   w.cfg.WorkerName,
	}
	if err := w.store.Finalize(ctx, def.ID, def.QueueName, res, w.resultTTL(), w.cfg.KeepResultForever); err != nil {
		log.Printf("worker: finalize (%s) error id=%s err=%v", marker, def.ID, err)
		return
	}
	if w.prom != nil {
		w.prom.JobDuration.WithLabelValues(def.Function, marker).Observe(time.Since(start).Seconds())
		w.prom.JobResults.WithLabelValues(def.Function, marker).Inc()
	}
}

func (w *Worker) finalizeFailure(ctx context.Context, def *codec.JobDef, message string, start time.Time, countAsFailed bool) {
	res := &codec.JobResult{
		JobDef:       *def,
		Success:      false,
		ErrorMessage: message,
		StartTime:    start.UnixMilli(),
		FinishTime:   time.Now().UnixMilli(),
		WorkerName:   w.cfg.WorkerName,
	}
	if err := w.store.Finalize(ctx, def.ID, def.QueueName, res, w.resultTTL(), w.cfg.KeepResultForever); err != nil {
		log.Printf("worker: finalize (failure) error id=%s err=%v", def.ID, err)
		return
	}
	if countAsFailed {
		w.metrics.IncFailed()
		if w.prom != nil {
			w.prom.JobResults.WithLabelValues(def.Function, "failed").Inc()
		}
	}
}

// finalizeDecodeFailure handles the case where the job definition itself
// could not be decoded: only the identity and the queue it was claimed
// from are known, so the result record carries an empty function rather
// than a fabricated one.
func (w *Worker) finalizeDecodeFailure(ctx context.Context, id, message string, start time.Time) {
	def := &codec.JobDef{ID: id, QueueName: w.cfg.QueueName}
	w.finalizeFailure(ctx, def, message, start, false)
}

// requeueForRetry implements the "Retry signal" outcome: re-score the queue
// entry for a future attempt, carrying def's already-incremented JobTry
// forward into the stored definition (spec §4.F outcome table). The retry
// budget itself (job_try vs max_tries) is decided by the caller before this
// is reached.
func (w *Worker) requeueForRetry(ctx context.Context, def *codec.JobDef, deferHint time.Duration) {
	delay := deferHint
	if delay <= 0 {
		delay = w.cfg.BackoffFunc(def.JobTry)
	}

	newScore := time.Now().Add(delay).UnixMilli()
	if err := w.store.RequeueRetry(ctx, def, newScore); err != nil {
		log.Printf("worker: requeue_retry error id=%s err=%v", def.ID, err)
		return
	}
	w.metrics.IncRetried()
	if w.prom != nil {
		w.prom.JobResults.WithLabelValues(def.Function, "retried").Inc()
	}
}

func (w *Worker) resultTTL() time.Duration {
	if w.cfg.KeepResultForever {
		return 0
	}
	return w.cfg.KeepResult
}
