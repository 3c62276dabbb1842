// Package store implements the atomic multi-key primitives every other
// queue component is built on: enqueue-if-absent (watch+multi-exec),
// claim-if-absent (set-if-absent), and the atomic finalize that retires a
// job. Grounded on the teacher's repo/jobs_repo.go "observe wrapper around
// every op" idiom and aiorq's connections.py AioRedis methods.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geocoder89/redisq/internal/observability"
	"github.com/geocoder89/redisq/internal/queue/clock"
	"github.com/geocoder89/redisq/internal/queue/codec"
	"github.com/geocoder89/redisq/internal/queue/keys"
)

// ErrStoreUnavailable wraps a transient connect/IO failure from Redis
// (spec §7 StoreUnavailable). Callers decide whether to retry.
var ErrStoreUnavailable = errors.New("store: redis unavailable")

// ExpiresExtra is the slack the source adds on top of the
// score-minus-enqueue-time window when no explicit expiry is given
// (aiorq constants.py's effective 24h default window).
const ExpiresExtra = 24 * time.Hour

// InProgressSlack is added to job_timeout when sizing the in-progress
// marker's TTL, so a worker that's merely slow to finalize doesn't lose
// ownership mid-flight.
const InProgressSlack = 30 * time.Second

// AbortJobMaxAge is how long an unobserved abort-set entry survives
// before CullAbortSet removes it (spec §3 Abort set).
const AbortJobMaxAge = 60 * time.Second

type RawClient interface {
	redis.Cmdable
}

type Store struct {
	rdb    RawClient
	schema keys.Schema
	prom   *observability.Prom
}

func New(rdb RawClient, schema keys.Schema, prom *observability.Prom) *Store {
	return &Store{rdb: rdb, schema: schema, prom: prom}
}

// Raw exposes the underlying client for job functions that want direct
// Redis access (spec §9 "Hooks and ctx": functions.Context.Redis).
func (s *Store) Raw() RawClient {
	return s.rdb
}

func (s *Store) observe(op string, fn func() error) error {
	if s.prom == nil {
		return fn()
	}
	return s.prom.ObserveStore(op, fn)
}

// TryEnqueue implements spec §4.D's algorithm: watch the definition key,
// check existence of the definition and result keys, and inside one
// atomic multi-op write the definition and add it to the queue index. A
// concurrent writer invalidating the watch is not retried - it wins, and
// this call reports "not created".
func (s *Store) TryEnqueue(ctx context.Context, def *codec.JobDef, score int64, expires time.Duration) (created bool, err error) {
	jobKey := s.schema.Job(def.ID)
	resultKey := s.schema.Result(def.ID)
	queueKey := keys.Queue(def.QueueName)

	err = s.observe("enqueue", func() error {
		txErr := s.txWatch(ctx, func(tx *redis.Tx) error {
			existsDef, err := tx.Exists(ctx, jobKey).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			existsResult, err := tx.Exists(ctx, resultKey).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if existsDef > 0 || existsResult > 0 {
				created = false
				return nil
			}

			ttl := expires
			if ttl <= 0 {
				now := clock.NowMS()
				window := time.Duration(score-now)*time.Millisecond + ExpiresExtra
				if window <= 0 {
					window = ExpiresExtra
				}
				ttl = window
			}

			payload, encErr := codec.EncodeJob(def)
			if encErr != nil {
				return encErr
			}

			_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, jobKey, payload, ttl)
				pipe.ZAdd(ctx, queueKey, redis.Z{Score: float64(score), Member: def.ID})
				return nil
			})
			if pipeErr != nil {
				return pipeErr
			}

			created = true
			return nil
		}, jobKey)

		if errors.Is(txErr, redis.TxFailedErr) {
			created = false
			return nil
		}
		return txErr
	})

	return created, err
}

func (s *Store) txWatch(ctx context.Context, fn func(tx *redis.Tx) error, keysToWatch ...string) error {
	watcher, ok := s.rdb.(*redis.Client)
	if ok {
		return watcher.Watch(ctx, fn, keysToWatch...)
	}
	// FailoverClient also satisfies *redis.Client via NewFailoverClient's
	// return type in go-redis/v9, so this branch is defensive only.
	return fmt.Errorf("store: underlying client does not support Watch")
}

// ClaimJob attempts to take exclusive ownership of id: it checks for an
// existing result record (terminal already, e.g. stale queue entry after a
// crash) then creates the in-progress marker with SETNX. A false return
// with a nil error means another worker already owns it.
func (s *Store) ClaimJob(ctx context.Context, id string, jobTimeout time.Duration) (claimed bool, err error) {
	err = s.observe("claim", func() error {
		n, existsErr := s.rdb.Exists(ctx, s.schema.Result(id)).Result()
		if existsErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, existsErr)
		}
		if n > 0 {
			claimed = false
			return nil
		}

		ok, setErr := s.rdb.SetNX(ctx, s.schema.InProgress(id), clock.NowMS(), jobTimeout+InProgressSlack).Result()
		if setErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, setErr)
		}
		claimed = ok
		return nil
	})
	return claimed, err
}

// IncrRetry atomically bumps the per-job retry counter and returns its new
// value (spec §4.F step 2, "Executing one job").
func (s *Store) IncrRetry(ctx context.Context, id string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.observe("incr_retry", func() error {
		pipe := s.rdb.TxPipeline()
		incr := pipe.Incr(ctx, s.schema.Retry(id))
		pipe.Expire(ctx, s.schema.Retry(id), ttl)
		_, err := pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		n = incr.Val()
		return nil
	})
	return n, err
}

// IsAborted reports whether id is present in the global abort set.
func (s *Store) IsAborted(ctx context.Context, id string) (bool, error) {
	var aborted bool
	err := s.observe("is_aborted", func() error {
		_, err := s.rdb.ZScore(ctx, s.schema.Abort(), id).Result()
		if errors.Is(err, redis.Nil) {
			aborted = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		aborted = true
		return nil
	})
	return aborted, err
}

// RequestAbort inserts id into the abort set scored by request time
// (spec §4.C abort()).
func (s *Store) RequestAbort(ctx context.Context, id string) error {
	return s.observe("request_abort", func() error {
		_, err := s.rdb.ZAdd(ctx, s.schema.Abort(), redis.Z{Score: float64(clock.NowMS()), Member: id}).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
}

// CullAbortSet removes abort entries older than AbortJobMaxAge (spec §3
// invariant 4: stale abort requests expire harmlessly).
func (s *Store) CullAbortSet(ctx context.Context) error {
	return s.observe("cull_abort_set", func() error {
		cutoff := clock.NowMS() - clock.ToMS(AbortJobMaxAge)
		_, err := s.rdb.ZRemRangeByScore(ctx, s.schema.Abort(), "-inf", fmt.Sprintf("%d", cutoff)).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
}

// Finalize atomically writes the result record, removes the queue entry,
// the in-progress marker, the retry counter, and any abort entry (spec
// §4.F "Finalization").
func (s *Store) Finalize(ctx context.Context, id, queueName string, result *codec.JobResult, ttl time.Duration, keepForever bool) error {
	return s.observe("finalize", func() error {
		payload, err := codec.EncodeResult(result)
		if err != nil {
			return err
		}

		queueKey := keys.Queue(queueName)
		pipe := s.rdb.TxPipeline()
		if keepForever {
			pipe.Set(ctx, s.schema.Result(id), payload, 0)
		} else {
			pipe.Set(ctx, s.schema.Result(id), payload, ttl)
		}
		pipe.ZRem(ctx, queueKey, id)
		pipe.Del(ctx, s.schema.InProgress(id))
		pipe.Del(ctx, s.schema.Retry(id))
		pipe.ZRem(ctx, s.schema.Abort(), id)

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
}

// RequeueRetry re-scores the queue entry, drops the in-progress marker, and
// rewrites the job definition record with def's (already incremented)
// JobTry, preserving its existing TTL, so the next claim's GetJobDef
// observes the real attempt count (spec §4.F step 2, "Retry signal" outcome).
func (s *Store) RequeueRetry(ctx context.Context, def *codec.JobDef, newScore int64) error {
	return s.observe("requeue_retry", func() error {
		payload, err := codec.EncodeJob(def)
		if err != nil {
			return err
		}

		queueKey := keys.Queue(def.QueueName)
		pipe := s.rdb.TxPipeline()
		pipe.Set(ctx, s.schema.Job(def.ID), payload, redis.KeepTTL)
		pipe.ZAdd(ctx, queueKey, redis.Z{Score: float64(newScore), Member: def.ID})
		pipe.Del(ctx, s.schema.InProgress(def.ID))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
}

// PollReady returns up to limit job identities from queueName with score
// <= now, oldest score first (spec §4.F main-loop step 1).
func (s *Store) PollReady(ctx context.Context, queueName string, now int64, limit int64) ([]string, error) {
	var ids []string
	err := s.observe("poll_ready", func() error {
		res, err := s.rdb.ZRangeByScore(ctx, keys.Queue(queueName), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    fmt.Sprintf("%d", now),
			Offset: 0,
			Count:  limit,
		}).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ids = res
		return nil
	})
	return ids, err
}

// GetJobDef reads and decodes the definition record for id.
func (s *Store) GetJobDef(ctx context.Context, id string) (*codec.JobDef, error) {
	var def *codec.JobDef
	err := s.observe("get_job_def", func() error {
		b, err := s.rdb.Get(ctx, s.schema.Job(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		d, decErr := codec.DecodeJob(id, b)
		if decErr != nil {
			return decErr
		}
		def = d
		return nil
	})
	return def, err
}

// GetResult reads and decodes the result record for id, if any.
func (s *Store) GetResult(ctx context.Context, id string) (*codec.JobResult, error) {
	var res *codec.JobResult
	err := s.observe("get_result", func() error {
		b, err := s.rdb.Get(ctx, s.schema.Result(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		r, decErr := codec.DecodeResult(id, b)
		if decErr != nil {
			return decErr
		}
		res = r
		return nil
	})
	return res, err
}

// QueueScore returns the current score for id in queueName, if present.
func (s *Store) QueueScore(ctx context.Context, queueName, id string) (score int64, found bool, err error) {
	err = s.observe("queue_score", func() error {
		f, zErr := s.rdb.ZScore(ctx, keys.Queue(queueName), id).Result()
		if errors.Is(zErr, redis.Nil) {
			found = false
			return nil
		}
		if zErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, zErr)
		}
		score = int64(f)
		found = true
		return nil
	})
	return score, found, err
}

func (s *Store) InProgressExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.observe("in_progress_exists", func() error {
		n, err := s.rdb.Exists(ctx, s.schema.InProgress(id)).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		exists = n > 0
		return nil
	})
	return exists, err
}

// WriteWorkerRecord and WriteHealthCheck back the worker heartbeat
// (spec §4.F "Heartbeat / health").
func (s *Store) WriteWorkerRecord(ctx context.Context, name string, payload []byte, ttl time.Duration) error {
	return s.observe("write_worker_record", func() error {
		if err := s.rdb.Set(ctx, s.schema.Worker(name), payload, ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (s *Store) WriteHealthCheck(ctx context.Context, name string, blob string, ttl time.Duration) error {
	return s.observe("write_health_check", func() error {
		if err := s.rdb.Set(ctx, s.schema.HealthCheck(name), blob, ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (s *Store) GetHealthCheck(ctx context.Context, name string) (string, error) {
	var blob string
	err := s.observe("get_health_check", func() error {
		v, err := s.rdb.Get(ctx, s.schema.HealthCheck(name)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		blob = v
		return nil
	})
	return blob, err
}

func (s *Store) WriteTaskRegistry(ctx context.Context, payload []byte) error {
	return s.observe("write_task_registry", func() error {
		if err := s.rdb.Set(ctx, s.schema.Task(), payload, 0).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (s *Store) ReadTaskRegistry(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.observe("read_task_registry", func() error {
		b, err := s.rdb.Get(ctx, s.schema.Task()).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		payload = b
		return nil
	})
	return payload, err
}

// ScanKeys is a small SCAN-cursor helper shared by introspection reads
// over worker:* / result:* patterns, avoiding KEYS in production.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := s.observe("scan_keys", func() error {
		var cursor uint64
		for {
			batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			out = append(out, batch...)
			cursor = next
			if cursor == 0 {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) MGet(ctx context.Context, keysToGet []string) ([]any, error) {
	if len(keysToGet) == 0 {
		return nil, nil
	}
	var out []any
	err := s.observe("mget", func() error {
		res, err := s.rdb.MGet(ctx, keysToGet...).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		out = res
		return nil
	})
	return out, err
}
