// Package introspect implements the read-only collaborator queried by the
// CLI and the HTTP surface (spec §4.G): queued jobs, worker records,
// registered functions, and results. Queued jobs, worker records, and the
// full result listing are backed by short-TTL caching over the shared
// store so a dashboard hammering these endpoints doesn't turn into a SCAN
// storm; function registry, health-check, and by-id result reads go to
// the store every time.
package introspect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/geocoder89/redisq/internal/cache"
	"github.com/geocoder89/redisq/internal/queue/codec"
	"github.com/geocoder89/redisq/internal/queue/keys"
	"github.com/geocoder89/redisq/internal/queue/store"
)

type Reader struct {
	store  *store.Store
	schema keys.Schema
	cache  *cache.Cache
}

func New(st *store.Store, schema keys.Schema, cacheTTL time.Duration) *Reader {
	return &Reader{store: st, schema: schema, cache: cache.New(cacheTTL)}
}

// QueuedJobs lists the identities currently sitting in queueName (ready or
// deferred alike), resolved to their full definitions.
func (r *Reader) QueuedJobs(ctx context.Context, queueName string) ([]*codec.JobDef, error) {
	cacheKey := "queued:" + queueName
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.([]*codec.JobDef), nil
	}

	ids, err := r.store.PollReady(ctx, queueName, farFutureMS, 10000)
	if err != nil {
		return nil, err
	}

	defs := make([]*codec.JobDef, 0, len(ids))
	for _, id := range ids {
		def, err := r.store.GetJobDef(ctx, id)
		if err != nil || def == nil {
			continue
		}
		defs = append(defs, def)
	}

	r.cache.Set(cacheKey, defs)
	return defs, nil
}

// AllJobResults reads result records. With explicit ids it resolves each by
// identity; with none, it scans every result:* key, matching aiorq's own
// no-arg all_job_results() (connections.py's keys(result_key_prefix + '*')),
// and returns them ordered by enqueue time.
func (r *Reader) AllJobResults(ctx context.Context, ids []string) ([]*codec.JobResult, error) {
	if len(ids) > 0 {
		out := make([]*codec.JobResult, 0, len(ids))
		for _, id := range ids {
			res, err := r.store.GetResult(ctx, id)
			if err != nil {
				continue
			}
			if res != nil {
				out = append(out, res)
			}
		}
		return out, nil
	}

	cacheKey := "results:all"
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.([]*codec.JobResult), nil
	}

	rkeys, err := r.store.ScanKeys(ctx, r.schema.ResultPattern())
	if err != nil {
		return nil, err
	}

	vals, err := r.store.MGet(ctx, rkeys)
	if err != nil {
		return nil, err
	}

	prefix := r.schema.Prefix + ":result:"
	out := make([]*codec.JobResult, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		id := strings.TrimPrefix(rkeys[i], prefix)
		res, err := codec.DecodeResult(id, []byte(s))
		if err != nil {
			continue
		}
		out = append(out, res)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EnqueueTime < out[j].EnqueueTime })

	r.cache.Set(cacheKey, out)
	return out, nil
}

// AllWorkers scans worker:* records (spec §4.G).
func (r *Reader) AllWorkers(ctx context.Context) ([]*codec.WorkerRecord, error) {
	cacheKey := "workers"
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.([]*codec.WorkerRecord), nil
	}

	wkeys, err := r.store.ScanKeys(ctx, r.schema.WorkerPattern())
	if err != nil {
		return nil, err
	}

	vals, err := r.store.MGet(ctx, wkeys)
	if err != nil {
		return nil, err
	}

	out := make([]*codec.WorkerRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := codec.DecodeWorkerRecord([]byte(s))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}

	r.cache.Set(cacheKey, out)
	return out, nil
}

// GetJobFuncs returns the function registry published by workers (spec
// §4.G): one FuncRecord per registered function/cron entry, last writer
// wins, refreshed whenever a worker starts (WriteTaskRegistry).
func (r *Reader) GetJobFuncs(ctx context.Context) ([]codec.FuncRecord, error) {
	payload, err := r.store.ReadTaskRegistry(ctx)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return codec.DecodeFuncRecords(payload)
}

// GetHealthCheck returns the raw health-check blob for a named worker.
func (r *Reader) GetHealthCheck(ctx context.Context, workerName string) (string, error) {
	blob, err := r.store.GetHealthCheck(ctx, workerName)
	if err != nil {
		return "", fmt.Errorf("introspect: health check for %s: %w", workerName, err)
	}
	return blob, nil
}

const farFutureMS = int64(1) << 60
