package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ObserveStore wraps a single logical store operation (not necessarily a
// single redis command - TryEnqueue is one op spanning a WATCH/MULTI/EXEC
// round trip, Finalize one spanning a MULTI/EXEC pipeline) with duration
// and error-class metrics.
func (p *Prom) ObserveStore(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = "error"
		p.StoreErrorsTotal.WithLabelValues(op, classifyStoreErr(err)).Inc()
	}
	p.StoreOpDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func classifyStoreErr(err error) string {
	switch {
	case errors.Is(err, redis.Nil):
		return "not_found"
	case errors.Is(err, redis.TxFailedErr):
		return "tx_conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "refused") || strings.Contains(msg, "connection") || strings.Contains(msg, "eof"):
		return "connection"
	case strings.Contains(msg, "readonly") || strings.Contains(msg, "loading"):
		return "unavailable"
	default:
		return "unknown"
	}
}
