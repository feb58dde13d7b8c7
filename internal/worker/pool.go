package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"possync/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueStockAlerts = "jobs:stock_alerts"

	jobTypeStockAlert = "stock_alert"
	maxJobAttempts    = 3
	popErrorBackoff   = 2 * time.Second
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes the payload of one job type. A returned error makes the
// pool retry, then dead-letter the job.
type Handler interface {
	Process(ctx context.Context, raw json.RawMessage) error
}

// WorkerHandlers is wired at the composition root.
type WorkerHandlers struct {
	StockAlert Handler
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// EnqueueStockAlert pushes a low-stock notification job.
func (d *Dispatcher) EnqueueStockAlert(ctx context.Context, payload StockAlertPayload) error {
	err := d.enqueue(ctx, QueueStockAlerts, jobTypeStockAlert, payload)
	if err != nil {
		metrics.StockAlertsTotal.WithLabelValues("enqueue_failed").Inc()
		return err
	}
	metrics.StockAlertsTotal.WithLabelValues("enqueued").Inc()
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Job{Type: jobType, Payload: data})
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// StartWorkerPool launches numWorkers goroutines consuming the job queues.
// Each goroutine blocks on BRPOP; idle workers cost nothing.
func StartWorkerPool(ctx context.Context, rdb *redis.Client, handlers *WorkerHandlers, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go runWorker(ctx, rdb, handlers, i)
	}
	log.Info().Msgf("worker pool started with %d workers", numWorkers)
}

func runWorker(ctx context.Context, rdb *redis.Client, handlers *WorkerHandlers, id int) {
	queues := []string{QueueStockAlerts}
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop: waits up to 5s then loops to check ctx
			result, err := rdb.BRPop(ctx, 5*time.Second, queues...).Result()
			if err != nil {
				if !pauseAfterPopError(ctx, id, err, popErrorBackoff) {
					log.Info().Msgf("worker %d shutting down", id)
					return
				}
				continue
			}
			if len(result) < 2 {
				continue
			}
			processJob(ctx, rdb, handlers, result[0], result[1])
		}
	}
}

// pauseAfterPopError waits out a failed BRPOP so an unreachable Redis does
// not spin the worker. redis.Nil is the normal empty-queue timeout. It
// returns false once ctx is done.
func pauseAfterPopError(ctx context.Context, id int, err error, backoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return true
	}
	log.Warn().Err(err).Int("worker", id).Dur("backoff", backoff).Msg("worker: dequeue failed")
	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func processJob(ctx context.Context, rdb *redis.Client, handlers *WorkerHandlers, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		SendToDLQ(ctx, rdb, queue, "unknown", json.RawMessage(fmt.Sprintf("%q", raw)), "malformed envelope: "+err.Error(), 0)
		return
	}

	h := handlerFor(handlers, job.Type)
	if h == nil {
		SendToDLQ(ctx, rdb, queue, job.Type, job.Payload, "no handler for job type", 0)
		return
	}

	attempts := 0
	err := withRetry(ctx, maxJobAttempts, func(attempt int) error {
		attempts = attempt + 1
		return h.Process(ctx, job.Payload)
	})
	if err != nil {
		metrics.StockAlertsTotal.WithLabelValues("failed").Inc()
		SendToDLQ(ctx, rdb, queue, job.Type, job.Payload, err.Error(), attempts)
		return
	}
	metrics.StockAlertsTotal.WithLabelValues("processed").Inc()
}

func handlerFor(handlers *WorkerHandlers, jobType string) Handler {
	if handlers == nil {
		return nil
	}
	switch jobType {
	case jobTypeStockAlert:
		return handlers.StockAlert
	}
	return nil
}

// withRetry calls fn up to maxAttempts times with exponential backoff.
// Backoff schedule: attempt 1 = immediate, 2 = 1s, 3 = 2s.
// Payload errors (ErrBadPayload) are not retried.
func withRetry(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			wait := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err := fn(i)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBadPayload) {
			return err
		}
	}
	return lastErr
}
