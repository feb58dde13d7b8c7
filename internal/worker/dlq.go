package worker

import (
	"context"
	"encoding/json"
	"time"

	"possync/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Dead-lettered jobs sit in one Redis list per source queue, newest first.
const DLQPrefix = "dlq:"

// DLQEntry is a job the pool gave up on. For stock alerts the store and
// product are lifted out of the payload so an operator can find the
// affected shelf without decoding it.
type DLQEntry struct {
	Queue     string          `json:"queue"`
	JobType   string          `json:"job_type"`
	StoreID   string          `json:"store_id,omitempty"`
	ProductID string          `json:"product_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failed_at"`
}

func newDLQEntry(queue, jobType string, payload json.RawMessage, reason string, attempts int) DLQEntry {
	e := DLQEntry{
		Queue:    queue,
		JobType:  jobType,
		Payload:  payload,
		Reason:   reason,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	if jobType == jobTypeStockAlert {
		var alert StockAlertPayload
		if json.Unmarshal(payload, &alert) == nil {
			e.StoreID, e.ProductID = alert.StoreID, alert.ProductID
		}
	}
	return e
}

// SendToDLQ parks a failed job. Errors are logged, never returned: the job
// is already lost to the pool.
func SendToDLQ(ctx context.Context, rdb *redis.Client, queue string, jobType string, payload json.RawMessage, reason string, attempts int) {
	entry := newDLQEntry(queue, jobType, payload, reason, attempts)
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: marshal entry")
		return
	}

	key := DLQPrefix + queue
	if err := rdb.LPush(ctx, key, data).Err(); err != nil {
		log.Error().Err(err).Str("dlq_key", key).Str("store_id", entry.StoreID).Str("product_id", entry.ProductID).Msg("dlq: push failed, job dropped")
		return
	}
	metrics.StockAlertsTotal.WithLabelValues("dead_lettered").Inc()

	log.Warn().
		Str("queue", queue).
		Str("job_type", jobType).
		Str("store_id", entry.StoreID).
		Str("product_id", entry.ProductID).
		Str("reason", reason).
		Int("attempts", attempts).
		Msg("dlq: job dead-lettered")
}
