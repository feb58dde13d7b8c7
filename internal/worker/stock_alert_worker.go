package worker

// stock_alert_worker.go
// Processes low-stock jobs emitted by the sale commit when a decrement
// leaves a stock level at or below its minimum.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrBadPayload marks a job that can never succeed.
var ErrBadPayload = errors.New("invalid job payload")

// StockAlertPayload is the job body sent to QueueStockAlerts.
type StockAlertPayload struct {
	StoreID     string    `json:"store_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	MinQuantity int       `json:"min_quantity"`
	SaleID      string    `json:"sale_id"`
	RaisedAt    time.Time `json:"raised_at"`
}

// AlertStore keeps the latest open alert per store and product.
type AlertStore interface {
	Record(ctx context.Context, alert StockAlertPayload) error
	List(ctx context.Context, storeID string) ([]StockAlertPayload, error)
}

type StockAlertWorker struct {
	store AlertStore
}

func NewStockAlertWorker(store AlertStore) *StockAlertWorker {
	return &StockAlertWorker{store: store}
}

func (w *StockAlertWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload StockAlertPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if payload.StoreID == "" || payload.ProductID == "" {
		return fmt.Errorf("%w: missing store_id or product_id", ErrBadPayload)
	}

	if err := w.store.Record(ctx, payload); err != nil {
		return err
	}
	log.Warn().
		Str("store_id", payload.StoreID).
		Str("product_id", payload.ProductID).
		Int("quantity", payload.Quantity).
		Int("min_quantity", payload.MinQuantity).
		Msg("stock_alert_worker: product at or below minimum")
	return nil
}

// ── Redis alert store ─────────────────────────────────────────────────────────

const (
	alertKeyPrefix = "stock_alerts:"
	alertTTL       = 7 * 24 * time.Hour
)

// RedisAlertStore keeps alerts in one hash per store, keyed by product.
type RedisAlertStore struct {
	rdb *redis.Client
}

func NewRedisAlertStore(rdb *redis.Client) *RedisAlertStore {
	return &RedisAlertStore{rdb: rdb}
}

func (s *RedisAlertStore) Record(ctx context.Context, alert StockAlertPayload) error {
	b, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	key := alertKeyPrefix + alert.StoreID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, alert.ProductID, b)
	pipe.Expire(ctx, key, alertTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisAlertStore) List(ctx context.Context, storeID string) ([]StockAlertPayload, error) {
	vals, err := s.rdb.HGetAll(ctx, alertKeyPrefix+storeID).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StockAlertPayload, 0, len(vals))
	for _, v := range vals {
		var a StockAlertPayload
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
