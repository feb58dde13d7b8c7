// Package reconcile drains the terminal's offline queue into the sale server.
package reconcile

import (
	"context"
	"errors"
	"iter"
	"time"

	"possync/internal/client"
	"possync/internal/dto"
	"possync/internal/infra"
	"possync/internal/metrics"
	"possync/internal/offline"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Queue is the part of the offline store the reconciler drives.
type Queue interface {
	ListUnsynced(ctx context.Context) iter.Seq2[offline.SaleRecord, error]
	MarkSynced(ctx context.Context, id uint64, syncedAt time.Time, saleID string) error
	MarkFailed(ctx context.Context, id uint64, reason string) error
}

// Submitter sends one sale to the server, keyed for deduplication.
type Submitter interface {
	SubmitSale(ctx context.Context, req dto.CreateSaleRequest, idempotencyKey string) (*dto.SaleResponse, error)
}

// Result summarises one pass.
type Result struct {
	Synced   int `json:"synced"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

type Reconciler struct {
	queue   Queue
	sub     Submitter
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group
}

// New returns a reconciler that bounds each submission by timeout.
func New(queue Queue, sub Submitter, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{queue: queue, sub: sub, timeout: timeout, now: time.Now}
}

// Run executes one pass. Callers arriving while a pass is in flight wait for
// it and receive its result instead of starting another.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	v, err, shared := r.group.Do("pass", func() (any, error) {
		return r.pass(ctx)
	})
	if shared {
		log.Debug().Msg("reconcile: joined in-flight pass")
	}
	res, _ := v.(Result)
	return res, err
}

func (r *Reconciler) pass(ctx context.Context) (Result, error) {
	var res Result
	metrics.SyncPassesTotal.Inc()

	// Snapshot first: records queued during the pass wait for the next one.
	var records []offline.SaleRecord
	for rec, err := range r.queue.ListUnsynced(ctx) {
		if err != nil {
			return res, err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return res, nil
	}

	start := time.Now()
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			res.Failed += len(records) - i
			return res, err
		}

		saleID, err := r.submit(ctx, rec)
		switch {
		case err == nil:
			if mErr := r.queue.MarkSynced(ctx, rec.ID, r.now(), saleID); mErr != nil {
				// The server holds the sale; the next pass replays it by key.
				log.Error().Err(mErr).Str("local_id", rec.LocalID).Msg("reconcile: mark synced failed")
				res.Failed++
				metrics.SyncRecordsTotal.WithLabelValues("failed").Inc()
				continue
			}
			res.Synced++
			metrics.SyncRecordsTotal.WithLabelValues("synced").Inc()

		case errors.Is(err, infra.ErrCircuitOpen):
			res.Failed += len(records) - i
			log.Warn().Int("remaining", len(records)-i).Msg("reconcile: server circuit open, pass stopped")
			r.logSummary(res, start)
			return res, nil

		case errors.Is(err, client.ErrRejected):
			res.Rejected++
			metrics.SyncRecordsTotal.WithLabelValues("rejected").Inc()
			r.markFailed(ctx, rec, err)

		default:
			res.Failed++
			metrics.SyncRecordsTotal.WithLabelValues("failed").Inc()
			r.markFailed(ctx, rec, err)
		}
	}

	r.logSummary(res, start)
	return res, nil
}

func (r *Reconciler) submit(ctx context.Context, rec offline.SaleRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.sub.SubmitSale(ctx, rec.Request(), rec.LocalID)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// markFailed records the attempt; the sale stays queued either way and
// remains visible in the pending count until resolved.
func (r *Reconciler) markFailed(ctx context.Context, rec offline.SaleRecord, cause error) {
	log.Warn().Err(cause).Str("local_id", rec.LocalID).Int("attempts", rec.Attempts+1).Msg("reconcile: sale not synced")
	if err := r.queue.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		log.Error().Err(err).Str("local_id", rec.LocalID).Msg("reconcile: mark failed")
	}
}

func (r *Reconciler) logSummary(res Result, start time.Time) {
	log.Info().
		Int("synced", res.Synced).
		Int("rejected", res.Rejected).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("reconcile: pass complete")
}
