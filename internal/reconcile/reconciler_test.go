package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"possync/internal/client"
	"possync/internal/dto"
	"possync/internal/infra"
	"possync/internal/offline"
	"possync/internal/payment"
	"possync/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer stands in for the sale server. fail decides, per idempotency
// key and attempt number, what a submission returns.
type fakeServer struct {
	mu       sync.Mutex
	keys     []string
	requests []dto.CreateSaleRequest
	attempts map[string]int
	fail     func(key string, attempt int) error
	block    chan struct{}
	entered  chan struct{}
}

func (f *fakeServer) SubmitSale(ctx context.Context, req dto.CreateSaleRequest, key string) (*dto.SaleResponse, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[key]++
	attempt := f.attempts[key]
	f.keys = append(f.keys, key)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(key, attempt); err != nil {
			return nil, err
		}
	}
	return &dto.SaleResponse{ID: "sale-" + key}, nil
}

func (f *fakeServer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newQueue(t *testing.T, n int) *offline.Store {
	t.Helper()
	q, err := offline.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	line := pricing.NewLine(pricing.Item{ProductID: "A", UnitPriceHT: 1000, VATRate: decimal.NewFromInt(20)}, 1)
	for i := 1; i <= n; i++ {
		_, err := q.Enqueue(context.Background(), offline.SaleRecord{
			LocalID:        fmt.Sprintf("l-%d", i),
			StoreID:        "store-1",
			CashierID:      "cashier-1",
			Lines:          []pricing.CartLine{line},
			PaymentMode:    payment.ModeCash,
			PaymentDetails: payment.Details{CashAmount: 1200},
			TotalHT:        1000,
			TotalVAT:       200,
			TotalTTC:       1200,
		})
		require.NoError(t, err)
	}
	return q
}

func pending(t *testing.T, q *offline.Store) int64 {
	t.Helper()
	n, err := q.CountUnsynced(context.Background())
	require.NoError(t, err)
	return n
}

func TestRun_SyncsAllInCreationOrder(t *testing.T) {
	q := newQueue(t, 3)
	srv := &fakeServer{}

	res, err := New(q, srv, time.Second).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Synced: 3}, res)
	assert.Equal(t, []string{"l-1", "l-2", "l-3"}, srv.calls())
	assert.EqualValues(t, 0, pending(t, q))

	req := srv.requests[0]
	require.NotNil(t, req.OfflineID)
	assert.Equal(t, "l-1", *req.OfflineID)
	assert.True(t, req.SyncedFromOffline)
	require.NotNil(t, req.OfflineCreatedAt)
	assert.Equal(t, int64(1000), req.Items[0].UnitPriceHT)

	rec, err := q.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, rec.SaleID)
	assert.Equal(t, "sale-l-1", *rec.SaleID)
}

func TestRun_FailingRecordDoesNotBlockOthers(t *testing.T) {
	q := newQueue(t, 3)
	srv := &fakeServer{fail: func(key string, attempt int) error {
		if key == "l-2" && attempt == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	r := New(q, srv, time.Second)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 2, Failed: 1}, res)
	assert.EqualValues(t, 1, pending(t, q))

	rec, err := q.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, rec.Synced)
	assert.Equal(t, 1, rec.Attempts)

	res, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 1}, res)
	assert.EqualValues(t, 0, pending(t, q))
}

func TestRun_RejectedStaysQueued(t *testing.T) {
	q := newQueue(t, 2)
	srv := &fakeServer{fail: func(key string, _ int) error {
		if key == "l-1" {
			return &client.RejectedError{Status: 409, Code: "INSUFFICIENT_STOCK"}
		}
		return nil
	}}

	res, err := New(q, srv, time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 1, Rejected: 1}, res)

	rec, err := q.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, rec.Synced)
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "INSUFFICIENT_STOCK")
}

func TestRun_AmbiguousFailureResubmitsSameKey(t *testing.T) {
	q := newQueue(t, 1)
	srv := &fakeServer{fail: func(_ string, attempt int) error {
		if attempt == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}}
	r := New(q, srv, time.Second)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"l-1", "l-1"}, srv.calls())
	assert.EqualValues(t, 0, pending(t, q))
}

func TestRun_TimeoutIsFailure(t *testing.T) {
	q := newQueue(t, 1)
	srv := &fakeServer{block: make(chan struct{})}

	res, err := New(q, srv, 20*time.Millisecond).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, res)
	assert.EqualValues(t, 1, pending(t, q))
}

func TestRun_StopsWhenCircuitOpen(t *testing.T) {
	q := newQueue(t, 3)
	srv := &fakeServer{fail: func(string, int) error { return infra.ErrCircuitOpen }}

	res, err := New(q, srv, time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 3}, res)
	assert.Len(t, srv.calls(), 1)
	assert.EqualValues(t, 3, pending(t, q))
}

func TestRun_CoalescesConcurrentTriggers(t *testing.T) {
	q := newQueue(t, 2)
	srv := &fakeServer{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	r := New(q, srv, 5*time.Second)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = r.Run(context.Background())
	}()
	<-srv.entered

	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Run(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(srv.block)
	wg.Wait()

	// Two records, each submitted exactly once across all triggers.
	assert.Equal(t, []string{"l-1", "l-2"}, srv.calls())
	assert.EqualValues(t, 0, pending(t, q))
	for _, res := range results {
		assert.Equal(t, Result{Synced: 2}, res)
	}
}

func TestRun_EmptyQueue(t *testing.T) {
	q := newQueue(t, 0)
	res, err := New(q, &fakeServer{}, time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
