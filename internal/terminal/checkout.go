// Package terminal holds the checkout flow of one point-of-sale terminal.
// The UI shell owns a Session and passes it explicitly; nothing here keeps
// ambient state.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"possync/internal/client"
	"possync/internal/dto"
	"possync/internal/offline"
	"possync/internal/payment"
	"possync/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrEmptyCart = errors.New("cart is empty")

// Session is the cart and identity of the cashier currently at the till.
type Session struct {
	StoreID   string
	CashierID string
	ClientID  *string
	Cart      pricing.Cart
}

func NewSession(storeID, cashierID string) *Session {
	return &Session{StoreID: storeID, CashierID: cashierID}
}

// Queue receives sales that could not be committed online.
type Queue interface {
	Enqueue(ctx context.Context, rec offline.SaleRecord) (uint64, error)
}

type Submitter interface {
	SubmitSale(ctx context.Context, req dto.CreateSaleRequest, idempotencyKey string) (*dto.SaleResponse, error)
}

// Connectivity is the terminal's view of the server link.
type Connectivity interface {
	Online() bool
	Observe(online bool)
}

// Receipt describes a completed checkout. SaleID is empty while the sale
// waits in the offline queue.
type Receipt struct {
	LocalID string             `json:"local_id"`
	SaleID  string             `json:"sale_id,omitempty"`
	Queued  bool               `json:"queued"`
	Handle  uint64             `json:"handle,omitempty"`
	Lines   []pricing.CartLine `json:"lines"`
	Totals  pricing.Totals     `json:"totals"`
	Payment payment.Details    `json:"payment"`
}

type Checkout struct {
	queue   Queue
	sub     Submitter
	link    Connectivity
	timeout time.Duration
	now     func() time.Time
}

func NewCheckout(queue Queue, sub Submitter, link Connectivity, timeout time.Duration) *Checkout {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checkout{queue: queue, sub: sub, link: link, timeout: timeout, now: time.Now}
}

// Complete records the session's sale. Online, it is committed directly;
// when the server is unreachable it is queued for the reconciler. A server
// rejection or a payment error is returned to the cashier and nothing is
// queued; a refused token is not a rejection of the sale. On success the cart is cleared; on error it is left untouched.
func (c *Checkout) Complete(ctx context.Context, s *Session, mode string, details payment.Details) (*Receipt, error) {
	lines := s.Cart.Lines()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	totals := pricing.ComputeTotals(lines)

	settled, err := payment.Settle(mode, details, totals.TotalTTC)
	if err != nil {
		return nil, err
	}

	rec := offline.SaleRecord{
		LocalID:        uuid.NewString(),
		StoreID:        s.StoreID,
		CashierID:      s.CashierID,
		ClientID:       s.ClientID,
		Lines:          lines,
		PaymentMode:    mode,
		PaymentDetails: settled,
		TotalHT:        totals.TotalHT,
		TotalVAT:       totals.TotalVAT,
		TotalTTC:       totals.TotalTTC,
		TotalDiscount:  totals.TotalDiscount,
		CreatedAt:      c.now().UTC(),
	}
	receipt := &Receipt{
		LocalID: rec.LocalID,
		Lines:   lines,
		Totals:  totals,
		Payment: settled,
	}

	if c.link.Online() {
		resp, err := c.submitOnline(ctx, rec)
		switch {
		case err == nil:
			s.Cart.Clear()
			receipt.SaleID = resp.ID
			return receipt, nil
		case errors.Is(err, client.ErrRejected):
			return nil, err
		case errors.Is(err, client.ErrUnauthorized):
			// The link is up; only the token is stale. Keep the sale.
			log.Error().Err(err).Str("local_id", rec.LocalID).Msg("checkout: terminal token refused, queuing sale")
		default:
			// The server may still have committed it; the local id goes
			// with the queued copy so the resubmission is deduplicated.
			log.Warn().Err(err).Str("local_id", rec.LocalID).Msg("checkout: online commit failed, queuing sale")
			c.link.Observe(false)
		}
	}

	handle, err := c.queue.Enqueue(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("local_id", rec.LocalID).Int64("total_ttc", rec.TotalTTC).Msg("checkout: sale NOT recorded")
		return nil, fmt.Errorf("checkout: sale not recorded, retry or note it manually: %w", err)
	}
	s.Cart.Clear()
	receipt.Queued = true
	receipt.Handle = handle
	return receipt, nil
}

func (c *Checkout) submitOnline(ctx context.Context, rec offline.SaleRecord) (*dto.SaleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := rec.Request()
	req.SyncedFromOffline = false
	req.OfflineCreatedAt = nil
	return c.sub.SubmitSale(ctx, req, rec.LocalID)
}
