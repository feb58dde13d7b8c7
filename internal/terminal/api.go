package terminal

import (
	"context"
	"errors"
	"net/http"

	"possync/internal/apierror"
	"possync/internal/client"
	"possync/internal/payment"
	"possync/internal/pricing"
	"possync/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// CheckoutItem is one cart entry as the UI shell knows it, priced from its
// local catalog snapshot.
type CheckoutItem struct {
	ProductID   string          `json:"product_id"    validate:"required,max=64"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	UnitPriceHT int64           `json:"unit_price_ht" validate:"min=0"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	Quantity    int             `json:"quantity"      validate:"required,min=1"`
}

type CheckoutRequest struct {
	Items          []CheckoutItem  `json:"items"           validate:"required,min=1,dive"`
	PaymentMode    string          `json:"payment_mode"    validate:"required,oneof=CASH CARD MOBILE MIXED"`
	PaymentDetails payment.Details `json:"payment_details"`
	ClientID       *string         `json:"client_id"       validate:"omitempty,max=64"`
}

// PendingCounter reports how many sales still wait for the server.
type PendingCounter interface {
	CountUnsynced(ctx context.Context) (int64, error)
}

// API is the loopback HTTP surface the till UI drives.
type API struct {
	StoreID   string
	CashierID string
	Checkout  *Checkout
	Syncer    Syncer
	Pending   PendingCounter
	Link      Connectivity
}

var validate = validator.New()

// Handler returns the gin engine for the local API.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", a.status)
	r.POST("/checkout", a.checkout)
	r.POST("/sync", a.sync)
	return r
}

func (a *API) status(c *gin.Context) {
	n, err := a.Pending.CountUnsynced(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.New(apierror.CodeInternal, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": a.Link.Online(), "pending": n})
}

func (a *API) checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeValidation, "invalid JSON: "+err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodeValidation, err.Error()))
		return
	}

	s := NewSession(a.StoreID, a.CashierID)
	s.ClientID = req.ClientID
	for _, it := range req.Items {
		// A product listed twice adds up.
		qty := it.Quantity
		for _, l := range s.Cart.Lines() {
			if l.ProductID == it.ProductID {
				qty += l.Quantity
			}
		}
		s.Cart.Add(pricing.Item{
			ProductID:   it.ProductID,
			Name:        it.Name,
			SKU:         it.SKU,
			UnitPriceHT: it.UnitPriceHT,
			VATRate:     it.VATRate,
		})
		s.Cart.SetQuantity(it.ProductID, qty)
	}

	receipt, err := a.Checkout.Complete(c.Request.Context(), s, req.PaymentMode, req.PaymentDetails)
	var rej *client.RejectedError
	switch {
	case err == nil:
		status := http.StatusCreated
		if receipt.Queued {
			status = http.StatusAccepted
		}
		c.JSON(status, receipt)
	case errors.As(err, &rej):
		c.JSON(rej.Status, apierror.New(rej.Code, rej.Detail))
	case errors.Is(err, payment.ErrInsufficient):
		c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodePaymentInsufficient, err.Error()))
	case errors.Is(err, payment.ErrUnknownMode), errors.Is(err, ErrEmptyCart):
		c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodeValidation, err.Error()))
	default:
		// Includes offline.ErrStorage: the sale was not recorded and the
		// cashier has to act on it.
		c.JSON(http.StatusInternalServerError, apierror.New(apierror.CodeInternal, err.Error()))
	}
}

// sync is the manual trigger. It joins a pass already in flight.
func (a *API) sync(c *gin.Context) {
	res, err := a.Syncer.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, apierror.New(apierror.CodeInternal, err.Error()))
		return
	}
	c.JSON(http.StatusOK, res)
}

var _ Syncer = (*reconcile.Reconciler)(nil)
