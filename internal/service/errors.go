package service

import "errors"

// Domain errors returned by the services. Handlers map them to HTTP status
// codes; callers match with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrProductNotFound     = errors.New("product not found")
	ErrProductInactive     = errors.New("product is inactive")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrStalePrice          = errors.New("submitted price differs from catalog")
	ErrPaymentInsufficient = errors.New("payment does not cover the sale total")
	ErrSaleNotFound        = errors.New("sale not found")
)

// Identity is the authenticated caller of a sale operation.
type Identity struct {
	CashierID string
	StoreID   string
}
