// Package apierror provides the error envelope returned by every 4xx/5xx
// response. Internal details (DB errors, stack traces) never reach clients.
package apierror

// Codes shared with terminals. A terminal treats any of these except
// INTERNAL_ERROR and RATE_LIMITED as a permanent rejection of the sale.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeProductInactive     = "PRODUCT_INACTIVE"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeStalePrice          = "STALE_PRICE"
	CodePaymentInsufficient = "PAYMENT_INSUFFICIENT"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

type APIError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func New(code, msg string) *APIError {
	return &APIError{Code: code, Detail: msg}
}

// ValidationError wraps multiple field errors.
type ValidationError struct {
	Code   string            `json:"code"`
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Code: CodeValidation, Detail: "validation failed", Fields: fields}
}
