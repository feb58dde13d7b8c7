package handler

import (
	"errors"
	"net/http"
	"reflect"

	"possync/internal/apierror"
	"possync/internal/middleware"
	"possync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0 and max=100 work on VAT rates.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false after writing the error response; the caller must return.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeValidation, "invalid JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodeValidation, err.Error()))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// identity extracts the sale scope from the JWT claims.
func identity(c *gin.Context) service.Identity {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return service.Identity{}
	}
	return service.Identity{CashierID: claims.UserID, StoreID: claims.StoreID}
}

// respondError maps a service error to its status code and envelope.
// Unknown errors are logged and reported as 500 without detail.
func respondError(c *gin.Context, err error) {
	code := service.RejectReason(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrProductInactive),
		errors.Is(err, service.ErrPaymentInsufficient):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrSaleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrStalePrice):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("path", c.FullPath()).
			Msg("request failed")
		c.JSON(status, apierror.New(apierror.CodeInternal, "internal server error"))
		return
	}
	c.JSON(status, apierror.New(code, err.Error()))
}
