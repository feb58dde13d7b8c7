package handler

import (
	"net/http"

	"possync/internal/apierror"
	"possync/internal/dto"
	"possync/internal/service"

	"github.com/gin-gonic/gin"
)

type StockHandler struct{ svc service.StockService }

func NewStockHandler(svc service.StockService) *StockHandler { return &StockHandler{svc: svc} }

// ListStock godoc
// @Summary      Store stock levels
// @Tags         stock
// @Produce      json
// @Security     BearerAuth
// @Param        low query bool false "Only levels at or below their minimum"
// @Success      200 {array} dto.StockLevelResponse
// @Router       /v1/stock [get]
func (h *StockHandler) ListStock(c *gin.Context) {
	var filter dto.StockFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeValidation, err.Error()))
		return
	}
	levels, err := h.svc.ListStock(c.Request.Context(), identity(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, levels)
}

// ListAlerts godoc
// @Summary      Open low-stock alerts
// @Tags         stock
// @Produce      json
// @Security     BearerAuth
// @Success      200 {array} worker.StockAlertPayload
// @Router       /v1/stock/alerts [get]
func (h *StockHandler) ListAlerts(c *gin.Context) {
	alerts, err := h.svc.ListAlerts(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}
