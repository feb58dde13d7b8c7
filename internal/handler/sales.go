package handler

import (
	"net/http"

	"possync/internal/apierror"
	"possync/internal/dto"
	"possync/internal/middleware"
	"possync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type SalesHandler struct{ svc service.SaleService }

func NewSalesHandler(svc service.SaleService) *SalesHandler { return &SalesHandler{svc: svc} }

// CreateSale godoc
// @Summary      Commit a sale
// @Description  Reprices the lines against the catalog, decrements store stock and stores the sale atomically. Idempotent per (store, offline_id); the Idempotency-Key header fills offline_id when absent.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key header string false "Terminal local sale id"
// @Param        body body dto.CreateSaleRequest true "Sale"
// @Success      201  {object} dto.SaleResponse
// @Success      200  {object} dto.SaleResponse "replayed"
// @Failure      404  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError
// @Failure      422  {object} apierror.ValidationError
// @Router       /v1/sales [post]
func (h *SalesHandler) CreateSale(c *gin.Context) {
	var req dto.CreateSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if key := c.GetHeader(middleware.IdempotencyKeyHeader); key != "" {
		if len(key) > 64 {
			c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodeValidation, "Idempotency-Key longer than 64 characters"))
			return
		}
		if req.OfflineID == nil {
			req.OfflineID = &key
		} else if *req.OfflineID != key {
			c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodeValidation, "Idempotency-Key does not match offline_id"))
			return
		}
	}

	resp, err := h.svc.CommitSale(c.Request.Context(), identity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// SyncBatch godoc
// @Summary      Sync offline sales
// @Description  Commits each sale of the batch independently and reports a status per sale.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.SyncBatchRequest true "Offline sales"
// @Success      200  {object} dto.SyncBatchResponse
// @Failure      422  {object} apierror.ValidationError
// @Router       /v1/sales/sync-batch [post]
func (h *SalesHandler) SyncBatch(c *gin.Context) {
	var req dto.SyncBatchRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.SyncBatch(c.Request.Context(), identity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSale godoc
// @Summary      Get a sale
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Sale UUID"
// @Success      200 {object} dto.SaleResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/sales/{id} [get]
func (h *SalesHandler) GetSale(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeValidation, "invalid sale id"))
		return
	}
	resp, err := h.svc.GetSale(c.Request.Context(), identity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListSales godoc
// @Summary      List sales
// @Description  Paginated list of the caller's store sales for one day.
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        date   query string false "YYYY-MM-DD (default: today, UTC)"
// @Param        status query string false "COMPLETED | CANCELLED | RETURNED | all"
// @Param        page   query int    false "Page (default 1)"
// @Param        limit  query int    false "Page size (default 50)"
// @Success      200    {object} dto.SaleListResponse
// @Router       /v1/sales [get]
func (h *SalesHandler) ListSales(c *gin.Context) {
	var filter dto.SaleFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeValidation, err.Error()))
		return
	}
	resp, err := h.svc.ListSales(c.Request.Context(), identity(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
