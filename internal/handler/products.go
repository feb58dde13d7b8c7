package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"possync/internal/apierror"
	"possync/internal/dto"
	"possync/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProductsHandler serves catalog lookups for terminals refreshing their
// local price snapshot. Lookups are cached in Redis when available.
type ProductsHandler struct {
	repo repository.ProductRepository
	rdb  *redis.Client
	ttl  time.Duration
}

func NewProductsHandler(repo repository.ProductRepository, rdb *redis.Client, ttl time.Duration) *ProductsHandler {
	return &ProductsHandler{repo: repo, rdb: rdb, ttl: ttl}
}

// GetByID godoc
// @Summary  Catalog entry by id
// @Tags     products
// @Produce  json
// @Security BearerAuth
// @Param    id path string true "Product id"
// @Success  200 {object} dto.ProductResponse
// @Failure  404 {object} apierror.APIError
// @Router   /v1/products/{id} [get]
func (h *ProductsHandler) GetByID(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	cacheKey := "product:" + id

	if h.rdb != nil {
		if cached, err := h.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			var resp dto.ProductResponse
			if jsonErr := json.Unmarshal(cached, &resp); jsonErr == nil {
				c.Header("X-Cache", "hit")
				c.JSON(http.StatusOK, resp)
				return
			}
		}
	}

	p, err := h.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, apierror.New(apierror.CodeNotFound, "product not found"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ProductResponse{
		ID:      p.ID,
		SKU:     p.SKU,
		Name:    p.Name,
		PriceHT: p.PriceHT,
		VATRate: p.VATRate,
		Active:  p.Active,
	}

	// Best effort; a failed cache write only costs the next lookup.
	if h.rdb != nil {
		if b, jsonErr := json.Marshal(resp); jsonErr == nil {
			_ = h.rdb.Set(context.WithoutCancel(ctx), cacheKey, b, h.ttl).Err()
		}
	}

	c.Header("X-Cache", "miss")
	c.JSON(http.StatusOK, resp)
}
