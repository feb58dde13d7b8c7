package router

import (
	"context"
	"time"

	"possync/internal/config"
	"possync/internal/handler"
	"possync/internal/middleware"
	"possync/internal/repository"
	"possync/internal/service"
	"possync/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis.
// rdb may be nil; product caching and stock alerts are then disabled.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.ErrorHandler())

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartPurge(time.Minute, ctx.Done())

	// ── Repositories ─────────────────────────────────────────────────────────
	saleRepo := repository.NewSaleRepository(db)
	productRepo := repository.NewProductRepository(db)
	stockRepo := repository.NewStockRepository(db)
	movementRepo := repository.NewStockMovementRepository(db)

	// ── Async alerts ─────────────────────────────────────────────────────────
	// Left as nil interfaces (not typed nils) when Redis is absent.
	var (
		alertQueue service.StockAlertQueue
		alertStore worker.AlertStore
	)
	if rdb != nil {
		alertQueue = worker.NewDispatcher(rdb)
		alertStore = worker.NewRedisAlertStore(rdb)
	}

	// ── Services ─────────────────────────────────────────────────────────────
	saleSvc := service.NewSaleService(saleRepo, productRepo, stockRepo, movementRepo, alertQueue, service.SaleOptions{
		AllowNegativeStock: cfg.AllowNegativeStock,
		StrictPriceCheck:   cfg.StrictPriceCheck,
	})
	stockSvc := service.NewStockService(stockRepo, alertStore)

	// ── Handlers ─────────────────────────────────────────────────────────────
	salesH := handler.NewSalesHandler(saleSvc)
	stockH := handler.NewStockHandler(stockSvc)
	productsH := handler.NewProductsHandler(productRepo, rdb, cfg.ProductCacheTTL)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public. Terminals probe /health for connectivity.
	r.GET("/health", handler.Health(db, rdb))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	anyStaff := middleware.RequireRole(middleware.RoleCashier, middleware.RoleManager, middleware.RoleAdmin)

	// Protected routes; the limiter runs after auth so buckets are per store.
	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret), limiter.Middleware())
	{
		v1.POST("/sales", anyStaff, salesH.CreateSale)
		v1.POST("/sales/sync-batch", anyStaff, salesH.SyncBatch)
		v1.GET("/sales", anyStaff, salesH.ListSales)
		v1.GET("/sales/:id", anyStaff, salesH.GetSale)

		v1.GET("/products/:id", anyStaff, productsH.GetByID)

		v1.GET("/stock", anyStaff, stockH.ListStock)
		v1.GET("/stock/alerts", middleware.RequireRole(middleware.RoleManager, middleware.RoleAdmin), stockH.ListAlerts)
	}

	// Swagger UI outside production only
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
