package router

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/server/handlers"
	"github.com/mamadbah2/broiler/internal/telemetry"
)

// Handlers groups the HTTP handlers mounted by New.
type Handlers struct {
	Farmers *handlers.FarmerHandler
	Cycles  *handlers.CycleHandler
	Sales   *handlers.SaleHandler
	Batch   *handlers.BatchHandler
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, cfg config.ServerConfig, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	}

	farmers := r.Group("/farmers")
	farmers.POST("", h.Farmers.Register)
	farmers.POST("/:id/archive", h.Farmers.Archive)
	farmers.GET("/:id/ledger", h.Farmers.Ledger)
	farmers.GET("/:id/reconcile", h.Farmers.Reconcile)
	farmers.POST("/:id/stock/add", h.Farmers.AddStock)
	farmers.POST("/:id/stock/deduct", h.Farmers.DeductStock)

	r.POST("/transfers", h.Farmers.Transfer)
	r.POST("/transfers/:ref/revert", h.Farmers.RevertTransfer)

	cycles := r.Group("/cycles")
	cycles.POST("", h.Cycles.Start)
	cycles.GET("/:id", h.Cycles.GetCycle)
	cycles.GET("/:id/logs", h.Cycles.CycleLogs)
	cycles.GET("/:id/metrics", h.Cycles.CycleMetrics)
	cycles.POST("/:id/end", h.Cycles.End)
	cycles.POST("/:id/feed", h.Cycles.Feed)
	cycles.POST("/:id/corrections", h.Cycles.CorrectCycle)

	histories := r.Group("/histories")
	histories.GET("/:id", h.Cycles.GetHistory)
	histories.GET("/:id/logs", h.Cycles.HistoryLogs)
	histories.GET("/:id/metrics", h.Cycles.HistoryMetrics)
	histories.POST("/:id/reopen", h.Cycles.Reopen)
	histories.POST("/:id/delete", h.Cycles.Delete)
	histories.POST("/:id/corrections", h.Cycles.CorrectHistory)

	sales := r.Group("/sales")
	sales.POST("", h.Sales.Record)
	sales.GET("/:id/revisions", h.Sales.Revisions)
	sales.POST("/:id/revisions", h.Sales.Revise)
	sales.POST("/:id/select", h.Sales.Select)

	r.POST("/metrics/recalculate", h.Batch.Recalculate)
	r.POST("/metrics/backfill", h.Batch.Backfill)
	r.POST("/accrual/run", h.Batch.RunAccrual)
	r.GET("/runs", h.Batch.Runs)

	r.GET("/metrics", gin.WrapH(telemetry.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowHeaders("Authorization")
	cfg.AddExposeHeaders("Content-Length")
	return cfg
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
