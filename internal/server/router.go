// Package server is the worker's HTTP surface: the TradingView webhook
// ingress, bot administration and operational endpoints.
package server

import (
	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/GoPolymarket/polypilot/internal/safety"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the gin engine. The safety controller is exposed on
// /health so operators can verify the effective trading mode at a glance.
func NewRouter(cfg *config.Config, sc *safety.Controller, signals *SignalHandler, bots *BotHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandler())
	r.Use(MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":          "ok",
			"service":         "polypilot",
			"mode":            sc.EffectiveMode(),
			"configured_mode": sc.ConfiguredMode(),
			"live_confirmed":  sc.IsLiveConfirmed(),
		})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/bots", bots.Create)
		v1.POST("/bots/:id/status", bots.SetStatus)
		v1.GET("/bots/:id/metrics", bots.GetMetrics)
		v1.GET("/bots/:id/orders", bots.GetOrders)
		v1.POST("/bots/:id/signals", signals.Ingest)
	}

	return r
}
