package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"voice-receptionist/internal/telephony"
	"voice-receptionist/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	webhooks telephony.TwilioWebhookHandler

	// signatures guards provider POSTs; nil when validation is disabled.
	signatures gin.HandlerFunc

	db  *sql.DB
	rdb *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	r.GET("/healthz", healthz(d.db, d.rdb))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	signed := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if d.signatures == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{d.signatures, h}
	}

	r.POST(telephony.PathVoice, signed(d.webhooks.HandleInboundCall)...)
	r.POST(telephony.PathGather, signed(d.webhooks.HandleGather)...)
	r.POST(telephony.PathStatus, signed(d.webhooks.HandleStatus)...)

	// Fetched by the provider without a signature; the media token authorizes it.
	r.GET(telephony.PathAudio, d.webhooks.HandleAudio)
}

func healthz(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"postgres": "ok", "redis": "ok"}
		healthy := true
		if db != nil {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				checks["postgres"] = err.Error()
				healthy = false
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
	}
}
