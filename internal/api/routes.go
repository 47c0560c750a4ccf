// Package api exposes the health probe, metrics and operator backup routes over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/siteops/internal/health"
	"github.com/jonesrussell/siteops/internal/logger"
)

// Routes holds what the router serves.
type Routes struct {
	Probe         *health.Probe
	HealthTimeout time.Duration
	Metrics       http.Handler
	// Backups serves the operator routes. They are not mounted when nil or
	// when JWTSecret is empty.
	Backups   *BackupHandler
	JWTSecret string
	// OperatorRPS limits the operator routes. Zero disables limiting.
	OperatorRPS   int
	OperatorBurst int
}

// Setup mounts the routes on router.
func (r Routes) Setup(router *gin.Engine, log logger.Logger) {
	router.GET("/healthz", r.Probe.GinHandler(r.HealthTimeout))
	router.GET("/health/live", health.GinLivenessHandler())

	if r.Metrics != nil {
		router.GET("/metrics", gin.WrapH(r.Metrics))
	}

	if r.Backups == nil {
		return
	}
	if r.JWTSecret == "" {
		log.Warn("Operator backup routes disabled, no JWT secret configured")
		return
	}

	v1 := router.Group("/api/v1")
	if r.OperatorRPS > 0 {
		v1.Use(RateLimitMiddleware(r.OperatorRPS, r.OperatorBurst))
	}
	v1.Use(JWTMiddleware(r.JWTSecret))
	v1.GET("/backups", r.Backups.List)
	v1.POST("/backups", r.Backups.Trigger)
	v1.POST("/backups/sweep", r.Backups.Sweep)
}
