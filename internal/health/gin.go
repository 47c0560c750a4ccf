package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the /healthz body.
type Response struct {
	Status Status            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewResponse renders report as the endpoint body.
func NewResponse(report Report) Response {
	return Response{Status: report.Status, Checks: report.Checks()}
}

// StatusCode maps a report to 200 when healthy and 503 otherwise.
func StatusCode(report Report) int {
	if report.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// GinHandler returns the /healthz handler. requestTimeout bounds the whole
// probe on top of the per-check timeout.
func (p *Probe) GinHandler(requestTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, requestTimeout)
			defer cancel()
		}

		report := p.Check(ctx)
		c.JSON(StatusCode(report), NewResponse(report))
	}
}

// GinLivenessHandler returns a liveness handler that touches no dependency.
func GinLivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	}
}
