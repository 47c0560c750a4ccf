package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/siteops/internal/health"
)

func serveHealthz(t *testing.T, probe *health.Probe) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/healthz", probe.GinHandler(time.Second))
	router.GET("/health/live", health.GinLivenessHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	router.ServeHTTP(w, req)

	return w
}

func TestGinHandler_Healthy(t *testing.T) {
	probe := health.NewProbe(time.Second, []health.Check{passing("database"), passing("redis")})

	w := serveHealthz(t, probe)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"healthy","checks":{"database":"ok","redis":"ok"}}`, w.Body.String())
}

func TestGinHandler_UnhealthyKeepsDetail(t *testing.T) {
	probe := health.NewProbe(time.Second, []health.Check{
		passing("database"),
		health.NewCheck("redis", func(context.Context) error {
			return errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
		}),
	})

	w := serveHealthz(t, probe)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t,
		`{"status":"unhealthy","checks":{"database":"ok","redis":"error: dial tcp 127.0.0.1:6379: connect: connection refused"}}`,
		w.Body.String(),
	)
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusOK, health.StatusCode(health.Report{Status: health.StatusHealthy}))
	assert.Equal(t, http.StatusServiceUnavailable, health.StatusCode(health.Report{Status: health.StatusUnhealthy}))
}

func TestGinLivenessHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health/live", health.GinLivenessHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}
