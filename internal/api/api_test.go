package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/siteops/internal/api"
	"github.com/jonesrussell/siteops/internal/health"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/metrics"
	"github.com/jonesrussell/siteops/internal/retention"
	"github.com/jonesrussell/siteops/internal/scheduler"
)

const testSecret = "test-secret"

// MockOperator is a mock implementation of api.BackupOperator.
type MockOperator struct {
	mock.Mock
}

func (m *MockOperator) TriggerBackup() error {
	return m.Called().Error(0)
}

func (m *MockOperator) BackupRunning() bool {
	return m.Called().Bool(0)
}

func (m *MockOperator) Sweep(ctx context.Context, policy retention.Policy) (retention.Result, error) {
	args := m.Called(ctx, policy)
	return args.Get(0).(retention.Result), args.Error(1)
}

func (m *MockOperator) Policy() retention.Policy {
	return retention.Policy{MaxAgeDays: 30}
}

func signToken(t *testing.T, secret string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newRouter(t *testing.T, op api.BackupOperator, dir string, checks ...health.Check) *gin.Engine {
	t.Helper()

	if len(checks) == 0 {
		checks = []health.Check{
			health.NewCheck("database", func(context.Context) error { return nil }),
			health.NewCheck("redis", func(context.Context) error { return nil }),
		}
	}

	return api.NewEngine(false, logger.NewNop(), api.Routes{
		Probe:         health.NewProbe(time.Second, checks),
		HealthTimeout: time.Second,
		Metrics:       metrics.New().Handler(),
		Backups:       api.NewBackupHandler(op, dir),
		JWTSecret:     testSecret,
	})
}

func do(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz_Public(t *testing.T) {
	router := newRouter(t, &MockOperator{}, t.TempDir())

	w := do(router, http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"database":"ok","redis":"ok"}}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealthz_Unhealthy(t *testing.T) {
	router := newRouter(t, &MockOperator{}, t.TempDir(),
		health.NewCheck("database", func(context.Context) error { return nil }),
		health.NewCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)

	w := do(router, http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"database":"ok","redis":"error: connection refused"}}`, w.Body.String())
}

func TestMetrics_Public(t *testing.T) {
	router := newRouter(t, &MockOperator{}, t.TempDir())

	w := do(router, http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "siteops_backup_runs_total")
}

func TestOperatorRoutes_RequireToken(t *testing.T) {
	router := newRouter(t, &MockOperator{}, t.TempDir())

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", signToken(t, "other-secret")},
		{"garbage", "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/backups", tt.token, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestOperatorRoutes_NotMountedWithoutSecret(t *testing.T) {
	router := api.NewEngine(false, logger.NewNop(), api.Routes{
		Probe:   health.NewProbe(time.Second, nil),
		Backups: api.NewBackupHandler(&MockOperator{}, t.TempDir()),
	})

	w := do(router, http.MethodPost, "/api/v1/backups", signToken(t, testSecret), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerBackup(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"already running", scheduler.ErrBackupRunning, http.StatusConflict},
		{"scheduler stopped", scheduler.ErrNotRunning, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &MockOperator{}
			op.On("TriggerBackup").Return(tt.err)
			router := newRouter(t, op, t.TempDir())

			w := do(router, http.MethodPost, "/api/v1/backups", signToken(t, testSecret), "")

			assert.Equal(t, tt.wantCode, w.Code)
			op.AssertExpectations(t)
		})
	}
}

func TestListBackups(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"db-20260101-023000.sql.gz", "db-20260102-023000.sql.gz", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	op := &MockOperator{}
	op.On("BackupRunning").Return(false)
	router := newRouter(t, op, dir)

	w := do(router, http.MethodGet, "/api/v1/backups", signToken(t, testSecret), "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Backups []struct {
			Name string `json:"name"`
		} `json:"backups"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "db-20260102-023000.sql.gz", body.Backups[0].Name)
}

func TestSweep_UsesConfiguredPolicyByDefault(t *testing.T) {
	op := &MockOperator{}
	op.On("Sweep", mock.Anything, retention.Policy{MaxAgeDays: 30}).
		Return(retention.Result{Deleted: 2, Kept: 1}, nil)
	router := newRouter(t, op, t.TempDir())

	w := do(router, http.MethodPost, "/api/v1/backups/sweep", signToken(t, testSecret), "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"max_age_days":30,"deleted":2,"kept":1,"ignored":0,"failed":0}`, w.Body.String())
	op.AssertExpectations(t)
}

func TestSweep_OverrideAndFailures(t *testing.T) {
	op := &MockOperator{}
	op.On("Sweep", mock.Anything, retention.Policy{MaxAgeDays: 7}).
		Return(retention.Result{
			Deleted:  1,
			Failures: []retention.Failure{{Name: "db-20260101-023000.sql.gz", Err: errors.New("permission denied")}},
		}, nil)
	router := newRouter(t, op, t.TempDir())

	w := do(router, http.MethodPost, "/api/v1/backups/sweep", signToken(t, testSecret), `{"max_age_days":7}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"max_age_days": 7, "deleted": 1, "kept": 0, "ignored": 0, "failed": 1,
		"failures": [{"name": "db-20260101-023000.sql.gz", "error": "permission denied"}]
	}`, w.Body.String())
}

func TestSweep_InvalidPolicy(t *testing.T) {
	op := &MockOperator{}
	op.On("Sweep", mock.Anything, retention.Policy{MaxAgeDays: -1}).
		Return(retention.Result{}, retention.ErrInvalidPolicy)
	router := newRouter(t, op, t.TempDir())

	w := do(router, http.MethodPost, "/api/v1/backups/sweep", signToken(t, testSecret), `{"max_age_days":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/backups/sweep", signToken(t, testSecret), `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RecoveryMiddleware(logger.NewNop()))
	router.GET("/panic", func(*gin.Context) { panic("boom") })

	w := do(router, http.MethodGet, "/panic", "", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRequestIDLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.RequestIDLoggerMiddleware(logger.NewNop()))

	var ctxLogger logger.Logger
	router.GET("/test", func(c *gin.Context) {
		ctxLogger = logger.FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("X-Request-ID", "upstream-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "upstream-123", w.Header().Get("X-Request-ID"))
	assert.NotNil(t, ctxLogger)

	req = httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
}

func TestOperatorRoutes_RateLimited(t *testing.T) {
	op := &MockOperator{}
	op.On("BackupRunning").Return(false)

	router := api.NewEngine(false, logger.NewNop(), api.Routes{
		Probe:         health.NewProbe(time.Second, nil),
		Backups:       api.NewBackupHandler(op, t.TempDir()),
		JWTSecret:     testSecret,
		OperatorRPS:   1,
		OperatorBurst: 2,
	})
	token := signToken(t, testSecret)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/backups", token, "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/backups", token, "").Code)

	w := do(router, http.MethodGet, "/api/v1/backups", token, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/healthz", "", "").Code,
		"public routes are not limited")
}
