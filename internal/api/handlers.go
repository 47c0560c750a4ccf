package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/siteops/internal/backup"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/retention"
	"github.com/jonesrussell/siteops/internal/scheduler"
)

// BackupOperator is what the operator routes need from the scheduler.
type BackupOperator interface {
	TriggerBackup() error
	BackupRunning() bool
	Sweep(ctx context.Context, policy retention.Policy) (retention.Result, error)
	Policy() retention.Policy
}

// BackupHandler serves the operator backup routes.
type BackupHandler struct {
	operator BackupOperator
	dir      string
}

// NewBackupHandler creates a handler over the backups in dir.
func NewBackupHandler(operator BackupOperator, dir string) *BackupHandler {
	return &BackupHandler{operator: operator, dir: dir}
}

// Trigger handles POST /api/v1/backups.
func (h *BackupHandler) Trigger(c *gin.Context) {
	err := h.operator.TriggerBackup()
	switch {
	case err == nil:
		logger.FromContext(c.Request.Context()).Info("Manual backup triggered")
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case errors.Is(err, scheduler.ErrBackupRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger backup"})
	}
}

type listResponse struct {
	Backups []backup.Entry `json:"backups"`
	Count   int            `json:"count"`
	Running bool           `json:"running"`
}

// List handles GET /api/v1/backups.
func (h *BackupHandler) List(c *gin.Context) {
	entries, err := backup.List(h.dir)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list backups"})
		return
	}
	if entries == nil {
		entries = []backup.Entry{}
	}

	c.JSON(http.StatusOK, listResponse{
		Backups: entries,
		Count:   len(entries),
		Running: h.operator.BackupRunning(),
	})
}

type sweepRequest struct {
	MaxAgeDays int `json:"max_age_days"`
}

type sweepFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type sweepResponse struct {
	MaxAgeDays int            `json:"max_age_days"`
	Deleted    int            `json:"deleted"`
	Kept       int            `json:"kept"`
	Ignored    int            `json:"ignored"`
	Failed     int            `json:"failed"`
	Failures   []sweepFailure `json:"failures,omitempty"`
}

// Sweep handles POST /api/v1/backups/sweep. The body is optional and may
// override the configured max age.
func (h *BackupHandler) Sweep(c *gin.Context) {
	policy := h.operator.Policy()

	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MaxAgeDays != 0 {
		policy.MaxAgeDays = req.MaxAgeDays
	}

	result, err := h.operator.Sweep(c.Request.Context(), policy)
	if errors.Is(err, retention.ErrInvalidPolicy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retention sweep failed"})
		return
	}

	resp := sweepResponse{
		MaxAgeDays: policy.MaxAgeDays,
		Deleted:    result.Deleted,
		Kept:       result.Kept,
		Ignored:    result.Ignored,
		Failed:     result.Failed(),
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, sweepFailure{Name: f.Name, Error: f.Err.Error()})
	}

	c.JSON(http.StatusOK, resp)
}
