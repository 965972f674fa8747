package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/tool"
)

// reportTTL bounds how often dependency probes actually run.
const reportTTL = time.Minute

// DependencyChecker probes the tool's runtime dependencies.
type DependencyChecker interface {
	Check(ctx context.Context) tool.Report
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checker DependencyChecker
	logger  *zap.Logger

	mu     sync.Mutex
	report tool.Report
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checker DependencyChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

// Health handles GET /, /health and /api/v1/health. Missing dependencies
// degrade the status but the endpoint still answers 200: the process is up.
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.currentReport(c.Request.Context())

	status := "ok"
	if !report.OK() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"service":      "brewgate",
		"dependencies": report.Dependencies,
		"checked_at":   report.CheckedAt,
	})
}

func (h *HealthHandler) currentReport(ctx context.Context) tool.Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.report.CheckedAt.IsZero() || time.Since(h.report.CheckedAt) > reportTTL {
		h.report = h.checker.Check(ctx)
	}
	return h.report
}
