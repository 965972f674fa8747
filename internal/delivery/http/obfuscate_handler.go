package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

const (
	formFileField = "file"
	luaExtension  = ".lua"
	outputPrefix  = "obf_"
)

// Obfuscator runs the tool on one script.
type Obfuscator interface {
	InvokeObserved(ctx context.Context, content []byte, name string, observe func(domain.JobState)) (*domain.InvocationResult, error)
}

// ObfuscateHandler handles script uploads.
type ObfuscateHandler struct {
	pipeline Obfuscator
	slots    *semaphore.Weighted
	maxBytes int64
	logger   *zap.Logger
}

// NewObfuscateHandler creates a new ObfuscateHandler. slots is shared with
// the streaming handler so both count against the same limit.
func NewObfuscateHandler(pipeline Obfuscator, slots *semaphore.Weighted, maxBytes int64, logger *zap.Logger) *ObfuscateHandler {
	return &ObfuscateHandler{
		pipeline: pipeline,
		slots:    slots,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Obfuscate handles POST /api/v1/obfuscate (multipart form, field "file").
// On success the obfuscated script is returned as an attachment named
// obf_<original name>; on failure a JSON body carries the category and
// diagnostic.
func (h *ObfuscateHandler) Obfuscate(c *gin.Context) {
	fh, err := c.FormFile(formFileField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": domain.ErrInputTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field: " + err.Error()})
		return
	}

	name := filepath.Base(fh.Filename)
	if err := checkUpload(name, fh.Size, h.maxBytes); err != nil {
		c.JSON(uploadStatus(err), gin.H{"error": err.Error()})
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	content, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	if !h.slots.TryAcquire(1) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": domain.ErrBusy.Error()})
		return
	}
	defer h.slots.Release(1)

	result, err := h.pipeline.InvokeObserved(c.Request.Context(), content, name, nil)
	if err != nil {
		// The client went away; there is nobody to answer.
		h.logger.Info("Upload cancelled by client", zap.String("name", name), zap.Error(err))
		c.Abort()
		return
	}

	if !result.OK() {
		c.JSON(failureStatus(result.Category), failureBody(result))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outputPrefix+name))
	c.Header("X-Job-ID", result.JobID)
	c.Header("X-Confidence", result.Confidence)
	c.Header("X-Output-Source", string(result.Source))
	c.Data(http.StatusOK, "text/x-lua; charset=iso-8859-1", result.Content)
}

// checkUpload applies the front-end rules: Lua scripts only, within the size cap.
func checkUpload(name string, size, maxBytes int64) error {
	if !strings.EqualFold(filepath.Ext(name), luaExtension) {
		return domain.ErrUnsupportedFile
	}
	if size <= 0 {
		return domain.ErrEmptyInput
	}
	if size > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", domain.ErrInputTooLarge, size, maxBytes)
	}
	return nil
}

func uploadStatus(err error) int {
	if errors.Is(err, domain.ErrInputTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// failureStatus maps a failure category to an HTTP status.
func failureStatus(cat domain.ErrorCategory) int {
	switch cat {
	case domain.CategoryValidation, domain.CategoryInvalidInput:
		return http.StatusUnprocessableEntity
	case domain.CategoryTimeout:
		return http.StatusGatewayTimeout
	case domain.CategoryMissingDependency:
		return http.StatusServiceUnavailable
	case domain.CategoryOutputNotFound:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func failureBody(result *domain.InvocationResult) gin.H {
	return gin.H{
		"job_id":     result.JobID,
		"category":   result.Category,
		"diagnostic": domain.TruncateDiagnostic(result.Diagnostic, domain.MaxDiagnosticLen),
	}
}
