package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/botpanel-monitor/internal/core/analytics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/metrics"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitor"
	"github.com/frostdev-ops/botpanel-monitor/internal/core/monitoring"
	"github.com/frostdev-ops/botpanel-monitor/internal/database/sqlite"
	"github.com/frostdev-ops/botpanel-monitor/internal/websocket"
	apperrors "github.com/frostdev-ops/botpanel-monitor/pkg/errors"
	"github.com/frostdev-ops/botpanel-monitor/pkg/utils"
)

const requestTimeout = 10 * time.Second

// AuditReader lists recorded audit events
type AuditReader interface {
	List(ctx context.Context, kind string, limit int) ([]sqlite.AuditEvent, error)
}

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	service *monitor.MonitoringService
	audit   AuditReader
	wsHub   *websocket.Hub
	logger  *logrus.Logger
}

// NewHandlers creates a new handlers instance. audit and wsHub may be nil.
func NewHandlers(service *monitor.MonitoringService, audit AuditReader, wsHub *websocket.Hub, logger *logrus.Logger) *Handlers {
	return &Handlers{
		service: service,
		audit:   audit,
		wsHub:   wsHub,
		logger:  logger,
	}
}

// respondError maps domain errors onto HTTP responses
func (h *Handlers) respondError(c *gin.Context, err error, operation string) {
	var kind *apperrors.AppError
	switch {
	case errors.Is(err, monitoring.ErrRuleNotFound), errors.Is(err, monitoring.ErrAlertNotFound):
		kind = apperrors.ErrNotFound
	case errors.Is(err, monitoring.ErrRuleExists), errors.Is(err, monitoring.ErrAlertResolved),
		errors.Is(err, metrics.ErrCycleInProgress):
		kind = apperrors.ErrConflict
	case errors.Is(err, monitoring.ErrInvalidRule), errors.Is(err, analytics.ErrUnknownWindow):
		kind = apperrors.ErrBadRequest
	case apperrors.IsAppError(err):
		appErr := &apperrors.AppError{}
		errors.As(err, &appErr)
		utils.SendErrorWithDetails(c, appErr.Code, appErr.Message, appErr.Details)
		return
	default:
		h.logger.WithError(err).WithField("operation", operation).Error("Request failed")
		utils.SendError(c, http.StatusInternalServerError, "Failed to "+operation)
		return
	}

	appErr := apperrors.Wrap(kind, err)
	utils.SendErrorWithDetails(c, appErr.Code, appErr.Message, appErr.Details)
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	utils.SendErrorWithDetails(c, http.StatusBadRequest, apperrors.ErrBadRequest.Message, fmt.Sprintf(format, args...))
}

// parseRange reads a Go duration or a day count such as "7d". Empty means zero.
func parseRange(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid range %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid range %q", value)
	}
	return d, nil
}

func parseLimit(c *gin.Context, fallback, max int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}
