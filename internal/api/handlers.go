package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/snapshot"
)

// Control actions
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// ControlResult represents the result of a control action
type ControlResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Action    string    `json:"action"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// handleError logs err and writes it as an ErrorResponse. The correlation
// ID is the request ID when one was assigned.
func (s *Server) handleError(c echo.Context, err error, message string, code int) error {
	id := c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: id,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	s.log.WithContext(c.Request().Context()).Warn("API error",
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("ip", c.RealIP()),
		logger.Error(err))
	return c.JSON(code, resp)
}

// getStatus handles GET /api/v1/status
func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.controller.Status())
}

// getSnapshot handles GET /api/v1/snapshot. With ?fresh=1 it captures a
// new image instead of serving the cached one.
func (s *Server) getSnapshot(c echo.Context) error {
	store := s.controller.SnapshotStore()
	if store == nil {
		return s.handleError(c, nil, "snapshots are disabled", http.StatusNotFound)
	}

	fresh := false
	if q := c.QueryParam("fresh"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			return s.handleError(c, err, "invalid fresh parameter", http.StatusBadRequest)
		}
		fresh = v
	}

	var img snapshot.Image
	var err error
	if fresh {
		img, err = s.freshSnapshot(c)
	} else {
		img, err = store.Latest()
	}
	if err != nil {
		switch {
		case errors.IsCategory(err, errors.CategoryConflict):
			return s.handleError(c, err, "capture is not running", http.StatusConflict)
		case errors.IsCategory(err, errors.CategoryTimeout):
			return s.handleError(c, err, "no snapshot captured in time", http.StatusGatewayTimeout)
		case errors.IsNotFound(err):
			return s.handleError(c, err, "no snapshot available yet", http.StatusNotFound)
		}
		return s.handleError(c, err, "failed to read snapshot", http.StatusInternalServerError)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderLastModified, img.Time.UTC().Format(http.TimeFormat))
	h.Set(headerSnapshotTime, img.Time.UTC().Format(time.RFC3339Nano))
	h.Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/jpeg", img.Data)
}

// headerSnapshotTime carries the capture time at full precision;
// Last-Modified only has second resolution.
const headerSnapshotTime = "X-Snapshot-Time"

func (s *Server) freshSnapshot(c echo.Context) (snapshot.Image, error) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), freshSnapshotTimeout)
	defer cancel()
	return s.controller.CaptureSnapshot(ctx)
}

// startCapture handles POST /api/v1/control/start
func (s *Server) startCapture(c echo.Context) error {
	sig := s.controller.Signal()
	if !lifecycle.RequestStart(sig) {
		return s.handleError(c, nil, "capture is already running", http.StatusConflict)
	}
	s.log.Info("capture start requested", logger.String("ip", c.RealIP()))
	return c.JSON(http.StatusAccepted, s.result(ActionStart, "start requested"))
}

// stopCapture handles POST /api/v1/control/stop
func (s *Server) stopCapture(c echo.Context) error {
	sig := s.controller.Signal()
	if !lifecycle.RequestStop(sig) {
		return s.handleError(c, nil, "capture is not running or already stopping", http.StatusConflict)
	}
	s.log.Info("capture stop requested", logger.String("ip", c.RealIP()))
	return c.JSON(http.StatusAccepted, s.result(ActionStop, "stop requested"))
}

// restartCapture handles POST /api/v1/control/restart. It waits for the
// stop to complete before requesting the new start.
func (s *Server) restartCapture(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), restartTimeout)
	defer cancel()

	s.log.Info("capture restart requested", logger.String("ip", c.RealIP()))
	if err := lifecycle.Restart(ctx, s.controller.Signal()); err != nil {
		return s.handleError(c, err, "capture did not stop in time", http.StatusGatewayTimeout)
	}
	return c.JSON(http.StatusAccepted, s.result(ActionRestart, "restart requested"))
}

func (s *Server) result(action, message string) ControlResult {
	return ControlResult{
		Success:   true,
		Message:   message,
		Action:    action,
		State:     s.controller.Signal().Load().String(),
		Timestamp: time.Now(),
	}
}
