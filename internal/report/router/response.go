package router

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OpenNSW/reportbuilder/internal/exports/drivers"
	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/report/persistence"
	"github.com/OpenNSW/reportbuilder/internal/report/service"
	"github.com/OpenNSW/reportbuilder/internal/session"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: message})
}

// writeServiceError maps a service error onto a status code.
func writeServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.Error(err)
	}

	resp := Response{Success: false, Error: err.Error()}
	var parseErr *model.ParseError
	if errors.As(err, &parseErr) {
		resp.Details = parseErr
	}
	var remoteErr *session.RemoteError
	if errors.As(err, &remoteErr) {
		resp.Details = remoteErr
	}
	c.AbortWithStatusJSON(status, resp)
}

func statusFor(err error) int {
	var parseErr *model.ParseError
	switch {
	case errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, persistence.ErrBuildNotFound),
		errors.Is(err, drivers.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrExportUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, service.ErrExportsDisabled):
		return http.StatusServiceUnavailable
	}

	switch session.CodeOf(err) {
	case "":
		return http.StatusInternalServerError
	case session.CodeExportUnsupported:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadGateway
	}
}
