package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OpenNSW/reportbuilder/internal/exports"
	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/report/service"
	"github.com/OpenNSW/reportbuilder/internal/session"
	"github.com/OpenNSW/reportbuilder/internal/session/relay"
)

const maxDocumentBytes = 4 << 20

// ReportRouter serves the build API.
type ReportRouter struct {
	builds   *service.BuildService
	sessions *service.SessionService
	exports  *exports.ExportService
	relay    *relay.Upgrader
}

// NewReportRouter creates the router. exportService and relayUpgrader may be
// nil, which disables export downloads and page connections.
func NewReportRouter(builds *service.BuildService, sessions *service.SessionService, exportService *exports.ExportService, relayUpgrader *relay.Upgrader) *ReportRouter {
	return &ReportRouter{builds: builds, sessions: sessions, exports: exportService, relay: relayUpgrader}
}

// Register mounts the API routes on r.
func (rr *ReportRouter) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/documents/validate", rr.HandleValidateDocument)

	api.POST("/sessions", rr.HandleOpenSession)
	if rr.relay != nil {
		api.GET("/relay", rr.HandleRelay)
	}
	api.DELETE("/sessions/:id", rr.HandleCloseSession)
	api.POST("/sessions/:id/builds", rr.HandleCreateBuild)
	api.GET("/sessions/:id/builds", rr.HandleListBuilds)
	api.POST("/sessions/:id/save", rr.HandleSave)
	api.POST("/sessions/:id/save-as", rr.HandleSaveAs)
	api.POST("/sessions/:id/export", rr.HandleExport)

	api.GET("/builds/:id", rr.HandleGetBuild)
	api.GET("/exports/:key", rr.HandleDownloadExport)
}

// HandleValidateDocument handles POST /api/documents/validate
// Request body: report document
// Response: parsed report spec, or the parse error with 400
func (rr *ReportRouter) HandleValidateDocument(c *gin.Context) {
	document, ok := readDocument(c)
	if !ok {
		return
	}

	spec, err := rr.builds.Validate(document)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, spec)
}

type openSessionRequest struct {
	ReportID string `json:"reportId" binding:"required"`
}

// HandleOpenSession handles POST /api/sessions
// Request body: {"reportId": "..."}
func (rr *ReportRouter) HandleOpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	info, err := rr.sessions.Open(c.Request.Context(), req.ReportID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, info)
}

// HandleRelay handles GET /api/relay?reportId=...
// Upgrades to a websocket. The connected page is registered as a session
// until it disconnects; its session ID is sent in a hello message.
func (rr *ReportRouter) HandleRelay(c *gin.Context) {
	reportID := c.Query("reportId")
	if reportID == "" {
		writeError(c, http.StatusBadRequest, "reportId query parameter is required")
		return
	}

	page, err := rr.relay.Accept(c.Writer, c.Request)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "relay upgrade failed", "error", err)
		return
	}
	defer page.Close()

	ctx := context.WithoutCancel(c.Request.Context())
	info := rr.sessions.Attach(ctx, reportID, page)
	if err := page.Hello(info.ID); err != nil {
		slog.WarnContext(ctx, "failed to greet relay page", "sessionID", info.ID, "error", err)
	}

	<-page.Done()
	if err := rr.sessions.Close(ctx, info.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		slog.WarnContext(ctx, "failed to close relay session", "sessionID", info.ID, "error", err)
	}
}

// HandleCloseSession handles DELETE /api/sessions/:id
func (rr *ReportRouter) HandleCloseSession(c *gin.Context) {
	if err := rr.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

// HandleCreateBuild handles POST /api/sessions/:id/builds
// Query params: save (bool), saveAs (name)
// Request body: report document
// Response: build record (201). A document that does not parse is still
// recorded; the record is returned with 400 and the parse error.
func (rr *ReportRouter) HandleCreateBuild(c *gin.Context) {
	opts := service.BuildOptions{SaveAs: c.Query("saveAs")}
	if raw := c.Query("save"); raw != "" {
		save, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid 'save' query parameter, must be a boolean")
			return
		}
		opts.Save = save
	}

	document, ok := readDocument(c)
	if !ok {
		return
	}

	record, err := rr.builds.Build(c.Request.Context(), c.Param("id"), document, opts)
	var parseErr *model.ParseError
	switch {
	case errors.As(err, &parseErr) && record != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{
			Success: false,
			Data:    record,
			Error:   parseErr.Error(),
			Details: parseErr,
		})
	case err != nil:
		writeServiceError(c, err)
	default:
		writeData(c, http.StatusCreated, record)
	}
}

// HandleListBuilds handles GET /api/sessions/:id/builds
// Query params: offset, limit
func (rr *ReportRouter) HandleListBuilds(c *gin.Context) {
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	list, err := rr.builds.ListBuilds(c.Request.Context(), c.Param("id"), offset, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, list)
}

// HandleGetBuild handles GET /api/builds/:id
func (rr *ReportRouter) HandleGetBuild(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid build ID format: "+err.Error())
		return
	}

	record, err := rr.builds.GetBuild(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, record)
}

// HandleSave handles POST /api/sessions/:id/save
func (rr *ReportRouter) HandleSave(c *gin.Context) {
	if err := rr.builds.Save(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"saved": true})
}

type saveAsRequest struct {
	Name string `json:"name" binding:"required"`
}

// HandleSaveAs handles POST /api/sessions/:id/save-as
// Request body: {"name": "..."}
func (rr *ReportRouter) HandleSaveAs(c *gin.Context) {
	var req saveAsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := rr.builds.SaveAs(c.Request.Context(), c.Param("id"), req.Name); err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"saved": true, "name": req.Name})
}

// HandleExport handles POST /api/sessions/:id/export?format=PDF
func (rr *ReportRouter) HandleExport(c *gin.Context) {
	metadata, err := rr.builds.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "PDF"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, metadata)
}

// HandleDownloadExport handles GET /api/exports/:key
func (rr *ReportRouter) HandleDownloadExport(c *gin.Context) {
	if rr.exports == nil {
		writeServiceError(c, service.ErrExportsDisabled)
		return
	}

	reader, contentType, err := rr.exports.Download(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=\""+c.Param("key")+"\"")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		slog.WarnContext(c.Request.Context(), "failed to stream export", "key", c.Param("key"), "error", err)
	}
}

func readDocument(c *gin.Context) ([]byte, bool) {
	document, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "document is too large")
			return nil, false
		}
		writeError(c, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return document, true
}

func intQuery(c *gin.Context, name string) (*int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid '"+name+"' query parameter, must be an integer")
		return nil, false
	}
	return &value, true
}
