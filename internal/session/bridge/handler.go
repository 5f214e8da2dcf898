package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

// LookupFunc resolves the session behind a report ID.
type LookupFunc func(reportID string) (session.Session, bool)

// Handler serves the bridge protocol over sessions resolved by a LookupFunc.
type Handler struct {
	lookup LookupFunc
	mux    *http.ServeMux
}

// NewHandler creates a bridge server.
func NewHandler(lookup LookupFunc) *Handler {
	h := &Handler{lookup: lookup, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /reports/{reportID}/status", h.handleStatus)
	h.mux.HandleFunc("GET /reports/{reportID}/pages", h.handleListPages)
	h.mux.HandleFunc("PATCH /reports/{reportID}/pages/{name}", h.handleRenamePage)
	h.mux.HandleFunc("POST /reports/{reportID}/pages", h.handleCreatePage)
	h.mux.HandleFunc("PUT /reports/{reportID}/current-page", h.handleSetCurrentPage)
	h.mux.HandleFunc("POST /reports/{reportID}/current-page/visuals", h.handleCreateVisual)
	h.mux.HandleFunc("POST /reports/{reportID}/visuals/{name}/fields", h.handleBindField)
	h.mux.HandleFunc("POST /reports/{reportID}/save", h.handleSave)
	h.mux.HandleFunc("POST /reports/{reportID}/save-as", h.handleSaveAs)
	h.mux.HandleFunc("GET /reports/{reportID}/export", h.handleExport)

	return h
}

// SingleSession serves one session under any report ID.
func SingleSession(s session.Session) LookupFunc {
	return func(string) (session.Session, bool) {
		return s, true
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	s, ok := h.lookup(r.PathValue("reportID"))
	if !ok {
		writeError(w, session.ErrNoReport)
		return nil, false
	}
	return s, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(r.PathValue("reportID"))
	loaded := ok
	if ok {
		if loader, isLoader := s.(session.Loader); isLoader {
			loaded = loader.Loaded(r.Context())
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Loaded: loaded})
}

func (h *Handler) handleListPages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	pages, err := s.ListPages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

func (h *Handler) handleRenamePage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req titleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.RenamePage(r.Context(), r.PathValue("name"), req.Title); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req titleRequest
	if !decode(w, r, &req) {
		return
	}
	page, err := s.CreatePage(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (h *Handler) handleSetCurrentPage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.SetCurrentPage(r.Context(), req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateVisual(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req createVisualRequest
	if !decode(w, r, &req) {
		return
	}
	handle, err := s.CreateVisual(r.Context(), req.VisualType, req.Layout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *Handler) handleBindField(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req bindFieldRequest
	if !decode(w, r, &req) {
		return
	}
	handle := session.VisualHandle{Name: r.PathValue("name"), Type: req.VisualType}
	if err := s.BindField(r.Context(), handle, req.Role, req.DataField); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := s.Save(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSaveAs(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.SaveAs(r.Context(), req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolve(w, r)
	if !ok {
		return
	}
	exporter, ok := s.(session.Exporter)
	if !ok {
		writeError(w, session.NewError(session.CodeExportUnsupported, "Export", "session cannot export"))
		return
	}
	reader, contentType, err := exporter.Export(r.Context(), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		slog.ErrorContext(r.Context(), "failed to stream export", "error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: session.CodeSession, Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	var remote *session.RemoteError
	if !errors.As(err, &remote) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: session.CodeSession, Message: err.Error()})
		return
	}
	writeJSON(w, statusForCode(remote.Code), errorResponse{Code: remote.Code, Message: remote.Message})
}

func statusForCode(code session.ErrorCode) int {
	switch code {
	case session.CodePageNotFound:
		return http.StatusNotFound
	case session.CodeSession:
		return http.StatusConflict
	case session.CodeExportUnsupported:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
