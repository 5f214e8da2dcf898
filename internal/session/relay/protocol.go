// Package relay carries session calls over a websocket opened by the page that
// hosts the authoring widget. The server side is a session.Session; the page
// answers each call against the live report.
package relay

import (
	"encoding/json"
	"time"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingEvery      = (pongWait * 9) / 10
	maxMessageSize = 32 << 20
)

// Message types.
const (
	TypeHello  = "hello"
	TypeCall   = "call"
	TypeResult = "result"
)

// Call operations.
const (
	OpStatus         = "status"
	OpListPages      = "listPages"
	OpRenamePage     = "renamePage"
	OpCreatePage     = "createPage"
	OpSetCurrentPage = "setCurrentPage"
	OpCreateVisual   = "createVisual"
	OpBindField      = "bindField"
	OpSave           = "save"
	OpSaveAs         = "saveAs"
	OpExport         = "export"
)

// Message is the envelope of every frame in either direction.
type Message struct {
	Type      string               `json:"type"`
	ID        uint64               `json:"id,omitempty"`
	Op        string               `json:"op,omitempty"`
	Params    json.RawMessage      `json:"params,omitempty"`
	Result    json.RawMessage      `json:"result,omitempty"`
	Error     *session.RemoteError `json:"error,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
}

type StatusResult struct {
	Loaded bool `json:"loaded"`
}

type RenamePageParams struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type CreatePageParams struct {
	Title string `json:"title"`
}

type SetCurrentPageParams struct {
	Name string `json:"name"`
}

type CreateVisualParams struct {
	VisualType string         `json:"visualType"`
	Layout     session.Layout `json:"layout"`
}

type BindFieldParams struct {
	Visual    session.VisualHandle `json:"visual"`
	Role      string               `json:"role"`
	DataField json.RawMessage      `json:"dataField"`
}

type SaveAsParams struct {
	Name string `json:"name"`
}

type ExportParams struct {
	Format string `json:"format"`
}

// ExportResult carries the exported file; Data is base64 on the wire.
type ExportResult struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}
