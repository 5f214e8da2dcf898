// Package bridge speaks JSON over HTTP to an embed bridge: the page hosting
// the authoring widget relays each call to the live report. The package
// contains both the client side (a session.Session) and a server side that
// exposes any session.Session over the same protocol.
package bridge

import (
	"encoding/json"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

type titleRequest struct {
	Title string `json:"title"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type createVisualRequest struct {
	VisualType string         `json:"visualType"`
	Layout     session.Layout `json:"layout"`
}

type bindFieldRequest struct {
	VisualType string          `json:"visualType,omitempty"`
	Role       string          `json:"role"`
	DataField  json.RawMessage `json:"dataField"`
}

type statusResponse struct {
	Loaded bool `json:"loaded"`
}

type errorResponse struct {
	Code    session.ErrorCode `json:"code"`
	Message string            `json:"message"`
}
