// Package session defines the capability interface for a live report-authoring
// session. The session is owned by the surrounding application; the build
// core only issues calls against it.
package session

import (
	"context"
	"encoding/json"
	"io"
)

// DisplayMode is the initial display state of a visual container.
type DisplayMode int

const (
	DisplayModeVisible DisplayMode = 0
	DisplayModeHidden  DisplayMode = 1
)

// DisplayState wraps the display mode the way the authoring API expects it.
type DisplayState struct {
	Mode DisplayMode `json:"mode"`
}

// Layout positions a visual on the current page.
type Layout struct {
	X            float64      `json:"x"`
	Y            float64      `json:"y"`
	Width        float64      `json:"width"`
	Height       float64      `json:"height"`
	DisplayState DisplayState `json:"displayState"`
}

// PageInfo identifies a remote page. Name is assigned by the remote side and
// is distinct from the display Title.
type PageInfo struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// VisualHandle refers to a visual created during the current build pass.
type VisualHandle struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Session is the remote report-authoring capability. Every call suspends on
// a network round trip and none of them can be aborted once issued.
type Session interface {
	ListPages(ctx context.Context) ([]PageInfo, error)
	RenamePage(ctx context.Context, name, newTitle string) error
	CreatePage(ctx context.Context, title string) (PageInfo, error)
	SetCurrentPage(ctx context.Context, name string) error
	CreateVisual(ctx context.Context, visualType string, layout Layout) (VisualHandle, error)
	BindField(ctx context.Context, visual VisualHandle, role string, dataField json.RawMessage) error
	Save(ctx context.Context) error
	SaveAs(ctx context.Context, name string) error
}

// Loader is implemented by sessions that can tell whether a report is loaded.
type Loader interface {
	Loaded(ctx context.Context) bool
}

// Exporter is implemented by sessions that can export the report to a file.
type Exporter interface {
	Export(ctx context.Context, format string) (io.ReadCloser, string, error)
}
