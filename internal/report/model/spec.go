package model

import (
	"encoding/json"
)

// ReportSpec is the declarative description of a report: a title and an
// ordered list of pages. It is immutable once parsed.
type ReportSpec struct {
	Title string     `json:"title"`
	Pages []PageSpec `json:"pages"`
}

// PageSpec describes one report page. Title doubles as the desired remote
// display name and is unique within a document.
type PageSpec struct {
	Title   string       `json:"title"`
	Visuals []VisualSpec `json:"visuals"`
}

// VisualSpec describes one visual placed on a page.
type VisualSpec struct {
	Layout     Rect              `json:"layout"`
	VisualType string            `json:"visualType"` // Interpreted by the remote session only
	DataRoles  []DataRoleBinding `json:"dataRoles"`
}

// Rect is the position and size of a visual on its page.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DataRoleBinding binds a data field to a role of a visual. DataField is
// passed to the remote session verbatim.
type DataRoleBinding struct {
	Role      string          `json:"role"`
	DataField json.RawMessage `json:"dataField"`
}

// Document is the envelope form of a declarative document.
type Document struct {
	Report ReportSpec `json:"report"`
}

// VisualCount returns the number of visuals across all pages.
func (r *ReportSpec) VisualCount() int {
	count := 0
	for _, page := range r.Pages {
		count += len(page.Visuals)
	}
	return count
}

// Marshal serializes the spec in its envelope form, which Parse accepts.
func (r *ReportSpec) Marshal() ([]byte, error) {
	return json.Marshal(Document{Report: *r})
}
