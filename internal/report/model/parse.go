package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseErrorReason classifies why a declarative document was rejected.
type ParseErrorReason string

const (
	ReasonMalformedSyntax      ParseErrorReason = "malformed-syntax"
	ReasonMissingRequiredField ParseErrorReason = "missing-required-field"
	ReasonInvalidLayout        ParseErrorReason = "invalid-layout"
	ReasonDuplicatePageTitle   ParseErrorReason = "duplicate-page-title"
)

// ParseError is returned by Parse. Path points at the offending element,
// e.g. "report.pages[1].visuals[0].layout.width".
type ParseError struct {
	Reason  ParseErrorReason `json:"reason"`
	Path    string           `json:"path,omitempty"`
	Message string           `json:"message"`
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Reason, e.Path, e.Message)
}

// Wire shapes with pointer fields so missing keys can be told apart from zero values.
type rawReport struct {
	Title *string    `json:"title"`
	Pages *[]rawPage `json:"pages"`
}

type rawPage struct {
	Title   *string     `json:"title"`
	Visuals []rawVisual `json:"visuals"`
}

type rawVisual struct {
	Layout     *rawRect      `json:"layout"`
	VisualType *string       `json:"visualType"`
	DataRoles  []rawDataRole `json:"dataRoles"`
}

type rawRect struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type rawDataRole struct {
	Role      *string         `json:"role"`
	DataField json.RawMessage `json:"dataField"`
}

// Parse turns a declarative document into a ReportSpec. It accepts either the
// envelope form {"report": {...}} or a bare report object. Parsing is
// all-or-nothing: on failure the returned spec is nil and the error is a
// *ParseError.
func Parse(text []byte) (*ReportSpec, error) {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: ReasonMalformedSyntax, Message: "document is empty"}
	}
	if !json.Valid(trimmed) {
		return nil, &ParseError{Reason: ReasonMalformedSyntax, Message: "document is not valid JSON"}
	}

	switch trimmed[0] {
	case '[':
		// Legacy shape: a flat list of visuals with no report or pages.
		return nil, &ParseError{
			Reason:  ReasonMissingRequiredField,
			Path:    "report",
			Message: "flat visual lists are not supported, wrap visuals in report.pages[].visuals",
		}
	case '{':
	default:
		return nil, &ParseError{Reason: ReasonMalformedSyntax, Message: "document must be a JSON object"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return nil, &ParseError{Reason: ReasonMalformedSyntax, Message: err.Error()}
	}

	body := trimmed
	path := ""
	if envelope, ok := top["report"]; ok {
		for key := range top {
			if key != "report" {
				return nil, &ParseError{Reason: ReasonMalformedSyntax, Path: key, Message: fmt.Sprintf("unknown field %q", key)}
			}
		}
		body = envelope
		path = "report"
	} else if _, hasPages := top["pages"]; !hasPages {
		return nil, &ParseError{Reason: ReasonMissingRequiredField, Path: "report", Message: "document has no report"}
	}

	// Unknown keys are rejected so that a misspelled field cannot silently
	// drop part of the document.
	var raw rawReport
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Reason: ReasonMalformedSyntax, Path: path, Message: err.Error()}
	}

	return raw.toSpec(path)
}

func (r *rawReport) toSpec(path string) (*ReportSpec, error) {
	if r.Pages == nil {
		return nil, &ParseError{Reason: ReasonMissingRequiredField, Path: join(path, "pages"), Message: "pages is required"}
	}

	spec := &ReportSpec{Pages: make([]PageSpec, 0, len(*r.Pages))}
	if r.Title != nil {
		spec.Title = *r.Title
	}

	seen := make(map[string]int, len(*r.Pages))
	for i, rp := range *r.Pages {
		pagePath := fmt.Sprintf("%s[%d]", join(path, "pages"), i)
		if rp.Title == nil || strings.TrimSpace(*rp.Title) == "" {
			return nil, &ParseError{Reason: ReasonMissingRequiredField, Path: pagePath + ".title", Message: "page title is required"}
		}
		if first, dup := seen[*rp.Title]; dup {
			return nil, &ParseError{
				Reason:  ReasonDuplicatePageTitle,
				Path:    pagePath + ".title",
				Message: fmt.Sprintf("title %q is already used by page %d", *rp.Title, first),
			}
		}
		seen[*rp.Title] = i

		page := PageSpec{Title: *rp.Title, Visuals: make([]VisualSpec, 0, len(rp.Visuals))}
		for j, rv := range rp.Visuals {
			visual, err := rv.toSpec(fmt.Sprintf("%s.visuals[%d]", pagePath, j))
			if err != nil {
				return nil, err
			}
			page.Visuals = append(page.Visuals, visual)
		}
		spec.Pages = append(spec.Pages, page)
	}

	return spec, nil
}

func (v *rawVisual) toSpec(path string) (VisualSpec, error) {
	if v.VisualType == nil || strings.TrimSpace(*v.VisualType) == "" {
		return VisualSpec{}, &ParseError{Reason: ReasonMissingRequiredField, Path: path + ".visualType", Message: "visualType is required"}
	}
	if v.Layout == nil {
		return VisualSpec{}, &ParseError{Reason: ReasonInvalidLayout, Path: path + ".layout", Message: "layout is required"}
	}

	rect, err := v.Layout.toRect(path + ".layout")
	if err != nil {
		return VisualSpec{}, err
	}

	visual := VisualSpec{
		Layout:     rect,
		VisualType: *v.VisualType,
		DataRoles:  make([]DataRoleBinding, 0, len(v.DataRoles)),
	}
	for k, rd := range v.DataRoles {
		rolePath := fmt.Sprintf("%s.dataRoles[%d]", path, k)
		if rd.Role == nil || strings.TrimSpace(*rd.Role) == "" {
			return VisualSpec{}, &ParseError{Reason: ReasonMissingRequiredField, Path: rolePath + ".role", Message: "role is required"}
		}
		if len(rd.DataField) == 0 || bytes.Equal(rd.DataField, []byte("null")) {
			return VisualSpec{}, &ParseError{Reason: ReasonMissingRequiredField, Path: rolePath + ".dataField", Message: "dataField is required"}
		}
		// Compacted so that serializing and re-parsing yields identical bytes.
		var compact bytes.Buffer
		if err := json.Compact(&compact, rd.DataField); err != nil {
			return VisualSpec{}, &ParseError{Reason: ReasonMalformedSyntax, Path: rolePath + ".dataField", Message: err.Error()}
		}
		visual.DataRoles = append(visual.DataRoles, DataRoleBinding{
			Role:      *rd.Role,
			DataField: json.RawMessage(compact.Bytes()),
		})
	}
	return visual, nil
}

func (r *rawRect) toRect(path string) (Rect, error) {
	fields := []struct {
		name  string
		value *float64
	}{
		{"x", r.X},
		{"y", r.Y},
		{"width", r.Width},
		{"height", r.Height},
	}
	for _, f := range fields {
		if f.value == nil {
			return Rect{}, &ParseError{Reason: ReasonInvalidLayout, Path: path + "." + f.name, Message: f.name + " is required"}
		}
		if *f.value < 0 {
			return Rect{}, &ParseError{Reason: ReasonInvalidLayout, Path: path + "." + f.name, Message: f.name + " must not be negative"}
		}
	}
	return Rect{X: *r.X, Y: *r.Y, Width: *r.Width, Height: *r.Height}, nil
}

func join(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}
