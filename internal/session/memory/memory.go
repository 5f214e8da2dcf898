// Package memory provides an in-process report-authoring session. It mirrors
// the remote side's behavior (name assignment, title de-duplication, current
// page state) closely enough for dry runs and tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

// Op names a session call in the journal and in fault hooks.
type Op string

const (
	OpListPages      Op = "ListPages"
	OpRenamePage     Op = "RenamePage"
	OpCreatePage     Op = "CreatePage"
	OpSetCurrentPage Op = "SetCurrentPage"
	OpCreateVisual   Op = "CreateVisual"
	OpBindField      Op = "BindField"
	OpSave           Op = "Save"
	OpSaveAs         Op = "SaveAs"
	OpExport         Op = "Export"
)

// Call is one journal entry. Target is the page name, title, visual type or
// role the call was about.
type Call struct {
	Op     Op
	Target string
}

// FaultFunc is consulted before every call; a non-nil error is returned to
// the caller instead of applying the call.
type FaultFunc func(op Op, target string) error

type Binding struct {
	Role      string          `json:"role"`
	DataField json.RawMessage `json:"dataField"`
}

type Visual struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Layout   session.Layout `json:"layout"`
	Bindings []Binding      `json:"bindings"`
}

type Page struct {
	Name    string   `json:"name"`
	Title   string   `json:"title"`
	Visuals []Visual `json:"visuals"`
}

// Session is a simulated report. It is safe for concurrent use, although a
// build pass issues its calls sequentially.
type Session struct {
	mu          sync.Mutex
	loaded      bool
	reportName  string
	pages       []*Page
	current     string
	nextPage    int
	nextVisual  int
	visualPages map[string]*Page
	calls       []Call
	fault       FaultFunc
	visualTypes map[string]bool
	saves       int
}

type Option func(*Session)

// WithPages seeds the report with pages carrying the given titles.
func WithPages(titles ...string) Option {
	return func(s *Session) {
		for _, title := range titles {
			s.addPage(title)
		}
	}
}

// WithFault installs a fault hook.
func WithFault(fault FaultFunc) Option {
	return func(s *Session) {
		s.fault = fault
	}
}

// WithVisualTypes restricts CreateVisual to the given types.
func WithVisualTypes(types ...string) Option {
	return func(s *Session) {
		s.visualTypes = make(map[string]bool, len(types))
		for _, t := range types {
			s.visualTypes[t] = true
		}
	}
}

// Unloaded makes every call fail as if no report were loaded.
func Unloaded() Option {
	return func(s *Session) {
		s.loaded = false
	}
}

// New creates a loaded, empty report unless options say otherwise.
func New(opts ...Option) *Session {
	s := &Session{
		loaded:      true,
		reportName:  "Report",
		visualPages: make(map[string]*Page),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.current == "" && len(s.pages) > 0 {
		s.current = s.pages[0].Name
	}
	return s
}

func (s *Session) Loaded(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Session) ListPages(ctx context.Context) ([]session.PageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpListPages, ""); err != nil {
		return nil, err
	}

	pages := make([]session.PageInfo, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, session.PageInfo{Name: p.Name, Title: p.Title})
	}
	return pages, nil
}

func (s *Session) RenamePage(ctx context.Context, name, newTitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpRenamePage, name); err != nil {
		return err
	}

	page := s.findPage(name)
	if page == nil {
		return session.NewError(session.CodePageNotFound, string(OpRenamePage), "page %q does not exist", name)
	}
	page.Title = newTitle
	return nil
}

func (s *Session) CreatePage(ctx context.Context, title string) (session.PageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreatePage, title); err != nil {
		return session.PageInfo{}, err
	}

	page := s.addPage(s.uniqueTitle(title))
	s.current = page.Name
	return session.PageInfo{Name: page.Name, Title: page.Title}, nil
}

func (s *Session) SetCurrentPage(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpSetCurrentPage, name); err != nil {
		return err
	}

	if s.findPage(name) == nil {
		return session.NewError(session.CodePageNotFound, string(OpSetCurrentPage), "page %q does not exist", name)
	}
	s.current = name
	return nil
}

func (s *Session) CreateVisual(ctx context.Context, visualType string, layout session.Layout) (session.VisualHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreateVisual, visualType); err != nil {
		return session.VisualHandle{}, err
	}

	page := s.findPage(s.current)
	if page == nil {
		return session.VisualHandle{}, session.NewError(session.CodeSession, string(OpCreateVisual), "no current page")
	}
	if s.visualTypes != nil && !s.visualTypes[visualType] {
		return session.VisualHandle{}, session.NewError(session.CodeUnsupportedVisualType, string(OpCreateVisual), "visual type %q is not supported", visualType)
	}
	if layout.X < 0 || layout.Y < 0 || layout.Width < 0 || layout.Height < 0 {
		return session.VisualHandle{}, session.NewError(session.CodeLayout, string(OpCreateVisual), "layout must not be negative")
	}

	s.nextVisual++
	visual := Visual{
		Name:     fmt.Sprintf("visual%04d", s.nextVisual),
		Type:     visualType,
		Layout:   layout,
		Bindings: []Binding{},
	}
	page.Visuals = append(page.Visuals, visual)
	s.visualPages[visual.Name] = page
	return session.VisualHandle{Name: visual.Name, Type: visualType}, nil
}

func (s *Session) BindField(ctx context.Context, visual session.VisualHandle, role string, dataField json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpBindField, role); err != nil {
		return err
	}

	page, ok := s.visualPages[visual.Name]
	if !ok {
		return session.NewError(session.CodeSession, string(OpBindField), "visual %q does not exist", visual.Name)
	}
	if !json.Valid(dataField) {
		return session.NewError(session.CodeIncompatibleField, string(OpBindField), "data field is not a structured value")
	}
	for i := range page.Visuals {
		if page.Visuals[i].Name == visual.Name {
			page.Visuals[i].Bindings = append(page.Visuals[i].Bindings, Binding{
				Role:      role,
				DataField: append(json.RawMessage(nil), dataField...),
			})
			break
		}
	}
	return nil
}

func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpSave, ""); err != nil {
		return err
	}
	s.saves++
	return nil
}

func (s *Session) SaveAs(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpSaveAs, name); err != nil {
		return err
	}
	s.reportName = name
	s.saves++
	return nil
}

// Export renders the simulated report as JSON. Only the "json" format exists.
func (s *Session) Export(ctx context.Context, format string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpExport, format); err != nil {
		return nil, "", err
	}
	if !strings.EqualFold(format, "json") {
		return nil, "", session.NewError(session.CodeExportUnsupported, string(OpExport), "format %q is not supported", format)
	}

	body, err := json.Marshal(struct {
		Name  string  `json:"name"`
		Pages []*Page `json:"pages"`
	}{Name: s.reportName, Pages: s.pages})
	if err != nil {
		return nil, "", fmt.Errorf("failed to render report: %w", err)
	}
	return io.NopCloser(bytes.NewReader(body)), "application/json", nil
}

// Pages returns a copy of the report's pages.
func (s *Session) Pages() []Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := make([]Page, 0, len(s.pages))
	for _, p := range s.pages {
		cp := *p
		cp.Visuals = append([]Visual(nil), p.Visuals...)
		pages = append(pages, cp)
	}
	return pages
}

// Calls returns the journal of calls issued so far, including failed ones.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CurrentPage returns the name of the current page.
func (s *Session) CurrentPage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Saves returns how many times the report was saved.
func (s *Session) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *Session) begin(op Op, target string) error {
	s.calls = append(s.calls, Call{Op: op, Target: target})
	if !s.loaded {
		return session.ErrNoReport
	}
	if s.fault != nil {
		return s.fault(op, target)
	}
	return nil
}

func (s *Session) addPage(title string) *Page {
	s.nextPage++
	page := &Page{
		Name:    fmt.Sprintf("ReportSection%d", s.nextPage),
		Title:   title,
		Visuals: []Visual{},
	}
	s.pages = append(s.pages, page)
	return page
}

func (s *Session) findPage(name string) *Page {
	for _, p := range s.pages {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (s *Session) uniqueTitle(title string) string {
	taken := make(map[string]bool, len(s.pages))
	for _, p := range s.pages {
		taken[p.Title] = true
	}
	if !taken[title] {
		return title
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", title, n)
		if !taken[candidate] {
			return candidate
		}
	}
}
