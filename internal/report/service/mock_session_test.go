package service

import (
	"context"
	"encoding/json"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

// MockSession is a scripted session.Session.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) ListPages(ctx context.Context) ([]session.PageInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]session.PageInfo), args.Error(1)
}

func (m *MockSession) RenamePage(ctx context.Context, name, newTitle string) error {
	args := m.Called(ctx, name, newTitle)
	return args.Error(0)
}

func (m *MockSession) CreatePage(ctx context.Context, title string) (session.PageInfo, error) {
	args := m.Called(ctx, title)
	return args.Get(0).(session.PageInfo), args.Error(1)
}

func (m *MockSession) SetCurrentPage(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockSession) CreateVisual(ctx context.Context, visualType string, layout session.Layout) (session.VisualHandle, error) {
	args := m.Called(ctx, visualType, layout)
	return args.Get(0).(session.VisualHandle), args.Error(1)
}

func (m *MockSession) BindField(ctx context.Context, visual session.VisualHandle, role string, dataField json.RawMessage) error {
	args := m.Called(ctx, visual, role, dataField)
	return args.Error(0)
}

func (m *MockSession) Save(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSession) SaveAs(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// methods returns the names of the calls received, in order.
func (m *MockSession) methods() []string {
	names := make([]string, 0, len(m.Calls))
	for _, call := range m.Calls {
		names = append(names, call.Method)
	}
	return names
}

// MockExportingSession adds the session.Exporter capability.
type MockExportingSession struct {
	MockSession
}

func (m *MockExportingSession) Export(ctx context.Context, format string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, format)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}
