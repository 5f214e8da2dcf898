package memory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

func TestSession_Pages(t *testing.T) {
	ctx := context.Background()
	s := New(WithPages("Page 1"))

	pages, err := s.ListPages(ctx)
	require.NoError(t, err)
	require.Equal(t, []session.PageInfo{{Name: "ReportSection1", Title: "Page 1"}}, pages)
	assert.Equal(t, "ReportSection1", s.CurrentPage())

	require.NoError(t, s.RenamePage(ctx, "ReportSection1", "Overview"))

	created, err := s.CreatePage(ctx, "Overview")
	require.NoError(t, err)
	assert.Equal(t, "ReportSection2", created.Name)
	assert.Equal(t, "Overview (2)", created.Title)
	assert.Equal(t, created.Name, s.CurrentPage())

	require.NoError(t, s.SetCurrentPage(ctx, "ReportSection1"))
	assert.Equal(t, "ReportSection1", s.CurrentPage())

	err = s.SetCurrentPage(ctx, "ReportSection9")
	assert.Equal(t, session.CodePageNotFound, session.CodeOf(err))
	err = s.RenamePage(ctx, "ReportSection9", "x")
	assert.Equal(t, session.CodePageNotFound, session.CodeOf(err))
}

func TestSession_Visuals(t *testing.T) {
	ctx := context.Background()
	s := New(WithPages("Page 1"), WithVisualTypes("card"))

	handle, err := s.CreateVisual(ctx, "card", session.Layout{Width: 100, Height: 50})
	require.NoError(t, err)
	assert.Equal(t, session.VisualHandle{Name: "visual0001", Type: "card"}, handle)

	require.NoError(t, s.BindField(ctx, handle, "Values", json.RawMessage(`{"measure":"Total"}`)))

	_, err = s.CreateVisual(ctx, "pieChart", session.Layout{})
	assert.Equal(t, session.CodeUnsupportedVisualType, session.CodeOf(err))
	_, err = s.CreateVisual(ctx, "card", session.Layout{X: -1})
	assert.Equal(t, session.CodeLayout, session.CodeOf(err))

	err = s.BindField(ctx, session.VisualHandle{Name: "visual9999"}, "Values", json.RawMessage(`{}`))
	assert.Equal(t, session.CodeSession, session.CodeOf(err))
	err = s.BindField(ctx, handle, "Values", json.RawMessage(`{not json`))
	assert.Equal(t, session.CodeIncompatibleField, session.CodeOf(err))

	pages := s.Pages()
	require.Len(t, pages[0].Visuals, 1)
	require.Len(t, pages[0].Visuals[0].Bindings, 1)
	assert.Equal(t, "Values", pages[0].Visuals[0].Bindings[0].Role)
}

func TestSession_CreateVisualWithoutPage(t *testing.T) {
	s := New()
	_, err := s.CreateVisual(context.Background(), "card", session.Layout{})
	assert.Equal(t, session.CodeSession, session.CodeOf(err))
}

func TestSession_SaveAndExport(t *testing.T) {
	ctx := context.Background()
	s := New(WithPages("Page 1"))

	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.SaveAs(ctx, "Copy"))
	assert.Equal(t, 2, s.Saves())

	reader, contentType, err := s.Export(ctx, "JSON")
	require.NoError(t, err)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"name":"Copy","pages":[{"name":"ReportSection1","title":"Page 1","visuals":[]}]}`, string(body))

	_, _, err = s.Export(ctx, "PDF")
	assert.Equal(t, session.CodeExportUnsupported, session.CodeOf(err))
}

func TestSession_UnloadedAndFaults(t *testing.T) {
	ctx := context.Background()

	unloaded := New(Unloaded())
	assert.False(t, unloaded.Loaded(ctx))
	_, err := unloaded.ListPages(ctx)
	assert.ErrorIs(t, err, session.ErrNoReport)

	boom := errors.New("boom")
	faulty := New(WithPages("Page 1"), WithFault(func(op Op, target string) error {
		if op == OpRenamePage && target == "ReportSection1" {
			return boom
		}
		return nil
	}))
	assert.ErrorIs(t, faulty.RenamePage(ctx, "ReportSection1", "x"), boom)
	assert.Equal(t, "Page 1", faulty.Pages()[0].Title)

	_, err = faulty.ListPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Call{
		{Op: OpRenamePage, Target: "ReportSection1"},
		{Op: OpListPages},
	}, faulty.Calls())
}
