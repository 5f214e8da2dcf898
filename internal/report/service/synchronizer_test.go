package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/session"
	"github.com/OpenNSW/reportbuilder/internal/session/memory"
)

func TestPageSynchronizer_Sync(t *testing.T) {
	s := memory.New(memory.WithPages("Page 1", "Leftover"))

	result := NewPageSynchronizer().Sync(context.Background(), s, []model.PageSpec{page("Overview"), page("Detail")})

	assert.False(t, result.Canceled)
	assert.Equal(t, map[string]session.PageInfo{
		"Overview": {Name: "ReportSection1", Title: "Overview"},
		"Detail":   {Name: "ReportSection3", Title: "Detail"},
	}, result.Handles)

	require.Len(t, result.Pages, 2)
	first := result.Pages[0]
	assert.Equal(t, model.StepStatusSucceeded, first.Status)
	assert.Equal(t, "ReportSection1", first.RemoteName)
	assert.Equal(t, []model.Step{model.StepListPages, model.StepRenamePage, model.StepSetCurrentPage}, stepNames(first.Steps))
	assert.Equal(t, []model.Step{model.StepCreatePage, model.StepSetCurrentPage}, stepNames(result.Pages[1].Steps))

	pages := s.Pages()
	require.Len(t, pages, 3)
	assert.Equal(t, "Leftover", pages[1].Title)
	assert.Equal(t, "ReportSection3", s.CurrentPage())
}

func TestPageSynchronizer_NoDeclaredPages(t *testing.T) {
	ms := new(MockSession)

	result := NewPageSynchronizer().Sync(context.Background(), ms, []model.PageSpec{})

	assert.Empty(t, ms.Calls)
	assert.Empty(t, result.Pages)
	assert.Empty(t, result.Handles)
}

func TestPageSynchronizer_FailureLeavesLaterPagesUnresolved(t *testing.T) {
	ms := new(MockSession)
	ms.On("ListPages", mock.Anything).Return([]session.PageInfo{}, nil)
	ms.On("CreatePage", mock.Anything, "A").Return(session.PageInfo{Name: "ReportSection1", Title: "A"}, nil)
	ms.On("SetCurrentPage", mock.Anything, "ReportSection1").Return(nil)
	ms.On("CreatePage", mock.Anything, "B").Return(session.PageInfo{}, session.ErrNoReport)

	result := NewPageSynchronizer().Sync(context.Background(), ms, []model.PageSpec{page("A"), page("B"), page("C")})

	assert.Equal(t, []string{"A"}, handleTitles(result.Handles))
	assert.Equal(t, model.StepStatusFailed, result.Pages[1].Status)
	require.NotNil(t, result.Pages[1].Failure)
	assert.Equal(t, model.StepCreatePage, result.Pages[1].Failure.Step)
	assert.Equal(t, model.StepStatusSkipped, result.Pages[2].Status)
	assert.Empty(t, result.Pages[2].Steps)
	ms.AssertNotCalled(t, "CreatePage", mock.Anything, "C")
}

func TestPageSynchronizer_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ms := new(MockSession)

	result := NewPageSynchronizer().Sync(ctx, ms, []model.PageSpec{page("A"), page("B")})

	assert.Empty(t, ms.Calls)
	assert.True(t, result.Canceled)
	assert.Empty(t, result.Handles)
	for _, p := range result.Pages {
		assert.Equal(t, model.StepStatusSkipped, p.Status)
		require.NotNil(t, p.Failure)
		assert.Equal(t, model.ErrorKindCanceled, p.Failure.Kind)
	}
}

func stepNames(steps []model.StepOutcome) []model.Step {
	names := make([]model.Step, 0, len(steps))
	for _, step := range steps {
		names = append(names, step.Step)
	}
	return names
}

func handleTitles(handles map[string]session.PageInfo) []string {
	titles := make([]string, 0, len(handles))
	for title := range handles {
		titles = append(titles, title)
	}
	return titles
}
