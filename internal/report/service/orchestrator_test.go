package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/session"
	"github.com/OpenNSW/reportbuilder/internal/session/memory"
)

func field(column string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"table":"financials","column":%q}`, column))
}

func visual(visualType string, roles ...string) model.VisualSpec {
	v := model.VisualSpec{
		Layout:     model.Rect{X: 10, Y: 20, Width: 300, Height: 200},
		VisualType: visualType,
		DataRoles:  []model.DataRoleBinding{},
	}
	for _, role := range roles {
		v.DataRoles = append(v.DataRoles, model.DataRoleBinding{Role: role, DataField: field(role)})
	}
	return v
}

func page(title string, visuals ...model.VisualSpec) model.PageSpec {
	if visuals == nil {
		visuals = []model.VisualSpec{}
	}
	return model.PageSpec{Title: title, Visuals: visuals}
}

func report(pages ...model.PageSpec) *model.ReportSpec {
	if pages == nil {
		pages = []model.PageSpec{}
	}
	return &model.ReportSpec{Title: "T", Pages: pages}
}

var visibleLayout = session.Layout{
	X: 10, Y: 20, Width: 300, Height: 200,
	DisplayState: session.DisplayState{Mode: session.DisplayModeVisible},
}

func TestOrchestrator_RenamesExistingFirstPage(t *testing.T) {
	ms := new(MockSession)
	ms.On("ListPages", mock.Anything).Return([]session.PageInfo{{Name: "ReportSection1", Title: "Page 1"}}, nil)
	ms.On("RenamePage", mock.Anything, "ReportSection1", "P1").Return(nil)
	ms.On("SetCurrentPage", mock.Anything, "ReportSection1").Return(nil)

	outcome := NewOrchestrator().Build(context.Background(), ms, report(page("P1")))

	ms.AssertExpectations(t)
	ms.AssertNumberOfCalls(t, "RenamePage", 1)
	ms.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
	ms.AssertNotCalled(t, "CreateVisual", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []string{"ListPages", "RenamePage", "SetCurrentPage", "SetCurrentPage"}, ms.methods())

	assert.Equal(t, model.BuildStatusSucceeded, outcome.Status)
	assert.Equal(t, model.BuildStateDone, outcome.State)
	require.Len(t, outcome.Pages, 1)
	assert.Equal(t, model.StepStatusSucceeded, outcome.Pages[0].Status)
	assert.Equal(t, "ReportSection1", outcome.Pages[0].RemoteName)
	assert.Equal(t, 0, outcome.FailedSteps())
}

func TestOrchestrator_FailedVisualDoesNotAbortSiblings(t *testing.T) {
	ms := new(MockSession)
	ms.On("ListPages", mock.Anything).Return([]session.PageInfo{{Name: "ReportSection1"}}, nil)
	ms.On("RenamePage", mock.Anything, "ReportSection1", "P1").Return(nil)
	ms.On("SetCurrentPage", mock.Anything, "ReportSection1").Return(nil)
	ms.On("CreateVisual", mock.Anything, "sparkline", visibleLayout).
		Return(session.VisualHandle{}, session.NewError(session.CodeUnsupportedVisualType, "CreateVisual", "not supported"))
	ms.On("CreateVisual", mock.Anything, "pieChart", visibleLayout).
		Return(session.VisualHandle{Name: "visual0001", Type: "pieChart"}, nil)
	ms.On("BindField", mock.Anything, session.VisualHandle{Name: "visual0001", Type: "pieChart"}, "Category", field("Category")).Return(nil)

	spec := report(page("P1", visual("sparkline", "Values"), visual("pieChart", "Category")))
	outcome := NewOrchestrator().Build(context.Background(), ms, spec)

	ms.AssertExpectations(t)
	ms.AssertNumberOfCalls(t, "BindField", 1)

	visuals := outcome.Pages[0].Visuals
	require.Len(t, visuals, 2)

	assert.Equal(t, model.StepStatusFailed, visuals[0].Status)
	require.NotNil(t, visuals[0].Create.Failure)
	assert.Equal(t, model.ErrorKindVisual, visuals[0].Create.Failure.Kind)
	assert.Equal(t, "unsupported_visual_type", visuals[0].Create.Failure.Code)
	require.Len(t, visuals[0].Bindings, 1)
	assert.Equal(t, model.StepStatusSkipped, visuals[0].Bindings[0].Status)

	assert.Equal(t, model.StepStatusSucceeded, visuals[1].Status)
	assert.Equal(t, "visual0001", visuals[1].RemoteName)

	assert.Equal(t, model.StepStatusPartial, outcome.Pages[0].Status)
	assert.Equal(t, model.BuildStatusPartial, outcome.Status)
	assert.Equal(t, 1, outcome.FailedSteps())
}

func TestOrchestrator_FailedBindingLeavesVisualPartiallyBound(t *testing.T) {
	handle := session.VisualHandle{Name: "visual0001", Type: "clusteredColumnChart"}
	ms := new(MockSession)
	ms.On("ListPages", mock.Anything).Return([]session.PageInfo{{Name: "ReportSection1"}}, nil)
	ms.On("RenamePage", mock.Anything, "ReportSection1", "P1").Return(nil)
	ms.On("SetCurrentPage", mock.Anything, "ReportSection1").Return(nil)
	ms.On("CreateVisual", mock.Anything, "clusteredColumnChart", visibleLayout).Return(handle, nil)
	ms.On("BindField", mock.Anything, handle, "Category", field("Category")).Return(nil)
	ms.On("BindField", mock.Anything, handle, "Y", field("Y")).
		Return(session.NewError(session.CodeIncompatibleField, "BindField", "column is not numeric"))
	ms.On("BindField", mock.Anything, handle, "Tooltips", field("Tooltips")).Return(nil)

	spec := report(page("P1", visual("clusteredColumnChart", "Category", "Y", "Tooltips")))
	outcome := NewOrchestrator().Build(context.Background(), ms, spec)

	ms.AssertExpectations(t)

	var roles []string
	for _, call := range ms.Calls {
		if call.Method == "BindField" {
			roles = append(roles, call.Arguments.String(2))
		}
	}
	assert.Equal(t, []string{"Category", "Y", "Tooltips"}, roles)

	v := outcome.Pages[0].Visuals[0]
	assert.Equal(t, model.StepStatusPartial, v.Status)
	require.Len(t, v.Bindings, 3)
	assert.Equal(t, model.StepStatusSucceeded, v.Bindings[0].Status)
	assert.Equal(t, model.StepStatusFailed, v.Bindings[1].Status)
	assert.Equal(t, "incompatible_field", v.Bindings[1].Failure.Code)
	assert.Equal(t, model.StepBindField, v.Bindings[1].Failure.Step)
	assert.Equal(t, model.StepStatusSucceeded, v.Bindings[2].Status)
	assert.Equal(t, model.BuildStatusPartial, outcome.Status)
}

func TestOrchestrator_EmptyPages(t *testing.T) {
	ms := new(MockSession)

	outcome := NewOrchestrator().Build(context.Background(), ms, report())

	assert.Empty(t, ms.Calls)
	assert.Equal(t, model.BuildStatusSucceeded, outcome.Status)
	assert.Equal(t, model.BuildStateDone, outcome.State)
	assert.NotNil(t, outcome.Pages)
	assert.Empty(t, outcome.Pages)
	assert.Nil(t, outcome.Failure)
}

func TestOrchestrator_ResolvesAllPagesBeforeLaterVisuals(t *testing.T) {
	s := memory.New(memory.WithPages("Page 1"))
	spec := report(
		page("Overview", visual("card", "Values")),
		page("Details", visual("table", "Values")),
		page("Appendix", visual("slicer", "Field")),
	)

	outcome := NewOrchestrator().Build(context.Background(), s, spec)
	require.Equal(t, model.BuildStatusSucceeded, outcome.Status)

	calls := s.Calls()
	resolutions := 0
	for _, call := range calls {
		if call.Op == memory.OpCreateVisual {
			break
		}
		if call.Op == memory.OpRenamePage || call.Op == memory.OpCreatePage {
			resolutions++
		}
	}
	assert.Equal(t, 3, resolutions)

	pages := s.Pages()
	require.Len(t, pages, 3)
	wantTypes := []string{"card", "table", "slicer"}
	for i, p := range pages {
		assert.Equal(t, spec.Pages[i].Title, p.Title)
		require.Len(t, p.Visuals, 1, "page %s", p.Title)
		assert.Equal(t, wantTypes[i], p.Visuals[0].Type)
		assert.Equal(t, session.DisplayModeVisible, p.Visuals[0].Layout.DisplayState.Mode)
	}
}

func TestOrchestrator_CreatesAllPagesOnEmptySession(t *testing.T) {
	s := memory.New()

	outcome := NewOrchestrator().Build(context.Background(), s, report(page("A"), page("B")))
	require.Equal(t, model.BuildStatusSucceeded, outcome.Status)

	for _, call := range s.Calls() {
		assert.NotEqual(t, memory.OpRenamePage, call.Op)
	}
	assert.Equal(t, "ReportSection1", outcome.Pages[0].RemoteName)
	assert.Equal(t, "ReportSection2", outcome.Pages[1].RemoteName)
}

func TestOrchestrator_SyncFailureStopsLaterPages(t *testing.T) {
	s := memory.New(
		memory.WithPages("Page 1"),
		memory.WithFault(func(op memory.Op, target string) error {
			if op == memory.OpCreatePage && target == "Details" {
				return session.NewError(session.CodeSession, string(op), "report is read-only")
			}
			return nil
		}),
	)
	spec := report(
		page("Overview", visual("card", "Values")),
		page("Details", visual("table", "Values")),
		page("Appendix", visual("slicer", "Field")),
	)

	var states []string
	o := NewOrchestrator(WithTransitionFunc(func(_ context.Context, state model.BuildState, page int) {
		states = append(states, fmt.Sprintf("%s:%d", state, page))
	}))
	outcome := o.Build(context.Background(), s, spec)

	for _, call := range s.Calls() {
		assert.NotEqual(t, "Appendix", call.Target)
		assert.NotEqual(t, "slicer", call.Target)
	}

	require.Len(t, outcome.Pages, 3)
	assert.Equal(t, model.StepStatusSucceeded, outcome.Pages[0].Status)
	assert.Len(t, outcome.Pages[0].Visuals, 1)

	assert.Equal(t, model.StepStatusFailed, outcome.Pages[1].Status)
	require.NotNil(t, outcome.Pages[1].Failure)
	assert.Equal(t, model.ErrorKindSync, outcome.Pages[1].Failure.Kind)
	assert.Equal(t, model.StepCreatePage, outcome.Pages[1].Failure.Step)
	assert.Empty(t, outcome.Pages[1].Visuals)

	assert.Equal(t, model.StepStatusSkipped, outcome.Pages[2].Status)
	assert.Empty(t, outcome.Pages[2].Steps)

	assert.Equal(t, model.BuildStatusPartial, outcome.Status)
	assert.False(t, outcome.PagesSynchronized())
	assert.Equal(t, []string{
		"IDLE:-1",
		"SYNCHRONIZING_PAGES:-1",
		"MATERIALIZING_VISUALS:0",
		"DONE:-1",
	}, states)
}

func TestOrchestrator_ListPagesFailure(t *testing.T) {
	ms := new(MockSession)
	ms.On("ListPages", mock.Anything).Return(nil, session.ErrNoReport)

	outcome := NewOrchestrator().Build(context.Background(), ms, report(page("A"), page("B")))

	assert.Equal(t, []string{"ListPages"}, ms.methods())
	assert.Equal(t, model.StepStatusFailed, outcome.Pages[0].Status)
	assert.Equal(t, model.StepListPages, outcome.Pages[0].Failure.Step)
	assert.Equal(t, "session_error", outcome.Pages[0].Failure.Code)
	assert.Equal(t, model.StepStatusSkipped, outcome.Pages[1].Status)
	assert.Equal(t, model.BuildStatusFailed, outcome.Status)
}

func TestOrchestrator_ReselectFailureStopsMaterialization(t *testing.T) {
	ms := new(MockSession)
	ms.On("ListPages", mock.Anything).Return([]session.PageInfo{}, nil)
	ms.On("CreatePage", mock.Anything, "A").Return(session.PageInfo{Name: "ReportSection1", Title: "A"}, nil)
	ms.On("CreatePage", mock.Anything, "B").Return(session.PageInfo{Name: "ReportSection2", Title: "B"}, nil)
	ms.On("SetCurrentPage", mock.Anything, "ReportSection1").Return(nil).Once()
	ms.On("SetCurrentPage", mock.Anything, "ReportSection2").Return(nil).Once()
	ms.On("SetCurrentPage", mock.Anything, "ReportSection1").
		Return(session.NewError(session.CodePageNotFound, "SetCurrentPage", "page was deleted")).Once()

	outcome := NewOrchestrator().Build(context.Background(), ms, report(page("A", visual("card")), page("B", visual("card"))))

	ms.AssertExpectations(t)
	ms.AssertNotCalled(t, "CreateVisual", mock.Anything, mock.Anything, mock.Anything)

	assert.Equal(t, model.StepStatusFailed, outcome.Pages[0].Status)
	assert.Equal(t, model.ErrorKindSync, outcome.Pages[0].Failure.Kind)
	assert.Equal(t, "page_not_found", outcome.Pages[0].Failure.Code)
	assert.Equal(t, model.StepStatusSkipped, outcome.Pages[1].Status)
	assert.Equal(t, model.BuildStatusPartial, outcome.Status)
}

func TestOrchestrator_Preconditions(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		outcome := NewOrchestrator().Build(context.Background(), nil, report(page("A")))

		assert.Equal(t, model.BuildStatusFailed, outcome.Status)
		assert.Equal(t, model.BuildStateDone, outcome.State)
		require.NotNil(t, outcome.Failure)
		assert.Equal(t, model.ErrorKindSessionPrecondition, outcome.Failure.Kind)
		assert.Empty(t, outcome.Pages)
	})

	t.Run("no report loaded", func(t *testing.T) {
		s := memory.New(memory.Unloaded())

		outcome := NewOrchestrator().Build(context.Background(), s, report(page("A")))

		assert.Empty(t, s.Calls())
		assert.Equal(t, model.BuildStatusFailed, outcome.Status)
		assert.Equal(t, model.ErrorKindSessionPrecondition, outcome.Failure.Kind)
	})

	t.Run("no spec", func(t *testing.T) {
		ms := new(MockSession)

		outcome := NewOrchestrator().Build(context.Background(), ms, nil)

		assert.Empty(t, ms.Calls)
		assert.Equal(t, model.ErrorKindParse, outcome.Failure.Kind)
	})
}

func TestOrchestrator_CanceledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := memory.New(memory.WithPages("Page 1"))
	o := NewOrchestrator(WithTransitionFunc(func(_ context.Context, state model.BuildState, page int) {
		if state == model.BuildStateMaterializingVisuals && page == 1 {
			cancel()
		}
	}))
	outcome := o.Build(ctx, s, report(page("A", visual("card")), page("B", visual("table"))))

	calls := s.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, memory.OpCreateVisual, last.Op)
	assert.Equal(t, "card", last.Target)

	assert.True(t, outcome.Canceled)
	assert.Equal(t, model.StepStatusSucceeded, outcome.Pages[0].Status)
	assert.Equal(t, model.StepStatusSkipped, outcome.Pages[1].Status)
	require.NotNil(t, outcome.Pages[1].Failure)
	assert.Equal(t, model.ErrorKindCanceled, outcome.Pages[1].Failure.Kind)
	assert.Equal(t, model.BuildStatusPartial, outcome.Status)
}

func TestOrchestrator_CanceledDuringBindings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := memory.New(memory.WithFault(func(op memory.Op, target string) error {
		if op == memory.OpBindField && target == "Y" {
			cancel()
		}
		return nil
	}))
	spec := report(page("A", visual("pieChart", "Category", "Y", "Tooltips"), visual("card", "Values")))

	outcome := NewOrchestrator().Build(ctx, s, spec)

	visuals := outcome.Pages[0].Visuals
	require.Len(t, visuals, 2)
	assert.Equal(t, model.StepStatusPartial, visuals[0].Status)
	assert.Equal(t, model.StepStatusSucceeded, visuals[0].Bindings[1].Status)
	assert.Equal(t, model.StepStatusSkipped, visuals[0].Bindings[2].Status)
	assert.Equal(t, model.ErrorKindCanceled, visuals[0].Bindings[2].Failure.Kind)
	assert.Equal(t, model.StepStatusSkipped, visuals[1].Status)
	assert.Equal(t, model.StepStatusSkipped, visuals[1].Create.Status)
	assert.True(t, outcome.Canceled)
	assert.Equal(t, model.BuildStatusPartial, outcome.Status)

	for _, call := range s.Calls() {
		assert.NotEqual(t, "Tooltips", call.Target)
		assert.NotEqual(t, "card", call.Target)
	}
}

func TestOrchestrator_NeverPanicsOnRemoteErrors(t *testing.T) {
	boom := errors.New("connection reset")
	s := memory.New(memory.WithFault(func(op memory.Op, target string) error {
		if op == memory.OpCreateVisual || op == memory.OpBindField {
			return boom
		}
		return nil
	}))

	outcome := NewOrchestrator().Build(context.Background(), s, report(page("A", visual("card", "Values"), visual("table"))))

	assert.Equal(t, model.BuildStatusPartial, outcome.Status)
	assert.Equal(t, 2, outcome.FailedSteps())
	assert.Empty(t, outcome.Pages[0].Visuals[0].Create.Failure.Code)
	assert.Equal(t, "connection reset", outcome.Pages[0].Visuals[0].Create.Failure.Message)
}
