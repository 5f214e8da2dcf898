package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/session"
)

var (
	errNoSession = errors.New("no session handle")
	errNotLoaded = errors.New("session has no report loaded")
	errNoSpec    = errors.New("no report spec")
)

// TransitionFunc observes the orchestrator's state machine. page is the
// index of the page being materialized, or -1.
type TransitionFunc func(ctx context.Context, state model.BuildState, page int)

// Orchestrator runs one build pass: page synchronization, then visual
// materialization page by page. It never returns an error; every failure is
// folded into the BuildOutcome.
type Orchestrator struct {
	synchronizer *PageSynchronizer
	materializer *VisualMaterializer
	onTransition TransitionFunc
}

type OrchestratorOption func(*Orchestrator)

// WithTransitionFunc installs an observer for state transitions.
func WithTransitionFunc(fn TransitionFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onTransition = fn
	}
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		synchronizer: NewPageSynchronizer(),
		materializer: NewVisualMaterializer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Build applies spec to the session. Calls are issued strictly one at a
// time because the session's current page is shared by every call in the
// pass. The caller must not use the session concurrently. Page titles are
// unique, as Parse guarantees; pages are resolved by title.
func (o *Orchestrator) Build(ctx context.Context, s session.Session, spec *model.ReportSpec) *model.BuildOutcome {
	outcome := &model.BuildOutcome{State: model.BuildStateIdle, Pages: []model.PageOutcome{}}
	o.transition(ctx, outcome, model.BuildStateIdle, -1)

	if err := checkPrecondition(ctx, s); err != nil {
		outcome.Failure = &model.Failure{
			Kind:    model.ErrorKindSessionPrecondition,
			Step:    model.StepPrecondition,
			Message: err.Error(),
		}
		return o.finish(ctx, outcome)
	}
	if spec == nil {
		outcome.Failure = &model.Failure{Kind: model.ErrorKindParse, Step: model.StepParse, Message: errNoSpec.Error()}
		return o.finish(ctx, outcome)
	}

	o.transition(ctx, outcome, model.BuildStateSynchronizingPages, -1)
	synced := o.synchronizer.Sync(ctx, s, spec.Pages)
	outcome.Pages = synced.Pages
	outcome.Canceled = synced.Canceled

	for i, declared := range spec.Pages {
		handle, ok := synced.Handles[declared.Title]
		if !ok {
			continue
		}
		page := &outcome.Pages[i]

		o.transition(ctx, outcome, model.BuildStateMaterializingVisuals, i)
		if reason := canceled(ctx, model.StepSetCurrentPage); reason != nil {
			skipFrom(outcome, i, reason)
			outcome.Canceled = true
			break
		}

		// The current page may have moved since synchronization; select it
		// again before creating anything on it.
		if err := s.SetCurrentPage(ctx, handle.Name); err != nil {
			step := failed(model.ErrorKindSync, model.StepSetCurrentPage, handle.Name, err)
			page.Steps = append(page.Steps, step)
			page.Status = model.StepStatusFailed
			page.Failure = step.Failure
			skipFrom(outcome, i+1, nil)
			slog.WarnContext(ctx, "failed to select page for materialization", "page", i, "name", handle.Name, "error", err)
			break
		}
		page.Steps = append(page.Steps, succeeded(model.StepSetCurrentPage, handle.Name))

		page.Visuals = o.materializer.Materialize(ctx, s, declared.Visuals)
		page.Status = pageStatus(page.Visuals)
		if ctx.Err() != nil {
			outcome.Canceled = true
		}
	}

	return o.finish(ctx, outcome)
}

func (o *Orchestrator) finish(ctx context.Context, outcome *model.BuildOutcome) *model.BuildOutcome {
	o.transition(ctx, outcome, model.BuildStateDone, -1)
	outcome.Summarize()

	attrs := []any{
		"status", outcome.Status,
		"pages", len(outcome.Pages),
		"failedSteps", outcome.FailedSteps(),
		"canceled", outcome.Canceled,
	}
	if outcome.Failure != nil {
		attrs = append(attrs, "failure", outcome.Failure.Kind, "error", outcome.Failure.Message)
	}
	slog.InfoContext(ctx, "build pass finished", attrs...)
	return outcome
}

func (o *Orchestrator) transition(ctx context.Context, outcome *model.BuildOutcome, state model.BuildState, page int) {
	outcome.State = state
	slog.DebugContext(ctx, "build state transition", "state", state, "page", page)
	if o.onTransition != nil {
		o.onTransition(ctx, state, page)
	}
}

func checkPrecondition(ctx context.Context, s session.Session) error {
	if s == nil {
		return errNoSession
	}
	if loader, ok := s.(session.Loader); ok && !loader.Loaded(ctx) {
		return errNotLoaded
	}
	return nil
}

// skipFrom marks pages from index i on as not materialized.
func skipFrom(outcome *model.BuildOutcome, i int, reason *model.Failure) {
	for j := i; j < len(outcome.Pages); j++ {
		page := &outcome.Pages[j]
		if page.Status == model.StepStatusFailed {
			continue
		}
		page.Status = model.StepStatusSkipped
		if reason != nil {
			page.Failure = reason
		}
	}
}

func pageStatus(visuals []model.VisualOutcome) model.StepStatus {
	for _, visual := range visuals {
		if visual.Status != model.StepStatusSucceeded {
			return model.StepStatusPartial
		}
	}
	return model.StepStatusSucceeded
}
