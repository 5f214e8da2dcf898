package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/session"
)

// SyncResult is the outcome of synchronizing the declared pages.
type SyncResult struct {
	// Pages holds one outcome per declared page, in declared order.
	Pages []model.PageOutcome
	// Handles maps declared page titles to the remote pages backing them.
	// Only synchronized pages have an entry.
	Handles  map[string]session.PageInfo
	Canceled bool
}

// PageSynchronizer reconciles the declared page list with the session's pages.
type PageSynchronizer struct{}

func NewPageSynchronizer() *PageSynchronizer {
	return &PageSynchronizer{}
}

// Sync resolves every declared page to a remote page, strictly in order. The
// first declared page reuses the session's first existing page (renamed);
// every other page is created. Each resolved page is made current. A failure
// on page i stops synchronization: pages after i are left SKIPPED and pages
// before i stay in place.
func (ps *PageSynchronizer) Sync(ctx context.Context, s session.Session, pages []model.PageSpec) *SyncResult {
	result := &SyncResult{
		Pages:   make([]model.PageOutcome, len(pages)),
		Handles: make(map[string]session.PageInfo, len(pages)),
	}
	for i, page := range pages {
		result.Pages[i] = model.PageOutcome{
			Index:   i,
			Title:   page.Title,
			Status:  model.StepStatusSkipped,
			Steps:   []model.StepOutcome{},
			Visuals: []model.VisualOutcome{},
		}
	}
	if len(pages) == 0 {
		return result
	}

	if reason := canceled(ctx, model.StepListPages); reason != nil {
		result.cancelFrom(0, reason)
		return result
	}
	existing, err := s.ListPages(ctx)
	if err != nil {
		result.fail(0, failed(model.ErrorKindSync, model.StepListPages, "", err))
		slog.WarnContext(ctx, "failed to list session pages", "error", err)
		return result
	}
	result.Pages[0].Steps = append(result.Pages[0].Steps, succeeded(model.StepListPages, fmt.Sprintf("%d pages", len(existing))))

	for i, page := range pages {
		if reason := canceled(ctx, resolveStep(i, existing)); reason != nil {
			result.cancelFrom(i, reason)
			return result
		}

		handle, step := ps.resolve(ctx, s, i, page, existing)
		if step.Status != model.StepStatusSucceeded {
			result.fail(i, step)
			slog.WarnContext(ctx, "page synchronization failed",
				"page", i,
				"title", page.Title,
				"step", step.Step,
				"error", step.Failure.Message)
			return result
		}

		outcome := &result.Pages[i]
		outcome.Steps = append(outcome.Steps, step)
		outcome.RemoteName = handle.Name
		outcome.RemoteTitle = handle.Title

		if reason := canceled(ctx, model.StepSetCurrentPage); reason != nil {
			result.cancelFrom(i, reason)
			return result
		}
		if err := s.SetCurrentPage(ctx, handle.Name); err != nil {
			result.fail(i, failed(model.ErrorKindSync, model.StepSetCurrentPage, handle.Name, err))
			slog.WarnContext(ctx, "failed to select synchronized page", "page", i, "name", handle.Name, "error", err)
			return result
		}
		outcome.Steps = append(outcome.Steps, succeeded(model.StepSetCurrentPage, handle.Name))
		outcome.Status = model.StepStatusSucceeded
		result.Handles[page.Title] = handle

		slog.DebugContext(ctx, "page synchronized", "page", i, "title", page.Title, "name", handle.Name)
	}

	return result
}

// resolve renames or creates the remote page backing declared page i.
func (ps *PageSynchronizer) resolve(ctx context.Context, s session.Session, i int, page model.PageSpec, existing []session.PageInfo) (session.PageInfo, model.StepOutcome) {
	if i == 0 && len(existing) > 0 {
		name := existing[0].Name
		if err := s.RenamePage(ctx, name, page.Title); err != nil {
			return session.PageInfo{}, failed(model.ErrorKindSync, model.StepRenamePage, name, err)
		}
		return session.PageInfo{Name: name, Title: page.Title}, succeeded(model.StepRenamePage, name)
	}

	created, err := s.CreatePage(ctx, page.Title)
	if err != nil {
		return session.PageInfo{}, failed(model.ErrorKindSync, model.StepCreatePage, page.Title, err)
	}
	return created, succeeded(model.StepCreatePage, created.Name)
}

func resolveStep(i int, existing []session.PageInfo) model.Step {
	if i == 0 && len(existing) > 0 {
		return model.StepRenamePage
	}
	return model.StepCreatePage
}

func (r *SyncResult) fail(i int, step model.StepOutcome) {
	page := &r.Pages[i]
	page.Steps = append(page.Steps, step)
	page.Status = model.StepStatusFailed
	page.Failure = step.Failure
}

func (r *SyncResult) cancelFrom(i int, reason *model.Failure) {
	for j := i; j < len(r.Pages); j++ {
		r.Pages[j].Status = model.StepStatusSkipped
		r.Pages[j].Failure = reason
	}
	r.Canceled = true
}
