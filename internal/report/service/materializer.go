package service

import (
	"context"
	"log/slog"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/session"
)

// VisualMaterializer creates visuals on the current page and binds their data roles.
type VisualMaterializer struct{}

func NewVisualMaterializer() *VisualMaterializer {
	return &VisualMaterializer{}
}

// Materialize creates each visual in declared order and applies its bindings
// in declared order before moving on to the next visual. Failures are scoped
// to the visual they happen on: a failed creation skips that visual's
// bindings, a failed binding leaves the visual partially bound, and the
// remaining visuals are still attempted.
func (vm *VisualMaterializer) Materialize(ctx context.Context, s session.Session, visuals []model.VisualSpec) []model.VisualOutcome {
	outcomes := make([]model.VisualOutcome, 0, len(visuals))
	for i, visual := range visuals {
		outcomes = append(outcomes, vm.materializeOne(ctx, s, i, visual))
	}
	return outcomes
}

func (vm *VisualMaterializer) materializeOne(ctx context.Context, s session.Session, index int, visual model.VisualSpec) model.VisualOutcome {
	outcome := model.VisualOutcome{
		Index:      index,
		VisualType: visual.VisualType,
		Bindings:   make([]model.BindingOutcome, 0, len(visual.DataRoles)),
	}

	if reason := canceled(ctx, model.StepCreateVisual); reason != nil {
		outcome.Status = model.StepStatusSkipped
		outcome.Create = skipped(model.StepCreateVisual, visual.VisualType, reason)
		outcome.Bindings = skippedBindings(visual.DataRoles, 0, reason, outcome.Bindings)
		return outcome
	}

	handle, err := s.CreateVisual(ctx, visual.VisualType, layoutFor(visual.Layout))
	if err != nil {
		outcome.Status = model.StepStatusFailed
		outcome.Create = failed(model.ErrorKindVisual, model.StepCreateVisual, visual.VisualType, err)
		outcome.Bindings = skippedBindings(visual.DataRoles, 0, nil, outcome.Bindings)
		slog.WarnContext(ctx, "failed to create visual",
			"visual", index,
			"visualType", visual.VisualType,
			"error", err)
		return outcome
	}
	outcome.RemoteName = handle.Name
	outcome.Create = succeeded(model.StepCreateVisual, handle.Name)
	outcome.Status = model.StepStatusSucceeded

	for j, binding := range visual.DataRoles {
		if reason := canceled(ctx, model.StepBindField); reason != nil {
			outcome.Bindings = skippedBindings(visual.DataRoles, j, reason, outcome.Bindings)
			outcome.Status = model.StepStatusPartial
			break
		}

		if err := s.BindField(ctx, handle, binding.Role, binding.DataField); err != nil {
			outcome.Bindings = append(outcome.Bindings, model.BindingOutcome{
				Index:   j,
				Role:    binding.Role,
				Status:  model.StepStatusFailed,
				Failure: newFailure(model.ErrorKindVisual, model.StepBindField, err),
			})
			// The visual stays on the page partially bound.
			outcome.Status = model.StepStatusPartial
			slog.WarnContext(ctx, "failed to bind data field",
				"visual", index,
				"name", handle.Name,
				"role", binding.Role,
				"error", err)
			continue
		}
		outcome.Bindings = append(outcome.Bindings, model.BindingOutcome{
			Index:  j,
			Role:   binding.Role,
			Status: model.StepStatusSucceeded,
		})
	}

	return outcome
}

// layoutFor converts a declared rectangle into a remote layout. Visuals are
// always created visible.
func layoutFor(r model.Rect) session.Layout {
	return session.Layout{
		X:            r.X,
		Y:            r.Y,
		Width:        r.Width,
		Height:       r.Height,
		DisplayState: session.DisplayState{Mode: session.DisplayModeVisible},
	}
}

func skippedBindings(roles []model.DataRoleBinding, from int, reason *model.Failure, into []model.BindingOutcome) []model.BindingOutcome {
	for j := from; j < len(roles); j++ {
		into = append(into, model.BindingOutcome{
			Index:   j,
			Role:    roles[j].Role,
			Status:  model.StepStatusSkipped,
			Failure: reason,
		})
	}
	return into
}
