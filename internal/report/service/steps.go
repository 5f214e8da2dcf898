package service

import (
	"context"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/session"
)

func succeeded(step model.Step, target string) model.StepOutcome {
	return model.StepOutcome{Step: step, Status: model.StepStatusSucceeded, Target: target}
}

func failed(kind model.ErrorKind, step model.Step, target string, err error) model.StepOutcome {
	return model.StepOutcome{
		Step:    step,
		Status:  model.StepStatusFailed,
		Target:  target,
		Failure: newFailure(kind, step, err),
	}
}

func skipped(step model.Step, target string, reason *model.Failure) model.StepOutcome {
	return model.StepOutcome{Step: step, Status: model.StepStatusSkipped, Target: target, Failure: reason}
}

func newFailure(kind model.ErrorKind, step model.Step, err error) *model.Failure {
	return &model.Failure{
		Kind:    kind,
		Step:    step,
		Code:    string(session.CodeOf(err)),
		Message: err.Error(),
	}
}

// canceled returns a failure describing why a step was not issued, or nil
// while the context is still live.
func canceled(ctx context.Context, step model.Step) *model.Failure {
	if ctx.Err() == nil {
		return nil
	}
	return &model.Failure{Kind: model.ErrorKindCanceled, Step: step, Message: ctx.Err().Error()}
}
