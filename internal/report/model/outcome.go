package model

// BuildState is the orchestrator's position in a build pass.
type BuildState string

const (
	BuildStateIdle                 BuildState = "IDLE"
	BuildStateSynchronizingPages   BuildState = "SYNCHRONIZING_PAGES"
	BuildStateMaterializingVisuals BuildState = "MATERIALIZING_VISUALS"
	BuildStateDone                 BuildState = "DONE"
)

// BuildStatus summarizes a whole build pass.
type BuildStatus string

const (
	BuildStatusSucceeded BuildStatus = "SUCCEEDED" // Every attempted step succeeded
	BuildStatusPartial   BuildStatus = "PARTIAL"   // Some steps failed or were skipped, some content was applied
	BuildStatusFailed    BuildStatus = "FAILED"    // Nothing was applied
)

// StepStatus is the result of one remote step or of an aggregate (page, visual).
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "SUCCEEDED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusPartial   StepStatus = "PARTIAL" // Aggregates only: created but not every child step succeeded
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// Step names a remote call issued during a build pass.
type Step string

const (
	StepParse          Step = "parse"
	StepPrecondition   Step = "precondition"
	StepListPages      Step = "list_pages"
	StepRenamePage     Step = "rename_page"
	StepCreatePage     Step = "create_page"
	StepSetCurrentPage Step = "set_current_page"
	StepCreateVisual   Step = "create_visual"
	StepBindField      Step = "bind_field"
	StepSave           Step = "save"
	StepSaveAs         Step = "save_as"
)

// ErrorKind is the failure taxonomy surfaced to callers.
type ErrorKind string

const (
	ErrorKindParse               ErrorKind = "ParseError"
	ErrorKindSessionPrecondition ErrorKind = "SessionPreconditionError"
	ErrorKindSync                ErrorKind = "SyncError"
	ErrorKindVisual              ErrorKind = "VisualError"
	ErrorKindFinalize            ErrorKind = "FinalizeError"
	ErrorKindCanceled            ErrorKind = "Canceled"
)

// Failure describes why a step did not succeed. Code carries the remote
// error code when the session reported one.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Step    Step      `json:"step"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// StepOutcome records a single remote call.
type StepOutcome struct {
	Step    Step       `json:"step"`
	Status  StepStatus `json:"status"`
	Target  string     `json:"target,omitempty"`
	Failure *Failure   `json:"failure,omitempty"`
}

// BindingOutcome records one bind-field call, in declared order.
type BindingOutcome struct {
	Index   int        `json:"index"`
	Role    string     `json:"role"`
	Status  StepStatus `json:"status"`
	Failure *Failure   `json:"failure,omitempty"`
}

// VisualOutcome records the creation of a visual and its bindings.
type VisualOutcome struct {
	Index      int              `json:"index"`
	VisualType string           `json:"visualType"`
	RemoteName string           `json:"remoteName,omitempty"`
	Status     StepStatus       `json:"status"`
	Create     StepOutcome      `json:"create"`
	Bindings   []BindingOutcome `json:"bindings"`
}

// PageOutcome records the synchronization of a page and its visuals.
type PageOutcome struct {
	Index       int             `json:"index"`
	Title       string          `json:"title"`
	RemoteName  string          `json:"remoteName,omitempty"`
	RemoteTitle string          `json:"remoteTitle,omitempty"`
	Status      StepStatus      `json:"status"`
	Steps       []StepOutcome   `json:"steps"`
	Visuals     []VisualOutcome `json:"visuals"`
	Failure     *Failure        `json:"failure,omitempty"`
}

// BuildOutcome is the single result of a build pass. Every attempted step
// has exactly one entry; pages that were never attempted are SKIPPED.
type BuildOutcome struct {
	Status   BuildStatus   `json:"status"`
	State    BuildState    `json:"state"`
	Pages    []PageOutcome `json:"pages"`
	Finalize []StepOutcome `json:"finalize,omitempty"`
	Failure  *Failure      `json:"failure,omitempty"`
	Canceled bool          `json:"canceled,omitempty"`
}

// NewParseFailureOutcome builds the outcome of a document that never parsed.
func NewParseFailureOutcome(err error) *BuildOutcome {
	return &BuildOutcome{
		Status: BuildStatusFailed,
		State:  BuildStateDone,
		Pages:  []PageOutcome{},
		Failure: &Failure{
			Kind:    ErrorKindParse,
			Step:    StepParse,
			Message: err.Error(),
		},
	}
}

// Steps flattens every recorded step in issue order.
func (o *BuildOutcome) Steps() []StepOutcome {
	var steps []StepOutcome
	for _, page := range o.Pages {
		steps = append(steps, page.Steps...)
		for _, visual := range page.Visuals {
			steps = append(steps, visual.Create)
			for _, binding := range visual.Bindings {
				steps = append(steps, StepOutcome{
					Step:    StepBindField,
					Status:  binding.Status,
					Target:  binding.Role,
					Failure: binding.Failure,
				})
			}
		}
	}
	return append(steps, o.Finalize...)
}

// FailedSteps counts steps that failed.
func (o *BuildOutcome) FailedSteps() int {
	count := 0
	for _, step := range o.Steps() {
		if step.Status == StepStatusFailed {
			count++
		}
	}
	if o.Failure != nil {
		count++
	}
	return count
}

// PagesSynchronized reports whether no page failed or was skipped during
// synchronization.
func (o *BuildOutcome) PagesSynchronized() bool {
	for _, page := range o.Pages {
		if page.Failure != nil || page.Status == StepStatusSkipped {
			return false
		}
	}
	return o.Failure == nil
}

// Summarize derives Status from the recorded pages and finalize steps.
func (o *BuildOutcome) Summarize() {
	if o.Failure != nil {
		o.Status = BuildStatusFailed
		return
	}

	applied := false
	clean := !o.Canceled
	for _, page := range o.Pages {
		if page.RemoteName != "" {
			applied = true
		}
		if page.Status != StepStatusSucceeded {
			clean = false
		}
	}
	for _, step := range o.Finalize {
		if step.Status != StepStatusSucceeded {
			clean = false
		}
	}

	switch {
	case clean:
		o.Status = BuildStatusSucceeded
	case applied:
		o.Status = BuildStatusPartial
	default:
		o.Status = BuildStatusFailed
	}
}
