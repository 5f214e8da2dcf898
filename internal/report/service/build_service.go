package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OpenNSW/reportbuilder/internal/exports"
	"github.com/OpenNSW/reportbuilder/internal/report/model"
	"github.com/OpenNSW/reportbuilder/internal/report/persistence"
	"github.com/OpenNSW/reportbuilder/internal/session"
)

var (
	// ErrExportUnsupported is returned when the session cannot export reports.
	ErrExportUnsupported = errors.New("session does not support export")
	// ErrExportsDisabled is returned when no export storage is configured.
	ErrExportsDisabled = errors.New("export storage is not configured")
	// ErrInvalidArgument wraps caller input errors outside the document itself.
	ErrInvalidArgument = errors.New("invalid argument")
)

// SessionSource hands out exclusive leases on live sessions.
type SessionSource interface {
	Acquire(id string) (session.Session, func(), error)
}

// BuildStore persists build records.
type BuildStore interface {
	Create(ctx context.Context, record *persistence.BuildRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*persistence.BuildRecord, error)
	ListBySession(ctx context.Context, sessionID string, offset, limit *int) ([]persistence.BuildRecord, int64, error)
}

// ExportStore keeps exported report files.
type ExportStore interface {
	Store(ctx context.Context, reportTitle, format string, reader io.Reader, contentType string) (*exports.FileMetadata, error)
}

// BuildObserver is notified of every finished build pass.
type BuildObserver interface {
	ObserveBuild(outcome *model.BuildOutcome, elapsed time.Duration)
}

// BuildOptions selects the finalize steps run after a build pass.
type BuildOptions struct {
	Save   bool
	SaveAs string
}

// BuildList is one page of a session's build history.
type BuildList struct {
	Items []persistence.BuildRecord `json:"items"`
	Total int64                     `json:"total"`
	persistence.Page
}

// BuildService runs build passes against registered sessions and keeps their history.
type BuildService struct {
	sessions     SessionSource
	store        BuildStore
	exports      ExportStore
	observer     BuildObserver
	orchestrator *Orchestrator
	now          func() time.Time
}

type BuildServiceOption func(*BuildService)

func WithExportStore(store ExportStore) BuildServiceOption {
	return func(s *BuildService) {
		s.exports = store
	}
}

func WithBuildObserver(observer BuildObserver) BuildServiceOption {
	return func(s *BuildService) {
		s.observer = observer
	}
}

func WithOrchestrator(o *Orchestrator) BuildServiceOption {
	return func(s *BuildService) {
		s.orchestrator = o
	}
}

// NewBuildService creates a new instance of BuildService with the provided dependencies.
func NewBuildService(sessions SessionSource, store BuildStore, opts ...BuildServiceOption) *BuildService {
	s := &BuildService{
		sessions:     sessions,
		store:        store,
		orchestrator: NewOrchestrator(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate parses a document without touching any session.
func (s *BuildService) Validate(document []byte) (*model.ReportSpec, error) {
	return model.Parse(document)
}

// Build leases the session, parses the document, runs one build pass and
// the requested finalize steps, and persists the result. A document that does
// not parse is recorded as a failed build and its *model.ParseError returned
// alongside the record. Session lookup and persistence failures are returned
// without a record.
func (s *BuildService) Build(ctx context.Context, sessionID string, document []byte, opts BuildOptions) (*persistence.BuildRecord, error) {
	start := s.now()

	sess, release, err := s.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	spec, parseErr := model.Parse(document)
	var outcome *model.BuildOutcome
	if parseErr != nil {
		slog.InfoContext(ctx, "rejected report document", "sessionID", sessionID, "error", parseErr)
		outcome = model.NewParseFailureOutcome(parseErr)
	} else {
		outcome = s.orchestrator.Build(ctx, sess, spec)
		s.finalize(ctx, sess, outcome, opts)
	}

	if s.observer != nil {
		s.observer.ObserveBuild(outcome, s.now().Sub(start))
	}

	record, err := persistence.NewBuildRecord(sessionID, document, spec, outcome)
	if err != nil {
		return nil, err
	}
	// The pass has already happened; keep its record even if the caller went away.
	if err := s.store.Create(context.WithoutCancel(ctx), record); err != nil {
		slog.ErrorContext(ctx, "failed to persist build record", "sessionID", sessionID, "status", outcome.Status, "error", err)
		return nil, err
	}

	slog.InfoContext(ctx, "build recorded",
		"buildID", record.ID,
		"sessionID", sessionID,
		"status", record.Status,
		"failedSteps", record.FailedSteps)
	return record, parseErr
}

// finalize runs save and save-as after a pass. Both are skipped unless every
// page synchronized, so a half-built report is never written back.
func (s *BuildService) finalize(ctx context.Context, sess session.Session, outcome *model.BuildOutcome, opts BuildOptions) {
	type finalizeStep struct {
		step   model.Step
		target string
		run    func() error
	}
	var steps []finalizeStep
	if opts.Save {
		steps = append(steps, finalizeStep{step: model.StepSave, run: func() error { return sess.Save(ctx) }})
	}
	if name := strings.TrimSpace(opts.SaveAs); name != "" {
		steps = append(steps, finalizeStep{step: model.StepSaveAs, target: name, run: func() error { return sess.SaveAs(ctx, name) }})
	}
	if len(steps) == 0 {
		return
	}

	synchronized := outcome.PagesSynchronized()
	for _, st := range steps {
		if !synchronized {
			outcome.Finalize = append(outcome.Finalize, skipped(st.step, st.target, &model.Failure{
				Kind:    model.ErrorKindFinalize,
				Step:    st.step,
				Message: "not every page was synchronized",
			}))
			continue
		}
		if reason := canceled(ctx, st.step); reason != nil {
			outcome.Finalize = append(outcome.Finalize, skipped(st.step, st.target, reason))
			outcome.Canceled = true
			continue
		}
		if err := st.run(); err != nil {
			outcome.Finalize = append(outcome.Finalize, failed(model.ErrorKindFinalize, st.step, st.target, err))
			slog.WarnContext(ctx, "finalize step failed", "step", st.step, "error", err)
			continue
		}
		outcome.Finalize = append(outcome.Finalize, succeeded(st.step, st.target))
	}
	outcome.Summarize()
}

// Save saves the report loaded in the session.
func (s *BuildService) Save(ctx context.Context, sessionID string) error {
	sess, release, err := s.sessions.Acquire(sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := sess.Save(ctx); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	slog.InfoContext(ctx, "report saved", "sessionID", sessionID)
	return nil
}

// SaveAs saves a copy of the report loaded in the session under name.
func (s *BuildService) SaveAs(ctx context.Context, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	sess, release, err := s.sessions.Acquire(sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := sess.SaveAs(ctx, name); err != nil {
		return fmt.Errorf("failed to save report as %q: %w", name, err)
	}
	slog.InfoContext(ctx, "report saved as copy", "sessionID", sessionID, "name", name)
	return nil
}

// Export exports the session's report in format and stores the file.
func (s *BuildService) Export(ctx context.Context, sessionID, format string) (*exports.FileMetadata, error) {
	if s.exports == nil {
		return nil, ErrExportsDisabled
	}
	format = strings.TrimSpace(format)
	if format == "" {
		return nil, fmt.Errorf("%w: format is required", ErrInvalidArgument)
	}

	sess, release, err := s.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	exporter, ok := sess.(session.Exporter)
	if !ok {
		return nil, ErrExportUnsupported
	}

	reader, contentType, err := exporter.Export(ctx, format)
	if err != nil {
		return nil, fmt.Errorf("failed to export report: %w", err)
	}
	defer reader.Close()

	metadata, err := s.exports.Store(ctx, s.reportTitle(ctx, sessionID), format, reader, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}
	return metadata, nil
}

// reportTitle names exports after the session's latest build.
func (s *BuildService) reportTitle(ctx context.Context, sessionID string) string {
	limit := 1
	records, _, err := s.store.ListBySession(ctx, sessionID, nil, &limit)
	if err != nil {
		slog.WarnContext(ctx, "failed to look up report title", "sessionID", sessionID, "error", err)
	}
	if len(records) > 0 && records[0].ReportTitle != "" {
		return records[0].ReportTitle
	}
	return sessionID
}

// GetBuild returns one build record.
func (s *BuildService) GetBuild(ctx context.Context, id uuid.UUID) (*persistence.BuildRecord, error) {
	return s.store.GetByID(ctx, id)
}

// ListBuilds returns a session's builds, newest first.
func (s *BuildService) ListBuilds(ctx context.Context, sessionID string, offset, limit *int) (*BuildList, error) {
	records, total, err := s.store.ListBySession(ctx, sessionID, offset, limit)
	if err != nil {
		return nil, err
	}
	return &BuildList{Items: records, Total: total, Page: persistence.NewPage(offset, limit)}, nil
}
