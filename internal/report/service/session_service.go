package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

// SessionFactory opens a session on a loaded report.
type SessionFactory func(reportID string) (session.Session, error)

// SessionRegistry stores live sessions under an ID.
type SessionRegistry interface {
	Register(id string, s session.Session)
	Remove(id string) bool
}

// SessionInfo describes a registered session.
type SessionInfo struct {
	ID       string `json:"id"`
	ReportID string `json:"reportId"`
	Loaded   bool   `json:"loaded"`
}

// SessionService opens and closes the sessions builds run against.
type SessionService struct {
	registry SessionRegistry
	factory  SessionFactory
}

func NewSessionService(registry SessionRegistry, factory SessionFactory) *SessionService {
	return &SessionService{registry: registry, factory: factory}
}

// Open creates a session for reportID and registers it under a new ID.
func (s *SessionService) Open(ctx context.Context, reportID string) (*SessionInfo, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, fmt.Errorf("%w: reportId is required", ErrInvalidArgument)
	}
	if s.factory == nil {
		return nil, fmt.Errorf("no session bridge is configured")
	}

	sess, err := s.factory(reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to open session for report %s: %w", reportID, err)
	}
	return s.Attach(ctx, reportID, sess), nil
}

// Attach registers a session opened elsewhere, such as a page connected over
// the relay, under a new ID.
func (s *SessionService) Attach(ctx context.Context, reportID string, sess session.Session) *SessionInfo {
	info := &SessionInfo{ID: uuid.NewString(), ReportID: reportID, Loaded: true}
	if loader, ok := sess.(session.Loader); ok {
		info.Loaded = loader.Loaded(ctx)
	}
	s.registry.Register(info.ID, sess)

	slog.InfoContext(ctx, "session opened", "sessionID", info.ID, "reportID", reportID, "loaded", info.Loaded)
	return info
}

// Close removes a registered session.
func (s *SessionService) Close(ctx context.Context, id string) error {
	if !s.registry.Remove(id) {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	slog.InfoContext(ctx, "session closed", "sessionID", id)
	return nil
}
