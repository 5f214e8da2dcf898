package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
)

// ErrBuildNotFound is returned when no build record matches the lookup.
var ErrBuildNotFound = errors.New("build not found")

// BuildRecord is one persisted build pass.
type BuildRecord struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID   string            `gorm:"type:varchar(100);index;not null" json:"sessionId"`
	ReportTitle string            `gorm:"type:varchar(255)" json:"reportTitle"`
	Status      model.BuildStatus `gorm:"type:varchar(20);not null" json:"status"`
	PageCount   int               `gorm:"not null" json:"pageCount"`
	VisualCount int               `gorm:"not null" json:"visualCount"`
	FailedSteps int               `gorm:"not null" json:"failedSteps"`
	Document    json.RawMessage   `gorm:"type:json" json:"document,omitempty"`
	Outcome     json.RawMessage   `gorm:"type:json" json:"outcome"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for BuildRecord
func (BuildRecord) TableName() string {
	return "report_builds"
}

// NewBuildRecord captures a finished build pass. document is the caller's
// text and is stored only when it is valid JSON.
func NewBuildRecord(sessionID string, document []byte, spec *model.ReportSpec, outcome *model.BuildOutcome) (*BuildRecord, error) {
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to encode build outcome: %w", err)
	}

	record := &BuildRecord{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Status:      outcome.Status,
		PageCount:   len(outcome.Pages),
		FailedSteps: outcome.FailedSteps(),
		Outcome:     encoded,
	}
	if spec != nil {
		record.ReportTitle = spec.Title
		record.VisualCount = spec.VisualCount()
	}
	if json.Valid(document) {
		record.Document = json.RawMessage(document)
	}
	return record, nil
}

// DecodeOutcome unmarshals the stored outcome.
func (r *BuildRecord) DecodeOutcome() (*model.BuildOutcome, error) {
	var outcome model.BuildOutcome
	if err := json.Unmarshal(r.Outcome, &outcome); err != nil {
		return nil, fmt.Errorf("failed to decode build outcome: %w", err)
	}
	return &outcome, nil
}

// BuildStore handles database operations for build records.
type BuildStore struct {
	db *gorm.DB
}

func NewBuildStore(db *gorm.DB) *BuildStore {
	return &BuildStore{db: db}
}

// AutoMigrate creates or updates the report_builds table.
func (s *BuildStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&BuildRecord{}); err != nil {
		return fmt.Errorf("failed to migrate build records: %w", err)
	}
	return nil
}

// Create inserts a new build record.
func (s *BuildStore) Create(ctx context.Context, record *BuildRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create build record: %w", err)
	}
	return nil
}

// GetByID retrieves a build record by its ID.
func (s *BuildStore) GetByID(ctx context.Context, id uuid.UUID) (*BuildRecord, error) {
	var record BuildRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBuildNotFound
		}
		return nil, fmt.Errorf("failed to get build record: %w", err)
	}
	return &record, nil
}

// ListBySession returns one page of a session's builds, newest first, and
// the session's total build count.
func (s *BuildStore) ListBySession(ctx context.Context, sessionID string, offset, limit *int) ([]BuildRecord, int64, error) {
	page := NewPage(offset, limit)

	bySession := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&BuildRecord{}).Where("session_id = ?", sessionID)
	}

	var total int64
	if err := bySession().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count build records: %w", err)
	}

	records := []BuildRecord{}
	if err := bySession().Order("created_at DESC").Offset(page.Offset).Limit(page.Limit).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list build records: %w", err)
	}
	return records, total, nil
}
