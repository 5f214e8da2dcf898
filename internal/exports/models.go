package exports

import (
	"time"

	"github.com/google/uuid"
)

// FileMetadata describes a stored export artifact.
type FileMetadata struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mime_type"`
	Format      string    `json:"format"`
	ReportTitle string    `json:"report_title"`
	CreatedAt   time.Time `json:"created_at"`
}
