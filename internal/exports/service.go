package exports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ErrEmptyExport is returned when the session produced no bytes.
var ErrEmptyExport = errors.New("export produced no content")

// ExportService stores exported reports and hands them back by key.
type ExportService struct {
	Driver StorageDriver
	now    func() time.Time
}

func NewExportService(driver StorageDriver) *ExportService {
	return &ExportService{Driver: driver, now: time.Now}
}

// Store writes an exported report under a fresh key derived from format and
// returns its metadata. The stored object is removed again when no URL can be
// generated for it.
func (s *ExportService) Store(ctx context.Context, reportTitle, format string, reader io.Reader, contentType string) (*FileMetadata, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ext := strings.ToLower(strings.TrimSpace(format))
	if ext == "" {
		return nil, fmt.Errorf("export format is required")
	}

	id := uuid.New()
	key := fmt.Sprintf("%s.%s", id.String(), ext)

	counter := &countingReader{r: reader}
	if err := s.Driver.Save(ctx, key, counter, contentType); err != nil {
		return nil, fmt.Errorf("storage driver failed: %w", err)
	}
	if counter.n == 0 {
		s.cleanup(ctx, key)
		return nil, ErrEmptyExport
	}

	url, err := s.Driver.GenerateURL(ctx, key, 0)
	if err != nil {
		s.cleanup(ctx, key)
		return nil, fmt.Errorf("failed to generate URL: %w", err)
	}

	metadata := &FileMetadata{
		ID:          id,
		Name:        fileName(reportTitle, ext),
		Key:         key,
		URL:         url,
		Size:        counter.n,
		MimeType:    contentType,
		Format:      ext,
		ReportTitle: reportTitle,
		CreatedAt:   s.now().UTC(),
	}

	slog.InfoContext(ctx, "report export stored", "id", id, "key", key, "size", counter.n)
	return metadata, nil
}

// Download streams a stored export and its content type.
func (s *ExportService) Download(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return s.Driver.Get(ctx, key)
}

func (s *ExportService) cleanup(ctx context.Context, key string) {
	if err := s.Driver.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to clean up orphaned export", "key", key, "error", err)
	}
}

// fileName turns a report title into a download-safe file name.
func fileName(title, ext string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(title))
	if name == "" {
		name = "report"
	}
	return name + "." + ext
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
