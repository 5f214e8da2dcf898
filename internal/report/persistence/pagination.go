package persistence

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a resolved offset/limit window over a listing.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// NewPage resolves optional query values. A missing or negative offset starts
// at the beginning; a missing or non-positive limit falls back to
// DefaultPageSize, and no limit exceeds MaxPageSize.
func NewPage(offset, limit *int) Page {
	page := Page{Limit: DefaultPageSize}
	if offset != nil && *offset > 0 {
		page.Offset = *offset
	}
	if limit != nil && *limit > 0 {
		page.Limit = min(*limit, MaxPageSize)
	}
	return page
}
