package ledger

import "math"

// Pagination defaults. The API and config layers may override them through
// PageLimits.
const (
	DefaultPage        = 1
	DefaultPageSize    = 10
	MaxPageSize        = 100
	DefaultSummarySize = 10
)

// Page is a 1-based page request. Zero values mean "use the default".
type Page struct {
	Page     int
	PageSize int
}

// PageLimits clamps incoming page requests.
type PageLimits struct {
	DefaultPageSize int
	MaxPageSize     int
}

func DefaultPageLimits() PageLimits {
	return PageLimits{DefaultPageSize: DefaultPageSize, MaxPageSize: MaxPageSize}
}

// Normalize clamps p into the valid range. Oversized pages are clamped to
// the maximum, never rejected.
func (pl PageLimits) Normalize(p Page) Page {
	def, max := pl.DefaultPageSize, pl.MaxPageSize
	if max < 1 {
		max = MaxPageSize
	}
	if def < 1 || def > max {
		def = min(DefaultPageSize, max)
	}

	if p.Page < 1 {
		p.Page = DefaultPage
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = def
	case p.PageSize > max:
		p.PageSize = max
	}
	return p
}

// Offset is the number of rows to skip. p must be normalized. A page whose
// offset does not fit in an int is past the end of any result set and
// yields math.MaxInt.
func (p Page) Offset() int {
	if p.Page-1 > math.MaxInt/p.PageSize {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PageSize
}

// PageMeta describes where a page sits in the full result set.
type PageMeta struct {
	Page            int
	PageSize        int
	TotalItems      int
	TotalPages      int
	HasPreviousPage bool
	HasNextPage     bool
}

// NewPageMeta builds the metadata for a normalized page.
// TotalPages is never below 1, so an empty result still has one page.
func NewPageMeta(p Page, totalItems int) PageMeta {
	totalPages := 1
	if totalItems > 0 {
		totalPages = (totalItems + p.PageSize - 1) / p.PageSize
	}
	return PageMeta{
		Page:            p.Page,
		PageSize:        p.PageSize,
		TotalItems:      totalItems,
		TotalPages:      totalPages,
		HasPreviousPage: p.Page > 1,
		HasNextPage:     p.Page < totalPages,
	}
}

type HistoryPage struct {
	Items []HistoryEntry
	Meta  PageMeta
}

type BalancePage struct {
	Items []Balance
	Meta  PageMeta
}
