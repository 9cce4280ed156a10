package query

import (
	"time"

	"github.com/Sternrassler/portal-sync/pkg/domain"
)

// Result is a cached list result: a bare list, or a paginated envelope whose
// non-item fields are kept in Meta.
type Result struct {
	Items     []domain.Record
	Paginated bool
	Meta      map[string]any
}

// withItems returns a copy of r carrying items; Meta is shared unchanged.
func (r *Result) withItems(items []domain.Record) *Result {
	return &Result{Items: items, Paginated: r.Paginated, Meta: r.Meta}
}

// Entry is one cached result.
type Entry struct {
	Descriptor Descriptor

	// List is set for list descriptors, Record for detail descriptors.
	List   *Result
	Record domain.Record

	FetchedAt   time.Time
	Freshness   time.Duration
	Invalidated bool
}

// Fresh reports whether the entry is within its freshness window and has
// not been invalidated.
func (e Entry) Fresh(now time.Time) bool {
	if e.Invalidated {
		return false
	}
	return now.Sub(e.FetchedAt) <= e.Freshness
}

// Stale reports whether the entry should be revalidated. Stale entries are
// still returned by Read for immediate display.
func (e Entry) Stale(now time.Time) bool {
	return !e.Fresh(now)
}
