// Package projection derives the grouped, paginated coordinator listing from
// a flat record set. Every function is pure: inputs are never mutated and the
// same inputs always yield the same rows.
package projection

import "coordhub/coordinator"

const (
	DefaultPageSize = 10
	MaxPageSize     = 500
)

// FilterState holds the free-text search.
type FilterState struct {
	Query string
}

// PageState is the 1-based page number and the page size.
type PageState struct {
	Number int
	Size   int
}

// State is the complete view state. Transitions return a new value.
type State struct {
	Filter FilterState
	Page   PageState
}

// NewState is the initial view: no filter, first page, default size.
func NewState() State {
	return State{Page: PageState{Number: 1, Size: DefaultPageSize}}
}

// WithFilter replaces the search text and returns to the first page.
func (s State) WithFilter(query string) State {
	s.Filter.Query = query
	s.Page.Number = 1
	return s
}

// WithPageSize changes the page size and returns to the first page.
func (s State) WithPageSize(size int) State {
	s.Page.Size = normalizeSize(size)
	s.Page.Number = 1
	return s
}

// ChangePage moves to requested when it lies in [1, totalPages]. Otherwise
// the state is returned unchanged and ok is false.
func (s State) ChangePage(requested, totalPages int) (State, bool) {
	if requested < 1 || requested > totalPages {
		return s, false
	}
	s.Page.Number = requested
	return s, true
}

// Projection is the result of running the full pipeline for one state.
type Projection struct {
	State   State
	Page    Page
	Matched int
}

// Project filters, sorts, groups and paginates records for state. The
// returned State carries the page number actually shown, which differs from
// the requested one only when the request was past the last page.
func Project(records []coordinator.Coordinator, state State) Projection {
	filtered := Filter(records, state.Filter)
	rows := GroupByMunicipality(SortForDisplay(filtered))
	page := Paginate(rows, state.Page)

	state.Page = PageState{Number: page.Number, Size: page.Size}
	return Projection{State: state, Page: page, Matched: len(filtered)}
}

// ProjectAll runs the pipeline without pagination: every matching row on a
// single page. Used for exports.
func ProjectAll(records []coordinator.Coordinator, filter FilterState) Page {
	rows := GroupByMunicipality(SortForDisplay(Filter(records, filter)))
	return Page{
		Rows:       rows,
		Number:     1,
		Size:       len(rows),
		TotalPages: 1,
		Total:      len(rows),
	}
}

func normalizeSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
