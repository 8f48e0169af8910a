package projection

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"coordhub/coordinator"
)

// Filter keeps the records matching the query. An empty (or blank) query
// returns a copy of records in the same order. Text fields match by
// case-folded substring in NFC, so composed and decomposed accents match
// each other; the phone matches by raw substring.
func Filter(records []coordinator.Coordinator, f FilterState) []coordinator.Coordinator {
	query := strings.TrimSpace(f.Query)
	out := make([]coordinator.Coordinator, 0, len(records))
	if query == "" {
		return append(out, records...)
	}

	fold := cases.Fold()
	key := func(s string) string { return norm.NFC.String(fold.String(s)) }
	needle := key(query)
	contains := func(s string) bool {
		return s != "" && strings.Contains(key(s), needle)
	}

	for _, c := range records {
		if matches(c, query, contains) {
			out = append(out, c)
		}
	}
	return out
}

func matches(c coordinator.Coordinator, raw string, contains func(string) bool) bool {
	if strings.Contains(c.Phone, raw) {
		return true
	}
	if contains(c.Municipality) || contains(c.Sector) || contains(c.FullName) {
		return true
	}
	for _, v := range []*string{c.Email, c.NationalID, c.Notes} {
		if v != nil && contains(*v) {
			return true
		}
	}
	for _, call := range c.Calls {
		if call.Notes != nil && contains(*call.Notes) {
			return true
		}
	}
	return false
}
