package projection

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"coordhub/coordinator"
)

// SortForDisplay returns a copy of records stably ordered by municipality,
// then sector, using Spanish collation.
func SortForDisplay(records []coordinator.Coordinator) []coordinator.Coordinator {
	out := make([]coordinator.Coordinator, len(records))
	copy(out, records)

	// A Collator keeps internal buffers, so each call gets its own.
	col := collate.New(language.Spanish)
	sort.SliceStable(out, func(i, j int) bool {
		if c := col.CompareString(out[i].Municipality, out[j].Municipality); c != 0 {
			return c < 0
		}
		return col.CompareString(out[i].Sector, out[j].Sector) < 0
	})
	return out
}
