package projection

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"coordhub/coordinator"
)

// Row is one display row with its merged-cell annotations.
type Row struct {
	Record coordinator.Coordinator
	// Position is the 0-based index in the full grouped sequence.
	Position int
	// Head marks the row that shows the municipality label.
	Head  bool
	Label string
	// Span is the number of rows the head's label covers; 0 for continuation rows.
	Span int
	// GroupSize is the length of the whole run across all pages.
	GroupSize int
}

// GroupByMunicipality annotates maximal runs of consecutive records that share
// a municipality, compared in NFC like the collator that sorted them. The
// first row of each run is the head and carries its spelling.
func GroupByMunicipality(sorted []coordinator.Coordinator) []Row {
	rows := make([]Row, len(sorted))
	for start := 0; start < len(sorted); {
		name := norm.NFC.String(sorted[start].Municipality)
		end := start + 1
		for end < len(sorted) && norm.NFC.String(sorted[end].Municipality) == name {
			end++
		}
		size := end - start
		for i := start; i < end; i++ {
			rows[i] = Row{Record: sorted[i], Position: i, GroupSize: size}
		}
		rows[start].Head = true
		rows[start].Label = groupLabel(sorted[start].Municipality, size)
		rows[start].Span = size
		start = end
	}
	return rows
}

func groupLabel(municipality string, size int) string {
	return fmt.Sprintf("%s (%d)", municipality, size)
}
