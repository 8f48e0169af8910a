package projection

// Page is the slice of rows shown for one PageState.
type Page struct {
	Rows       []Row
	Number     int
	Size       int
	TotalPages int
	Total      int
}

// Paginate cuts the page out of grouped rows. Every group visible on the page
// gets exactly one head: a group continuing from an earlier page has its first
// visible row promoted, labelled with the group's full size. Head spans count
// only the rows visible on this page.
//
// The size is normalised like State.WithPageSize, and a page number outside
// [1, TotalPages] is clamped into it.
func Paginate(rows []Row, p PageState) Page {
	size := normalizeSize(p.Size)
	total := len(rows)
	totalPages := (total + size - 1) / size
	if totalPages < 1 {
		totalPages = 1
	}

	number := p.Number
	if number < 1 {
		number = 1
	}
	if number > totalPages {
		number = totalPages
	}

	start := (number - 1) * size
	end := start + size
	if end > total {
		end = total
	}

	out := make([]Row, end-start)
	copy(out, rows[start:end])

	if len(out) > 0 && !out[0].Head {
		out[0].Head = true
		out[0].Label = groupLabel(out[0].Record.Municipality, out[0].GroupSize)
	}

	for i := range out {
		if !out[i].Head {
			out[i].Label = ""
			out[i].Span = 0
			continue
		}
		span := 1
		for j := i + 1; j < len(out) && !out[j].Head; j++ {
			span++
		}
		out[i].Span = span
	}

	return Page{
		Rows:       out,
		Number:     number,
		Size:       size,
		TotalPages: totalPages,
		Total:      total,
	}
}
