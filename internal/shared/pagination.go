package shared

// Page bounds a listing request. Limit defaults to 50 and is capped at 200.
type Page struct {
	Limit  int
	Offset int
}

// NormalizePage applies defaults and bounds.
func NormalizePage(limit, offset int) Page {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
