package store

// Page is a validated pagination request. Zero values are normalized to
// page 1, size 20; size is capped at 100.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page parameters into their allowed ranges.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

// Limit returns the SQL LIMIT for the page.
func (p Page) Limit() int { return p.Size }

// Offset returns the SQL OFFSET for the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Paginated wraps a page of items with list metadata.
type Paginated[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Pages int `json:"pages"`
}

// NewPaginated assembles the response envelope for one page.
func NewPaginated[T any](items []T, total int, p Page) Paginated[T] {
	p = p.Normalize()
	pages := total / p.Size
	if total%p.Size != 0 {
		pages++
	}
	if items == nil {
		items = []T{}
	}
	return Paginated[T]{Items: items, Total: total, Page: p.Number, Size: p.Size, Pages: pages}
}
