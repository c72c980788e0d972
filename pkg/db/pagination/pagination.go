// Package pagination provides the page/limit response block shared by
// all list endpoints.
package pagination

// Request is the query-string shape bound by list handlers.
type Request struct {
	Page  int `form:"page,default=1" validate:"gte=1"`
	Limit int `form:"limit,default=25" validate:"gte=1,lte=250"`
}

// PageInfo describes one page of results.
type PageInfo struct {
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int   `json:"totalPages"`
	Limit       int   `json:"limit"`
	CurrentPage int   `json:"currentPage"`
}

func (r Request) Normalize() Request {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Limit < 1 {
		r.Limit = 25
	}
	return r
}

// Offset returns the row offset for the requested page.
func (r Request) Offset() int {
	return (r.Page - 1) * r.Limit
}

// Build computes the page info block for a total item count.
func Build(total int64, req Request) PageInfo {
	req = req.Normalize()
	pages := int(total) / req.Limit
	if int(total)%req.Limit != 0 {
		pages++
	}
	return PageInfo{
		TotalItems:  total,
		TotalPages:  pages,
		Limit:       req.Limit,
		CurrentPage: req.Page,
	}
}
