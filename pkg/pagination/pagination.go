// Package pagination reads limit/offset query parameters and shapes paged
// list responses.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts ?limit= and ?offset= from the echo context, applying
// the default and maximum page size.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Page wraps one page of a list response. The total is not counted; HasMore
// is set when the page came back full.
type Page struct {
	Data       interface{} `json:"data"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	HasMore    bool        `json:"has_more"`
	NextOffset *int        `json:"next_offset,omitempty"`
}

// NewPage builds a Page for data holding n items fetched with p.
func NewPage(data interface{}, n int, p Params) *Page {
	page := &Page{Data: data, Limit: p.Limit, Offset: p.Offset, HasMore: n >= p.Limit}
	if page.HasMore {
		next := p.NextOffset()
		page.NextOffset = &next
	}
	return page
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// NextURL renders the link to the following page of basePath.
func (p Params) NextURL(basePath string) string {
	return fmt.Sprintf("%s?limit=%d&offset=%d", basePath, p.Limit, p.NextOffset())
}
