package shared

import (
	"net/http"
	"strconv"
)

type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePage reads limit and offset from the query string. Bad values fall
// back to the defaults and limit is capped at maxLimit.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	page := Page{Limit: defaultLimit}
	query := r.URL.Query()
	if v, err := strconv.Atoi(query.Get("limit")); err == nil && v > 0 {
		page.Limit = v
	}
	if v, err := strconv.Atoi(query.Get("offset")); err == nil && v >= 0 {
		page.Offset = v
	}
	if maxLimit > 0 && page.Limit > maxLimit {
		page.Limit = maxLimit
	}
	return page
}
