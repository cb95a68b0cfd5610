package httpx

import (
	"net/http"
	"strconv"
)

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or not a number.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// ParseLimitOffset reads the limit and offset pagination parameters and
// clamps them: limit to [1, maxLimit], offset to >= 0. Missing or garbage
// values fall back to defLimit and 0.
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (limit, offset int) {
	if maxLimit < 1 {
		maxLimit = 1
	}

	limit = queryInt(r, "limit", defLimit)
	switch {
	case limit < 1:
		limit = 1
	case limit > maxLimit:
		limit = maxLimit
	}

	if offset = queryInt(r, "offset", 0); offset < 0 {
		offset = 0
	}
	return limit, offset
}
