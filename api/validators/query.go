package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/servicehub-backend/pkg/errors"
)

// ParseQueryInt reads an optional integer query parameter bounded to [lo, hi].
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	raw, present := queryValue(r, key)
	if !present {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer", nil)
	}
	if n < lo || n > hi {
		return 0, queryError(key, "is out of range", map[string]any{"min": lo, "max": hi})
	}
	return n, nil
}

func queryValue(r *http.Request, key string) (string, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	return raw, raw != ""
}

func queryError(key, problem string, extra map[string]any) *pkgerrors.Error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "query parameter "+key+" "+problem).WithDetails(details)
}
