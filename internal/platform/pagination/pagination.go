// Package pagination parses page requests and encodes the keyset cursors used by list endpoints.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is a validated page request. Cursor is zero on the first page.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options bound the page size for one endpoint. Zero values take the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (defSize, maxSize int) {
	maxSize = o.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	defSize = o.DefaultPageSize
	if defSize <= 0 {
		defSize = DefaultPageSize
	}
	return min(defSize, maxSize), maxSize
}

// Clamp applies the default to a non-positive size and caps it at the maximum.
func Clamp(size int, opts Options) int {
	defSize, maxSize := opts.bounds()
	if size <= 0 {
		return defSize
	}
	return min(size, maxSize)
}

func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize and pageToken. An explicit pageSize must be a positive integer; values
// above the maximum are capped.
func Parse(values url.Values, opts Options) (Params, error) {
	var params Params
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = size
	}
	params.PageSize = Clamp(params.PageSize, opts)

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}
	return params, nil
}
