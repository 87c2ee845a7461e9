// Package resources provides JSON:API resource implementations for the
// flowstack API.
package resources

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manyminds/api2go"

	"github.com/artpar/flowstack/internal/shell/store"
)

// =============================================================================
// Response Helper
// =============================================================================

// Response implements api2go.Responder for custom responses.
type Response struct {
	Code int
	Res  interface{}
	Meta map[string]interface{}
}

// Metadata returns additional metadata for the response.
func (r *Response) Metadata() map[string]interface{} {
	return r.Meta
}

// Result returns the response data.
func (r *Response) Result() interface{} {
	return r.Res
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.Code
}

// =============================================================================
// Helper Functions
// =============================================================================

// listOptions parses JSON:API pagination params into store options.
func listOptions(req api2go.Request) store.ListOptions {
	opts := store.DefaultListOptions()

	if limit, ok := req.QueryParams["page[size]"]; ok && len(limit) > 0 {
		if l, err := strconv.Atoi(limit[0]); err == nil {
			opts.Limit = l
		}
	}
	if offset, ok := req.QueryParams["page[offset]"]; ok && len(offset) > 0 {
		if o, err := strconv.Atoi(offset[0]); err == nil {
			opts.Offset = o
		}
	}
	if pageNum, ok := req.QueryParams["page[number]"]; ok && len(pageNum) > 0 {
		if pn, err := strconv.Atoi(pageNum[0]); err == nil && pn > 0 {
			opts.Offset = (pn - 1) * opts.Limit
		}
	}

	return opts.Normalize()
}

// httpError builds a matching Response/HTTPError pair.
func httpError(status int, detail string) (api2go.Responder, error) {
	return &Response{Code: status}, api2go.NewHTTPError(
		fmt.Errorf("%s", detail),
		detail,
		status,
	)
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return errors.Is(err, store.ErrNotFound)
}

// isDuplicate checks if an error is a uniqueness violation.
func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicateID) || errors.Is(err, store.ErrDuplicateName)
}
