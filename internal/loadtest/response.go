package loadtest

import (
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Request describes a single HTTP call made by a VU.
type Request struct {
	// Name groups the request in per-request metrics (e.g. "GET /api/products/:id")
	Name string

	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the outcome of a Request.
//
// A transport failure leaves Status at 0 and sets Error. Interrupted is set
// when the VU context was cancelled mid-flight; such responses are not
// recorded in metrics.
type Response struct {
	Name        string
	Status      int
	Header      http.Header
	Body        []byte
	Duration    time.Duration
	Error       error
	Interrupted bool
}

// OK reports whether the request completed with the given status.
func (r *Response) OK(status int) bool {
	return r.Error == nil && r.Status == status
}

// StatusIn reports whether the response status is one of statuses.
func (r *Response) StatusIn(statuses ...int) bool {
	if r.Error != nil {
		return false
	}
	for _, s := range statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// ValidJSON reports whether the body is well-formed JSON.
func (r *Response) ValidJSON() bool {
	return len(r.Body) > 0 && gjson.ValidBytes(r.Body)
}

// JSON returns the value at a gjson path in the body.
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Check is a named boolean predicate over a response.
type Check struct {
	Name string
	Fn   func(*Response) bool
}

// Truthy reports whether a JSON value would be truthy in JavaScript:
// present, not null, not false, not 0 and not "".
func Truthy(v gjson.Result) bool {
	if !v.Exists() {
		return false
	}
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	default:
		return true
	}
}
