package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized reports that the catalog rejected the API key.
var ErrUnauthorized = errors.New("catalog: invalid API key")

// HTTPError is a non-success response from the catalog. It keeps the request
// and response payloads for diagnostics.
type HTTPError struct {
	StatusCode   int
	Method       string
	URL          string
	RequestBody  []byte
	ResponseBody []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s %s", e.StatusCode, e.Method, e.URL)
}

// Is makes errors.Is(err, ErrUnauthorized) true for HTTP 401 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// MalformedResponseError reports a payload that is missing required fields or
// is not valid JSON. Index is the offending list element, or -1.
type MalformedResponseError struct {
	Endpoint string
	Index    int
	Field    string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("malformed response from %s: item %d: field %q: %v", e.Endpoint, e.Index, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("malformed response from %s: item %d: missing field %q", e.Endpoint, e.Index, e.Field)
	default:
		return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
	}
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
