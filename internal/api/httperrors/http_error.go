package httperrors

import (
	"fmt"
	"net/http"
)

// HTTPError is the public error payload returned by all handlers.
type HTTPError struct {
	Code  int    `json:"status"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTPError %d (%s): %s", e.Code, e.Type, e.Title)
}

func NewHTTPError(code int, errType, title string) *HTTPError {
	return &HTTPError{Code: code, Type: errType, Title: title}
}

func NewHTTPErrorf(code int, errType, format string, args ...interface{}) *HTTPError {
	return NewHTTPError(code, errType, fmt.Sprintf(format, args...))
}

// NewNotFound is a convenience constructor for 404s.
func NewNotFound(errType, title string) *HTTPError {
	return NewHTTPError(http.StatusNotFound, errType, title)
}
