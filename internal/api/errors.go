package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Backend error codes. These are passed through verbatim so the UI layer
// can translate them; the client never invents its own codes.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInactiveUser       = "INACTIVE_USER"
	CodeInvalidSession     = "INVALID_SESSION"
	CodeUnauthorizedUser   = "UNAUTHORIZED_USER"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
)

// Error is a backend failure with the HTTP status and, when the body
// carried one, the backend's error code and message.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("portal API error (%d) %s: %s", e.Status, e.Code, e.Message)
	}

	return fmt.Sprintf("portal API error (%d): %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a backend rejection of the
// presented access token (the condition the gateway recovers from).
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// ErrorCode returns the backend error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	return ""
}

// parseError builds an *Error from a non-2xx response body. Bodies are
// expected to look like {"errorCode": "...", "message": "..."} but the
// fields are extracted tolerantly so a proxy error page or a bare string
// body still produces something usable.
func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}

	if gjson.ValidBytes(body) {
		e.Code = gjson.GetBytes(body, "errorCode").Str
		e.Message = gjson.GetBytes(body, "message").Str
	}

	if e.Message == "" {
		e.Message = sanitizeResponseBody(body)
	}

	return e
}
