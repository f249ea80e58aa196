package xhr

import (
	"errors"
	"fmt"
)

// ErrNoSessionID means get_refresh_sessionid answered without a token, so
// the POST was never sent.
var ErrNoSessionID = errors.New("xhr: device returned no session id")

// SessionExpiredError is returned when a response carries session_valid=0.
// Target is the login page the browser should go to.
type SessionExpiredError struct {
	Method string
	Target string
	Alert  string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("xhr: session expired during %s, go to %s", e.Method, e.Target)
}

// HTTPStatusError is a non-200 answer from the CGI endpoint.
type HTTPStatusError struct {
	Method string
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("xhr: %s returned status %d", e.Method, e.Status)
	}
	return fmt.Sprintf("xhr: %s returned status %d: %s", e.Method, e.Status, e.Body)
}

// IsSessionExpired reports whether err carries a SessionExpiredError.
func IsSessionExpired(err error) bool {
	var se *SessionExpiredError
	return errors.As(err, &se)
}
