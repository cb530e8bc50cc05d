package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConnectivity marks transport failures and rejected calls that abort
	// the current sync iteration.
	ErrConnectivity = errors.New("remote unreachable")
	ErrNotFound     = errors.New("remote asset not found")
	// ErrSchema is returned when a response does not decode into the typed record.
	ErrSchema = errors.New("unexpected remote response")
	ErrExists = errors.New("download target already exists")
)

// StatusError is a non-2xx response the client did not map to a sentinel.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// IsConnectivity reports whether err should abort the iteration: transport
// failures and any HTTP status other than not-found.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectivity) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se)
}

// SchemaError wraps ErrSchema with the offending field.
func SchemaError(record, field string) error {
	return fmt.Errorf("%w: %s missing %s", ErrSchema, record, field)
}
