package storage

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrEmptyKey   = errors.New("storage key must not be empty")
	ErrInvalidKey = errors.New("invalid storage key")
)

// KeyError reports a rejected key and the segment that failed.
type KeyError struct {
	Key     string
	Segment string
}

func (e *KeyError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("%s %q", ErrInvalidKey, e.Key)
	}
	return fmt.Sprintf("%s %q: bad segment %q", ErrInvalidKey, e.Key, e.Segment)
}

func (e *KeyError) Unwrap() error { return ErrInvalidKey }

// MapHTTPStatus maps storage errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyKey), errors.Is(err, ErrInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
