package predictions

import (
	"errors"
	"net/http"

	"github.com/aviario/postura/pkg/repository"
)

// Domain errors for prediction history operations.
var (
	ErrNotFound   = errors.New("prediction not found")
	ErrDuplicate  = errors.New("prediction already exists")
	ErrNoImage    = errors.New("prediction has no stored image")
	ErrInvalidID  = errors.New("invalid prediction id")
	ErrBadRequest = errors.New("invalid request")
)

// MapHTTPStatus maps prediction domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoImage) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidID) || errors.Is(err, ErrBadRequest) {
		return http.StatusBadRequest
	}
	if errors.Is(err, repository.ErrConstraint) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
