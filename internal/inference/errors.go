package inference

import (
	"errors"
	"net/http"
)

var (
	ErrNotLoaded      = errors.New("Modelo ainda não carregado")
	ErrUnavailable    = errors.New("Modelo indisponível")
	ErrNoImage        = errors.New("Nenhuma imagem enviada")
	ErrMultipleImages = errors.New("Envie apenas uma imagem")
	ErrTooLarge       = errors.New("Imagem excede o tamanho máximo permitido")
	ErrClassify       = errors.New("Erro ao classificar imagem")
	ErrAlreadyLoaded  = errors.New("model load already attempted")
)

// MapHTTPStatus maps inference errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotLoaded), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNoImage), errors.Is(err, ErrMultipleImages):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
