// Package middleware holds the HTTP middleware applied to each module.
package middleware

import "net/http"

// Func wraps an http.Handler.
type Func func(http.Handler) http.Handler

// Chain is an ordered middleware stack. The first entry is the outermost.
type Chain []Func

// Then wraps h in every middleware of c.
func (c Chain) Then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}
