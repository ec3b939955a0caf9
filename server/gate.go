package server

import "net/http"

// Gate decides whether a request may proceed. Authentication and session
// storage live outside the core; the server consumes only this contract.
type Gate interface {
	Allow(r *http.Request) bool
}

// OpenGate admits every request. It is the default when no session layer is
// plugged in.
type OpenGate struct{}

// Allow implements Gate.
func (OpenGate) Allow(*http.Request) bool { return true }

// gated wraps h so requests rejected by g get a 403 before any handler runs.
func gated(g Gate, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(r) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	})
}
