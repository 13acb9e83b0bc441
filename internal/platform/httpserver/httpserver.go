// Package httpserver builds the process's HTTP listener with timeouts
// suited to small JSON request/response bodies.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the given handler. Bulk submissions are the
// largest payloads we accept, so the write timeout leaves room for a full
// batch to be signed and persisted.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
