// Package httpserver builds the process's http.Server. Per-route deadlines
// live in the router's timeout middleware; the settings here only bound
// connection-level reads and idle keep-alives.
package httpserver

import (
	"net/http"
	"time"
)

func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
