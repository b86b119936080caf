package httpserver

import (
	"net/http"
	"time"
)

// New builds the engine's HTTP server. Resolution calls are CPU-bound and
// short; the write timeout is the router's request timeout plus headroom so
// the server never cuts off a response the middleware already allowed.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
