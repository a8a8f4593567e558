package httpserver

import (
	"net/http"
	"time"

	"fieldops/internal/platform/config"
)

const defaultReadHeaderTimeout = 5 * time.Second

// New builds the HTTP server. WriteTimeout stays unset: audit runs wait on the
// reasoning service and the stream endpoint holds its connection open.
func New(cfg config.Server, handler http.Handler) *http.Server {
	readHeader := cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = defaultReadHeaderTimeout
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeader,
		IdleTimeout:       2 * time.Minute,
	}
}
