package sensorstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// accessLog feeds gorilla's combined log lines into slog.
type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	slog.Info("http: request", "line", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// newRouter returns a router with /healthz and, when m is set, /metrics.
func newRouter(m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", m.WrapHandler("/healthz", http.HandlerFunc(healthHandler))).Methods(http.MethodGet, http.MethodHead)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// serveHTTP runs an HTTP server on addr until ctx is cancelled. Request
// contexts derive from ctx, so long-lived streams end with it.
func serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(accessLog{}, h),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http: server listening", "server", name, "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s: http server failed: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http: graceful shutdown failed, closing", "server", name, "error", err)
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: http server failed: %w", name, err)
	}
	slog.Info("http: server stopped", "server", name)
	return nil
}
