package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

const shutdownTimeout = 5 * time.Second

// WebSocketListener serves a ConnectionManager over HTTP.
type WebSocketListener struct {
	port    uint16
	cm      *ConnectionManager
	waitFor []func(context.Context) error
}

type WebSocketListenerOpt func(*WebSocketListener)

// WithWaitFor holds off serving until every fn has returned. Connections made
// in the meantime wait in the accept backlog.
func WithWaitFor(fns ...func(context.Context) error) WebSocketListenerOpt {
	return func(l *WebSocketListener) {
		l.waitFor = append(l.waitFor, fns...)
	}
}

func NewWebSocketListener(port uint16, cm *ConnectionManager, opts ...WebSocketListenerOpt) *WebSocketListener {
	l := &WebSocketListener{
		port: port,
		cm:   cm,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *WebSocketListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("port %d is already in use (another server running?)", l.port)
		}
		return fmt.Errorf("listening on port %d: %w", l.port, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled.
func (l *WebSocketListener) Serve(ctx context.Context, ln net.Listener) error {
	for _, wait := range l.waitFor {
		if err := wait(ctx); err != nil {
			_ = ln.Close()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("waiting to serve on %s: %w", ln.Addr().String(), err)
		}
	}

	svr := &http.Server{
		Handler:           l.cm.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// done signals that Serve is returning
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := svr.Shutdown(shutdownCtx); err != nil {
				slog.Warn("shutting down listener", "addr", ln.Addr().String(), "error", err)
			}
		case <-done:
		}
	}()

	slog.InfoContext(ctx, "listening", "addr", ln.Addr().String())
	err := svr.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", ln.Addr().String(), err)
	}
	return nil
}
