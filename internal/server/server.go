// Package server accepts client transports and serves the framed protocol
// over them: one worker per session, plus per-identity push channels fed by
// the notification dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Server owns the listening socket and the shared session infrastructure.
type Server struct {
	addr       string
	bindHost   string
	auth       AuthAPI
	service    MeetingAPI
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
}

// New wires a server. The registry and dispatcher are created here; callers
// needing the dispatcher as the application notifier read it back with
// Dispatcher.
func New(bindHost string, port int, auth AuthAPI, service MeetingAPI, metrics *Metrics, logger *slog.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	return &Server{
		addr:       net.JoinHostPort(bindHost, fmt.Sprintf("%d", port)),
		bindHost:   bindHost,
		auth:       auth,
		service:    service,
		registry:   registry,
		dispatcher: NewDispatcher(registry, metrics, logger),
		metrics:    metrics,
		logger:     logger,
	}
}

// Dispatcher returns the notification dispatcher bound to this server's
// session registry.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Serve accepts client transports until the context is canceled. Each
// accepted transport gets its own session worker.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.InfoContext(ctx, "server listening", "addr", s.addr)

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.ErrorContext(ctx, "accept failed", "error", err)
			continue
		}
		session := newSession(uuid.NewString(), s.bindHost, conn, s.auth, s.service, s.registry, s.dispatcher, s.metrics, s.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.run(ctx)
		}()
	}

	wg.Wait()
	s.logger.InfoContext(ctx, "server stopped")
	return nil
}
