// Package server runs the TCP front end: it accepts connections and hands
// each one to its own protocol.Session goroutine, tracking them so Shutdown
// can wait for in-flight sessions to finish (or a deadline to pass).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vellumdb/vellum/paxos"
	"github.com/vellumdb/vellum/protocol"
	"github.com/vellumdb/vellum/txn"
)

// Server listens on a TCP address and serves the line-oriented command
// protocol to every connection it accepts.
type Server struct {
	listener net.Listener
	txns     *txn.Manager
	paxos    *paxos.Engine
	logger   *slog.Logger
	metrics  *metrics

	wg sync.WaitGroup
}

// Options configures a Server.
type Options struct {
	// Paxos, if non-nil, is wired into every session so CAS is available.
	Paxos *paxos.Engine
	// Registerer, if non-nil, receives connection-count metrics.
	Registerer prometheus.Registerer
	// Logger receives lifecycle and per-connection events. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger
}

// New binds addr and returns a Server ready to Serve. It does not start
// accepting connections until Serve is called.
func New(addr string, txns *txn.Manager, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}

	return &Server{
		listener: ln,
		txns:     txns,
		paxos:    opts.Paxos,
		logger:   opts.Logger.With("component", "server"),
		metrics:  newMetrics(opts.Registerer),
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until the listener is closed by Shutdown,
// dispatching each to its own protocol.Session. It returns nil on a clean
// shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("listening", "addr", s.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		s.metrics.connectionOpened()
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.metrics.connectionClosed()

	remote := conn.RemoteAddr()
	s.logger.Debug("connection opened", "remote", remote)

	session := protocol.NewSession(conn, s.txns, s.paxos, s.logger)
	if err := session.Serve(ctx); err != nil {
		s.logger.Debug("connection ended", "remote", remote, "error", err)
		return
	}
	s.logger.Debug("connection closed", "remote", remote)
}

// Shutdown stops accepting new connections and waits for in-flight
// sessions to finish, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("server: close listener: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
