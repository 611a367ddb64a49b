package p2pchat

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrServerClosed is returned by Accept after Close.
var ErrServerClosed = errors.New("server closed")

// Server is the listening side of the service: it accepts one peer at a time.
type Server struct {
	listener *net.TCPListener
	logger   Logger

	mu     sync.Mutex
	closed bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// Listen binds a TCP listener to addr.
// Returns an error if the address cannot be bound.
func Listen(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	s := &Server{
		listener: listener,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("server started", "addr", s.listener.Addr())
	return s, nil
}

// Accept blocks until a peer connects, the context is canceled or the
// server is closed.
func (s *Server) Accept(ctx context.Context) (net.Conn, error) {
	// A past deadline is the only way to unblock AcceptTCP without closing.
	stop := context.AfterFunc(ctx, func() {
		_ = s.listener.SetDeadline(time.Now())
	})
	defer stop()

	conn, err := s.listener.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.isClosed() {
			return nil, ErrServerClosed
		}
		s.logger.Error("accept error", "error", err)
		return nil, errors.Wrap(err, "accept")
	}

	s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
	_ = conn.SetNoDelay(true)
	return conn, nil
}

// Close stops the server by closing the underlying listener.
// Any blocked Accept call returns ErrServerClosed. Safe to call multiple times.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
