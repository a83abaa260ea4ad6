package serverinstr

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Server is an http.Server whose connections and requests are metered.
// Serve, ServeTLS, ListenAndServe and ListenAndServeTLS wrap the listener;
// calling the embedded server's methods directly bypasses connection metrics.
type Server struct {
	*http.Server

	inst *Instrumentor

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// Instrument builds a server with factory and attaches the instruments to
// it. The handler is wrapped with the request middleware and any ConnState
// hook set by the factory keeps running after connection tracking.
func Instrument(meter metric.Meter, factory func() *http.Server, opts ...Option) (*Server, error) {
	srv := factory()
	if srv == nil {
		return nil, errors.New("server factory returned nil")
	}

	s := &Server{
		Server: srv,
		conns:  make(map[net.Conn]struct{}),
	}
	inst, err := New(meter, s, opts...)
	if err != nil {
		return nil, err
	}
	s.inst = inst

	handler := srv.Handler
	if handler == nil {
		handler = http.DefaultServeMux
	}
	srv.Handler = inst.Middleware(handler)

	prev := srv.ConnState
	srv.ConnState = func(c net.Conn, state http.ConnState) {
		s.trackConn(c, state)
		if prev != nil {
			prev(c, state)
		}
	}
	return s, nil
}

// Instrumentor returns the instruments attached to s.
func (s *Server) Instrumentor() *Instrumentor {
	return s.inst
}

func (s *Server) trackConn(c net.Conn, state http.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch state {
	case http.StateNew:
		s.conns[c] = struct{}{}
	case http.StateHijacked, http.StateClosed:
		delete(s.conns, c)
	}
}

// ConnectionCount returns the number of connections the server holds, or
// ErrServerClosed once Shutdown or Close has returned.
func (s *Server) ConnectionCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServerClosed
	}
	return len(s.conns), nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Serve accepts connections on l through the metering listener.
func (s *Server) Serve(l net.Listener) error {
	return s.Server.Serve(s.inst.WrapListener(l))
}

// ServeTLS is Serve with TLS. Bytes are counted below the TLS layer.
func (s *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	return s.Server.ServeTLS(s.inst.WrapListener(l), certFile, keyFile)
}

// ListenAndServe listens on the TCP address s.Addr and calls Serve.
func (s *Server) ListenAndServe() error {
	if s.isClosed() {
		return http.ErrServerClosed
	}
	addr := s.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// ListenAndServeTLS listens on the TCP address s.Addr and calls ServeTLS.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	if s.isClosed() {
		return http.ErrServerClosed
	}
	addr := s.Addr
	if addr == "" {
		addr = ":https"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeTLS(ln, certFile, keyFile)
}

// Shutdown gracefully stops the server. The active connection count stays
// meaningful while connections drain and reports NaN afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.markClosed()
	return err
}

// Close stops the server immediately.
func (s *Server) Close() error {
	err := s.Server.Close()
	s.markClosed()
	return err
}
