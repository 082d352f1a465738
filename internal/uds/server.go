package uds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// HandlerFunc serves one request. ctx ends at the connection deadline or
// when the server stops.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConnTimeout bounds one request/response exchange.
func WithConnTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.connTimeout = d
		}
	}
}

// WithErrorLog routes connection level failures to logf.
func WithErrorLog(logf func(format string, args ...any)) ServerOption {
	return func(s *Server) {
		if logf != nil {
			s.logf = logf
		}
	}
}

type Server struct {
	socketPath  string
	connTimeout time.Duration
	logf        func(format string, args ...any)

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	stop     context.CancelFunc
	stopOnce sync.Once
}

func NewServer(socketPath string, opts ...ServerOption) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		socketPath:  socketPath,
		connTimeout: 30 * time.Second,
		logf:        func(string, ...any) {},
		handlers:    make(map[string]HandlerFunc),
		ctx:         ctx,
		stop:        stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for command, replacing any earlier handler.
func (s *Server) Handle(command string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[command] = h
	s.mu.Unlock()
}

// Start binds the socket (mode 0600) and serves in the background. A stale
// socket file left by a crashed daemon is replaced.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.serve()
	return nil
}

// Stop closes the listener, waits for in-flight requests and removes the
// socket file. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.stop()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
	return nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logf("accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(s.connTimeout)
	_ = conn.SetDeadline(deadline)

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logf("read request: %v", err)
		return
	}

	ctx, cancel := context.WithDeadline(s.ctx, deadline)
	defer cancel()

	if err := WriteFrame(conn, s.dispatch(ctx, &req)); err != nil {
		s.logf("write %s response: %v", req.Command, err)
	}
}

// dispatch routes req to its handler. A panicking handler yields
// INTERNAL_ERROR instead of a dropped connection.
func (s *Server) dispatch(ctx context.Context, req *Request) (resp *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return Errorf(ErrCodeProtocolMismatch,
			"protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion)
	}

	s.mu.RLock()
	h, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return Errorf(ErrCodeUnknownCommand, "unknown command: %q", req.Command)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logf("panic in %s handler: %v\n%s", req.Command, r, debug.Stack())
			resp = Errorf(ErrCodeInternal, "%s handler failed", req.Command)
		}
	}()
	if resp = h(ctx, req); resp == nil {
		resp = SuccessResponse(nil)
	}
	return resp
}
