package localserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/pagevault-go/internal/telemetry/logger"
)

// maxRequestLine bounds one request line. Entry values ride inside
// requests as base64, so this also bounds entry size over the socket.
const maxRequestLine = 8 << 20

// Server is the Unix socket management server.
type Server struct {
	path     string
	handler  *Handler
	logger   *slog.Logger
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a local server. The socket is created by ListenAndServe.
func New(socketPath string, handler *Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		path:    socketPath,
		handler: handler,
		logger:  log,
	}
}

// ListenAndServe creates the socket and serves until Shutdown. A
// stale socket file from a previous run is removed first.
func (s *Server) ListenAndServe() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	var err error
	s.listener, err = net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	// Passwords cross this socket; owner-only access.
	if err := os.Chmod(s.path, 0o600); err != nil {
		s.listener.Close()
		return err
	}

	s.running.Store(true)
	s.logger.Info("management socket listening", "path", s.path)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Shutdown stops accepting connections and waits for in-flight
// requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnection serves newline-delimited JSON requests until the
// client disconnects or sends a malformed line.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxRequestLine)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(Response{OK: false, Error: &ErrorBody{Message: "malformed request: " + err.Error()}})
			return
		}
		if req.ID == "" {
			req.ID = ulid.Make().String()
		}

		ctx := logger.WithRequestID(context.Background(), req.ID)
		resp := s.handler.Execute(ctx, req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("write response failed", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("connection read failed", "error", err)
	}
}
