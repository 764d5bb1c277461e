package daemon

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/loopwork/beacon/internal/observability"
	"github.com/loopwork/beacon/internal/protocol"
)

// maxFrameBytes bounds one wire line.
const maxFrameBytes = 4 << 20

// connection is one control-plane client. Writes are serialised by a
// mutex so concurrent handlers and subscription writers interleave at
// frame granularity.
type connection struct {
	id     string
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConnection(id string, conn net.Conn, logger *slog.Logger) *connection {
	return &connection{
		id:     id,
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// send writes one frame. Safe for concurrent use.
func (c *connection) send(v any) error {
	data, err := protocol.EncodeFrame(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return protocol.Errorf(protocol.CodeNotConnected, "connection closed")
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *connection) sendResponse(id string, result any, err error) {
	resp := protocol.Response{ID: id}
	if err != nil {
		resp.Error = protocol.AsError(err).Payload()
	} else {
		resp.Result = result
	}
	if sendErr := c.send(resp); sendErr != nil {
		c.logger.Debug("response write failed", "conn", c.id, "error", sendErr)
	}
}

func (c *connection) sendNotification(method string, params any) error {
	return c.send(protocol.Notification{Method: method, Params: params})
}

func (c *connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.conn.Close()
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Server accepts control-plane connections on a local stream socket and
// feeds decoded frames to the router.
type Server struct {
	socketPath string
	router     *Router
	subs       *Subscriptions
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	listener net.Listener
	conns    map[*connection]struct{}
	nextConn int
	closing  bool

	wg sync.WaitGroup
}

// NewServer creates a server for the given socket path.
func NewServer(socketPath string, router *Router, subs *Subscriptions, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		router:     router,
		subs:       subs,
		logger:     logger.With("component", "server"),
		metrics:    metrics,
		conns:      make(map[*connection]struct{}),
	}
}

// Listen binds the socket, replacing a stale file from a previous run.
func (s *Server) Listen() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("listening", "socket", s.socketPath)
	return nil
}

// Serve runs the accept loop until the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return protocol.Errorf(protocol.CodeInternal, "server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosing() || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.startConnection(ctx, conn)
	}
}

func (s *Server) startConnection(ctx context.Context, netConn net.Conn) {
	s.mu.Lock()
	s.nextConn++
	c := newConnection(connID(s.nextConn), netConn, s.logger)
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(ctx, c)
	}()
}

// readLoop decodes one frame per line. Malformed lines are discarded
// without closing the connection; only I/O errors end it.
func (s *Server) readLoop(ctx context.Context, c *connection) {
	defer s.dropConnection(c)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := protocol.DecodeFrame(line)
		if err != nil {
			s.logger.Debug("discarding malformed frame", "conn", c.id, "error", err)
			continue
		}
		switch frame.Kind() {
		case protocol.FrameRequest:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				result, err := s.router.Dispatch(ctx, c, frame)
				c.sendResponse(frame.ID, result, err)
			}()
		case protocol.FrameNotification:
			s.logger.Debug("ignoring client notification", "conn", c.id, "method", frame.Method)
		default:
			// Responses without a pending id, and invalid frames, are dropped.
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("connection read failed", "conn", c.id, "error", err)
	}
}

func (s *Server) dropConnection(c *connection) {
	c.close()
	if s.subs != nil {
		s.subs.ReleaseConnection(c)
	}

	s.mu.Lock()
	_, tracked := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if tracked && s.metrics != nil {
		s.metrics.ActiveConnections.Dec()
	}
	s.logger.Debug("connection closed", "conn", c.id)
}

// Close stops accepting, closes every connection, and waits for the
// per-connection goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	listener := s.listener
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
	return err
}

// ConnectionCount reports the live connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func connID(n int) string {
	return "c" + strconv.Itoa(n)
}
