package comms

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sealab-robotics/rovd/logging"
	"github.com/sealab-robotics/rovd/utils"
)

// ErrConnectionLost is returned by Receive when the active session has
// disconnected. The caller decides the restart policy.
var ErrConnectionLost = errors.New("connection lost")

const (
	commandQueueSize  = 8
	sendWriteDeadline = time.Second
)

// Server accepts exactly one trusted TCP client at a time. A later trusted
// connection simply replaces the stored session; untrusted peers are closed
// without a reply. Reconnection is entirely client-driven.
type Server struct {
	trustedClients []string
	logger         logging.Logger

	listener net.Listener
	workers  utils.StoppableWorkers

	mu    sync.Mutex
	conn  net.Conn
	conns map[net.Conn]struct{}

	commands    chan Command
	disconnects chan struct{}
}

// NewServer returns an unstarted server.
func NewServer(trustedClients []string, logger logging.Logger) *Server {
	return &Server{
		trustedClients: trustedClients,
		logger:         logger,
		conns:          map[net.Conn]struct{}{},
		commands:       make(chan Command, commandQueueSize),
		disconnects:    make(chan struct{}, 1),
	}
}

// Start binds the listener and begins accepting connections in the
// background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "binding command server to %s", addr)
	}
	s.listener = listener
	s.workers = utils.NewStoppableWorkers(s.acceptLoop)
	s.logger.Infow("command server started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnw("accept failed", "error", err)
			if !goutils.SelectContextOrWait(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}
		peerIP := peerIP(conn)
		if !s.isTrusted(peerIP) {
			s.logger.Warnw("rejected connection from untrusted peer", "peer", conn.RemoteAddr().String())
			goutils.UncheckedError(conn.Close())
			continue
		}
		s.logger.Infow("client connected", "peer", conn.RemoteAddr().String())
		s.setSession(conn)
		s.workers.AddWorkers(func(ctx context.Context) {
			s.readLoop(ctx, conn)
		})
	}
}

func peerIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// isTrusted is a plain prefix test against the allow list, not subnet-mask
// arithmetic.
func (s *Server) isTrusted(ip string) bool {
	for _, trusted := range s.trustedClients {
		if strings.HasPrefix(ip, trusted) {
			return true
		}
	}
	return false
}

func (s *Server) setSession(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.conns[conn] = struct{}{}
}

// clearSession drops the session if conn is still the active one and reports
// whether it was.
func (s *Server) clearSession(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	return true
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn) {
	defer func() {
		goutils.UncheckedError(conn.Close())
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			s.logger.Warnw("failed to parse command line", "error", err)
			continue
		}
		select {
		case s.commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	// EOF or a transport error on the active session means the client went
	// away. A session that was already replaced just ends quietly.
	if s.clearSession(conn) {
		s.logger.Warnw("client disconnected", "peer", conn.RemoteAddr().String(), "error", scanner.Err())
		select {
		case s.disconnects <- struct{}{}:
		default:
		}
	}
}

// Receive waits up to timeout for one inbound command. No command within the
// timeout returns (nil, nil). A disconnect of the active session returns
// ErrConnectionLost.
func (s *Server) Receive(ctx context.Context, timeout time.Duration) (*Command, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case cmd := <-s.commands:
		return &cmd, nil
	case <-s.disconnects:
		return nil, ErrConnectionLost
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send serializes payload as one NDJSON line to the connected client. Send
// failures are logged and swallowed; the loop continues assuming no
// connection.
func (s *Server) Send(ctx context.Context, payload interface{}) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	message, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warnw("failed to marshal telemetry", "error", err)
		return
	}
	message = append(message, '\n')

	goutils.UncheckedError(conn.SetWriteDeadline(time.Now().Add(sendWriteDeadline)))
	if _, err := conn.Write(message); err != nil {
		s.logger.Warnw("failed to send telemetry", "error", err)
		s.clearSession(conn)
		goutils.UncheckedError(conn.Close())
	}
}

// Connected reports whether a trusted session is currently stored.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close shuts the listener and every connection handler down.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		goutils.UncheckedError(conn.Close())
	}
	s.conn = nil
	s.mu.Unlock()
	if s.workers != nil {
		s.workers.Stop()
	}
	return err
}
