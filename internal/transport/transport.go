//go:build linux

// Package transport runs single request/reply exchanges with the kernel over a
// NETLINK_ROUTE socket. A Session owns one socket for one operation.
package transport

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

// Conn is the netlink connection surface used by a Session.
// Implemented by *netlink.Conn in production and by nltest connections in tests.
type Conn interface {
	Send(m netlink.Message) (netlink.Message, error)
	Receive() ([]netlink.Message, error)
	Close() error
}

var _ Conn = (*netlink.Conn)(nil)

// DialFunc opens a routing-family netlink connection.
type DialFunc func(cfg *netlink.Config) (Conn, error)

func dialRoute(cfg *netlink.Config) (Conn, error) { return netlink.Dial(unix.NETLINK_ROUTE, cfg) }

var (
	dialMu sync.RWMutex
	dial   DialFunc = dialRoute
)

// SetDialer swaps the dial function and returns a func restoring the previous
// one. Intended for tests; nil restores the real socket.
func SetDialer(fn DialFunc) (restore func()) {
	if fn == nil {
		fn = dialRoute
	}
	dialMu.Lock()
	prev := dial
	dial = fn
	dialMu.Unlock()
	return func() {
		dialMu.Lock()
		dial = prev
		dialMu.Unlock()
	}
}

// bindMu is held from Open until Close. Every session binds the process PID
// as its port ID, so only one socket may be live at a time.
var bindMu sync.Mutex

// Session is one socket bound to this process' PID with no multicast groups.
type Session struct {
	c         Conn
	log       *slog.Logger
	closeOnce sync.Once
}

// Open dials a new session, waiting for any other live session to close
// first. The caller must Close it; opening a second session from the same
// goroutine before that deadlocks.
func Open() (*Session, error) {
	dialMu.RLock()
	fn := dial
	dialMu.RUnlock()
	bindMu.Lock()
	c, err := fn(&netlink.Config{PID: uint32(os.Getpid())})
	if err != nil {
		bindMu.Unlock()
		metrics.IncError(metrics.ErrNetlinkDial)
		return nil, &ProtocolError{Op: "dial", Err: err}
	}
	return &Session{c: c, log: logging.Component("netlink")}, nil
}

// Close releases the socket and lets the next session bind. Further calls
// are no-ops.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.c.Close()
		bindMu.Unlock()
	})
	return err
}

// Ack sends req and waits for a single reply, which must be an explicit
// acknowledgement. Error replies surface as *ProtocolError; anything else,
// including no reply, as ErrNoAck.
func (s *Session) Ack(op string, req netlink.Message) error {
	replies, err := s.roundTrip(op, req)
	if err != nil {
		return err
	}
	if len(replies) == 0 || !IsAck(replies[0]) {
		metrics.IncError(metrics.ErrNetlinkNoAck)
		return fmt.Errorf("netlink %s: %w", op, ErrNoAck)
	}
	return nil
}

// Query sends req and returns the single data reply of type want. A reply
// without a payload of at least minLen bytes is ErrNoAck.
func (s *Session) Query(op string, req netlink.Message, want netlink.HeaderType, minLen int) (netlink.Message, error) {
	replies, err := s.roundTrip(op, req)
	if err != nil {
		return netlink.Message{}, err
	}
	if len(replies) == 0 || replies[0].Header.Type != want || len(replies[0].Data) < minLen {
		metrics.IncError(metrics.ErrNetlinkNoAck)
		return netlink.Message{}, fmt.Errorf("netlink %s: %w", op, ErrNoAck)
	}
	return replies[0], nil
}

func (s *Session) roundTrip(op string, req netlink.Message) ([]netlink.Message, error) {
	metrics.IncNetlinkRequest(op)
	sent, err := s.c.Send(req)
	if err != nil {
		metrics.IncError(metrics.ErrNetlinkSend)
		return nil, &ProtocolError{Op: op, Err: err}
	}
	s.log.Debug("netlink_send", "op", op, "type", uint16(sent.Header.Type), "flags", sent.Header.Flags.String(), "seq", sent.Header.Sequence, "len", len(sent.Data))
	replies, err := s.c.Receive()
	if err != nil {
		metrics.IncError(metrics.ErrNetlinkRecv)
		s.log.Debug("netlink_recv_error", "op", op, "error", err)
		return nil, &ProtocolError{Op: op, Err: err}
	}
	s.log.Debug("netlink_recv", "op", op, "replies", len(replies))
	return replies, nil
}

// IsAck reports whether m is an NLMSG_ERROR carrying errno 0.
func IsAck(m netlink.Message) bool {
	return m.Header.Type == netlink.Error && len(m.Data) >= 4 && nlenc.Int32(m.Data[:4]) == 0
}

// Exchange opens a session, runs Ack and closes the socket.
func Exchange(op string, req netlink.Message) error {
	s, err := Open()
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Ack(op, req)
}

// Fetch opens a session, runs Query and closes the socket.
func Fetch(op string, req netlink.Message, want netlink.HeaderType, minLen int) (netlink.Message, error) {
	s, err := Open()
	if err != nil {
		return netlink.Message{}, err
	}
	defer s.Close()
	return s.Query(op, req, want, minLen)
}
