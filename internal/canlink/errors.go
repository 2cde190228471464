package canlink

import (
	"errors"
	"fmt"
	"os"

	"github.com/kstaniek/go-canlink/internal/transport"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrNameTooLong = errors.New("interface name too long")
	ErrInvalidName = errors.New("invalid interface name")
	ErrOutOfRange  = errors.New("value out of range")

	// ErrNoAck: the kernel reply was neither the expected ACK/data nor an error.
	ErrNoAck = transport.ErrNoAck
)

// ProtocolError is a failed netlink exchange (socket I/O or kernel error reply).
type ProtocolError = transport.ProtocolError

// ValidationError rejects a caller-supplied value before any netlink I/O.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // ErrNameTooLong, ErrInvalidName or ErrOutOfRange
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("canlink: %s: %v: %s", e.Field, e.Err, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ResolveError reports that an interface name does not map to an index.
type ResolveError struct {
	Name string
	Err  error
}

func (e *ResolveError) Error() string { return fmt.Sprintf("canlink: resolve %q: %v", e.Name, e.Err) }

func (e *ResolveError) Unwrap() error { return e.Err }

// DeleteError is returned by Delete. The handle stays valid so the caller can
// retry or inspect the interface.
type DeleteError struct {
	Interface Interface
	Err       error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("canlink: delete %s: %v", e.Interface, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// RequireCapNetAdmin maps EPERM to a clearer error advising CAP_NET_ADMIN.
func RequireCapNetAdmin(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}
