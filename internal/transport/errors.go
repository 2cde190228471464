package transport

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/mdlayher/netlink"
)

// ErrNoAck is returned when the kernel answered with something other than the
// expected acknowledgement or data, or did not answer at all.
var ErrNoAck = errors.New("netlink: no acknowledgement")

// ProtocolError is a failed netlink exchange: socket I/O or an error reply
// from the kernel. The underlying errno is reachable with errors.Is.
type ProtocolError struct {
	Op  string // request name, e.g. "newlink"
	Err error
}

func (e *ProtocolError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("netlink %s: %v (%s)", e.Op, e.Err, msg)
	}
	return fmt.Sprintf("netlink %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Message returns the kernel's extended acknowledgement text, if any.
func (e *ProtocolError) Message() string {
	var oerr *netlink.OpError
	if errors.As(e.Err, &oerr) {
		return oerr.Message
	}
	return ""
}

// Is maps common errnos onto the os sentinels so callers need not import unix.
func (e *ProtocolError) Is(target error) bool {
	switch target {
	case os.ErrPermission:
		return errors.Is(e.Err, syscall.EPERM) || errors.Is(e.Err, syscall.EACCES)
	case os.ErrNotExist:
		return errors.Is(e.Err, syscall.ENODEV)
	case os.ErrExist:
		return errors.Is(e.Err, syscall.EEXIST)
	default:
		return false
	}
}
