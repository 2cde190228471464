// Package canlink configures Linux CAN network interfaces over rtnetlink:
// create and delete links, toggle them up and down, and set bit timing,
// control modes, restart behaviour and termination.
//
// Each operation opens its own netlink socket, sends one request, waits for
// one reply and closes the socket. There is no retry, timeout or caching.
// Most operations need CAP_NET_ADMIN.
package canlink

import (
	"fmt"
	"strconv"
	"strings"
)

// maxNameLen is IFNAMSIZ minus the trailing NUL.
const maxNameLen = 15

// Bit-timing limits enforced before a request is built.
const (
	MaxBitrate     = 1_000_000  // classic CAN
	MaxDataBitrate = 15_000_000 // CAN FD data phase
	MaxSamplePoint = 999        // tenths of a percent
)

// Interface addresses a network interface by kernel index. It holds no
// resources and may be copied freely.
type Interface struct {
	index uint32
}

// OpenIndex wraps an index without checking that the interface exists.
func OpenIndex(index uint32) Interface { return Interface{index: index} }

// Index returns the kernel interface index.
func (i Interface) Index() uint32 { return i.index }

func (i Interface) String() string { return "ifindex " + strconv.FormatUint(uint64(i.index), 10) }

// ValidateName applies the kernel's dev_valid_name rules.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Field: "name", Reason: "empty", Err: ErrInvalidName}
	case len(name) > maxNameLen:
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%q is %d bytes, limit %d", name, len(name), maxNameLen), Err: ErrNameTooLong}
	case name == "." || name == "..":
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%q is reserved", name), Err: ErrInvalidName}
	case strings.ContainsAny(name, "/:\x00") || strings.ContainsFunc(name, isSpace):
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%q contains '/', ':', NUL or whitespace", name), Err: ErrInvalidName}
	}
	return nil
}

func isSpace(r rune) bool { return r == ' ' || (r >= '\t' && r <= '\r') }
