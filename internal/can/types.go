package can

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidData is returned when a raw kernel value is outside its legal domain
// or a buffer is too short to hold the record being decoded.
var ErrInvalidData = errors.New("can: invalid data")

// Mtu is the link MTU of a CAN interface. Only two values are legal: classic
// frames (struct can_frame, 16 bytes) and FD frames (struct canfd_frame, 72 bytes).
type Mtu uint32

const (
	MtuStandard Mtu = 16 // CAN_MTU: 8 data bytes
	MtuFD       Mtu = 72 // CANFD_MTU: up to 64 data bytes
)

// ParseMtu maps a raw kernel MTU onto the closed Mtu enumeration.
func ParseMtu(v uint32) (Mtu, error) {
	switch Mtu(v) {
	case MtuStandard, MtuFD:
		return Mtu(v), nil
	}
	return 0, fmt.Errorf("%w: mtu %d", ErrInvalidData, v)
}

// DataLen is the maximum payload a frame can carry at this MTU.
func (m Mtu) DataLen() int {
	if m == MtuFD {
		return 64
	}
	return 8
}

func (m Mtu) String() string {
	switch m {
	case MtuStandard:
		return "standard"
	case MtuFD:
		return "fd"
	}
	return fmt.Sprintf("mtu(%d)", uint32(m))
}

// Set implements flag.Value. Accepts "standard", "fd", "16" or "72".
func (m *Mtu) Set(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "classic", "16":
		*m = MtuStandard
	case "fd", "72":
		*m = MtuFD
	default:
		return fmt.Errorf("%w: mtu %q (use standard|fd)", ErrInvalidData, s)
	}
	return nil
}

// State is the operational/error state of a CAN controller (enum can_state).
type State uint32

const (
	StateErrorActive  State = iota // RX/TX error count < 96
	StateErrorWarning              // RX/TX error count < 128
	StateErrorPassive              // RX/TX error count < 256
	StateBusOff                    // RX/TX error count >= 256
	StateStopped
	StateSleeping
)

var stateNames = [...]string{"error-active", "error-warning", "error-passive", "bus-off", "stopped", "sleeping"}

// ParseState validates a raw kernel state value.
func ParseState(v uint32) (State, error) {
	if v > uint32(StateSleeping) {
		return 0, fmt.Errorf("%w: state %d", ErrInvalidData, v)
	}
	return State(v), nil
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// AttrType is a CAN link-family netlink attribute type (IFLA_CAN_*). The raw
// code is always kept, so values newer than this table survive a decode and
// report Known() == false.
type AttrType uint16

const (
	AttrUnspec AttrType = iota
	AttrBitTiming
	AttrBitTimingConst
	AttrClock
	AttrState
	AttrCtrlMode
	AttrRestartMs
	AttrRestart
	AttrBerrCounter
	AttrDataBitTiming
	AttrDataBitTimingConst
	AttrTermination
	AttrTerminationConst
	AttrBitrateConst
	AttrDataBitrateConst
	AttrBitrateMax
	AttrTDC
	AttrCtrlModeExt
)

var attrNames = [...]string{
	"unspec", "bittiming", "bittiming-const", "clock", "state", "ctrlmode",
	"restart-ms", "restart", "berr-counter", "data-bittiming",
	"data-bittiming-const", "termination", "termination-const",
	"bitrate-const", "data-bitrate-const", "bitrate-max", "tdc", "ctrlmode-ext",
}

// AttrFromCode converts a raw attribute type. Nested/byte-order flag bits are stripped.
func AttrFromCode(code uint16) AttrType { return AttrType(code & 0x3fff) }

// Known reports whether the code names a defined, non-unspec attribute.
func (a AttrType) Known() bool { return a > AttrUnspec && int(a) < len(attrNames) }

// Code returns the kernel numeric type.
func (a AttrType) Code() uint16 { return uint16(a) }

func (a AttrType) String() string {
	if int(a) < len(attrNames) {
		return attrNames[a]
	}
	return fmt.Sprintf("unknown(%d)", uint16(a))
}

// TerminationDisabled is the termination value that switches the resistor off.
const TerminationDisabled uint16 = 0
