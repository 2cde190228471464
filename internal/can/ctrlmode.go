package can

import (
	"fmt"
	"strings"
)

// Mode is a CAN controller mode. The value is the bit number of the
// CAN_CTRLMODE_* flag, not the flag itself.
type Mode uint32

const (
	ModeLoopback       Mode = iota // CAN_CTRLMODE_LOOPBACK
	ModeListenOnly                 // CAN_CTRLMODE_LISTENONLY
	ModeTripleSampling             // CAN_CTRLMODE_3_SAMPLES
	ModeOneShot                    // CAN_CTRLMODE_ONE_SHOT
	ModeBerrReporting              // CAN_CTRLMODE_BERR_REPORTING
	ModeFD                         // CAN_CTRLMODE_FD
	ModePresumeAck                 // CAN_CTRLMODE_PRESUME_ACK
	ModeNonISO                     // CAN_CTRLMODE_FD_NON_ISO
	ModeCCLen8DLC                  // CAN_CTRLMODE_CC_LEN8_DLC
)

// Names follow iproute2's `ip link set ... type can` keywords.
var modeNames = [...]string{
	"loopback", "listen-only", "triple-sampling", "one-shot", "berr-reporting",
	"fd", "presume-ack", "fd-non-iso", "cc-len8-dlc",
}

// Modes lists every known mode in bit order.
func Modes() []Mode {
	out := make([]Mode, len(modeNames))
	for i := range out {
		out[i] = Mode(i)
	}
	return out
}

// Mask returns the single CAN_CTRLMODE_* bit for the mode.
func (m Mode) Mask() uint32 { return 1 << uint32(m) }

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// ParseMode resolves an iproute2 mode keyword. Underscores are accepted for dashes.
func ParseMode(s string) (Mode, error) {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, n := range modeNames {
		if n == k {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown ctrlmode %q", s)
}

// CtrlModes accumulates mode settings into one mask/flags pair. Bits enter the
// mask once and are only removed by Clear; the zero value sets nothing.
type CtrlModes struct {
	raw CtrlMode
}

// NewCtrlModes wraps an explicit mask/flags pair.
func NewCtrlModes(mask, flags uint32) CtrlModes {
	return CtrlModes{raw: CtrlMode{Mask: mask, Flags: flags}}
}

// FromMode builds the pair for a single mode.
func FromMode(mode Mode, on bool) CtrlModes {
	var m CtrlModes
	m.Add(mode, on)
	return m
}

// Add masks the mode's bit and sets it in flags if on.
func (m *CtrlModes) Add(mode Mode, on bool) {
	bit := mode.Mask()
	m.raw.Mask |= bit
	if on {
		m.raw.Flags |= bit
	}
}

// Clear resets the pair to zero/zero.
func (m *CtrlModes) Clear() { m.raw = CtrlMode{} }

// Raw returns the wire pair.
func (m CtrlModes) Raw() CtrlMode { return m.raw }

// IsSet reports the desired value of mode and whether the mask covers it.
// When masked is false the value is meaningless.
func (m CtrlModes) IsSet(mode Mode) (on, masked bool) {
	bit := mode.Mask()
	return m.raw.Flags&bit != 0, m.raw.Mask&bit != 0
}

// Empty reports whether no mode has been masked.
func (m CtrlModes) Empty() bool { return m.raw.Mask == 0 }

func (m CtrlModes) MarshalBinary() ([]byte, error) { return m.raw.MarshalBinary() }

// String renders masked modes as "name=on|off" pairs in bit order.
func (m CtrlModes) String() string {
	var parts []string
	for _, mode := range Modes() {
		on, masked := m.IsSet(mode)
		if !masked {
			continue
		}
		v := "off"
		if on {
			v = "on"
		}
		parts = append(parts, mode.String()+"="+v)
	}
	return strings.Join(parts, " ")
}

// ActiveModes returns the modes enabled in a kernel-reported flags word.
func ActiveModes(flags uint32) []Mode {
	var out []Mode
	for _, mode := range Modes() {
		if flags&mode.Mask() != 0 {
			out = append(out, mode)
		}
	}
	return out
}
