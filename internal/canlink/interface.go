//go:build linux

package canlink

import (
	"encoding"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/kstaniek/go-canlink/internal/transport"
)

// interfaceByName is swapped in tests.
var interfaceByName = func(name string) (uint32, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return uint32(ifi.Index), nil
}

// Open resolves name to an interface index.
func Open(name string) (Interface, error) {
	if err := ValidateName(name); err != nil {
		return Interface{}, err
	}
	idx, err := interfaceByName(name)
	if err != nil {
		return Interface{}, &ResolveError{Name: name, Err: err}
	}
	return OpenIndex(idx), nil
}

// CreateVCAN creates a virtual CAN interface. See Create.
func CreateVCAN(name string, index *uint32) (Interface, error) {
	return Create(name, index, "vcan")
}

// Create makes a new link of the given driver kind ("vcan", "vxcan", ...).
// A nil index lets the kernel pick one, which is then looked up by name.
// Creating an existing name fails with EEXIST.
func Create(name string, index *uint32, kind string) (Interface, error) {
	var want uint32
	if index != nil {
		want = *index
	}
	req, err := createRequest(name, want, kind)
	if err != nil {
		return Interface{}, err
	}
	if err := transport.Exchange("create", req); err != nil {
		return Interface{}, err
	}
	logging.Component("canlink").Debug("link_created", "name", name, "kind", kind, "index", want)
	if index != nil {
		return OpenIndex(*index), nil
	}
	return Open(name)
}

// BringUp sets IFF_UP.
func (i Interface) BringUp() error { return i.setUp("bring_up", true) }

// BringDown clears IFF_UP. Most CAN parameters can only change while down.
func (i Interface) BringDown() error { return i.setUp("bring_down", false) }

func (i Interface) setUp(op string, up bool) error {
	req, err := linkStateRequest(i.index, up)
	if err != nil {
		return err
	}
	return transport.Exchange(op, req)
}

// Delete removes the interface. On failure the returned *DeleteError carries
// the handle back. After success the index no longer addresses anything and
// further operations fail with ENODEV.
func (i Interface) Delete() error {
	req, err := deleteRequest(i.index)
	if err == nil {
		err = transport.Exchange("delete", req)
	}
	if err != nil {
		return &DeleteError{Interface: i, Err: err}
	}
	return nil
}

// Details queries the interface's current state.
func (i Interface) Details() (*Details, error) {
	req, err := getLinkRequest(i.index)
	if err != nil {
		return nil, err
	}
	m, err := transport.Fetch("details", req, unix.RTM_NEWLINK, unix.SizeofIfInfomsg)
	if err != nil {
		return nil, err
	}
	return decodeDetails(i.index, m.Data), nil
}

// State reports the controller state. Links that do not report one (vcan,
// for instance) yield an ErrInvalidData error.
func (i Interface) State() (can.State, error) {
	d, err := i.Details()
	if err != nil {
		return 0, err
	}
	if d.CAN == nil || d.CAN.State == nil {
		return 0, fmt.Errorf("%s: %w: no CAN state reported", i, can.ErrInvalidData)
	}
	return *d.CAN.State, nil
}

// SetMtu switches between classic and FD frames. The interface must be down.
func (i Interface) SetMtu(mtu can.Mtu) error {
	if _, err := can.ParseMtu(uint32(mtu)); err != nil {
		return &ValidationError{Field: "mtu", Reason: mtu.String(), Err: ErrOutOfRange}
	}
	req, err := mtuRequest(i.index, mtu)
	if err != nil {
		return err
	}
	return transport.Exchange("set_mtu", req)
}

// SetBitrate sets the nominal bitrate. A nil sample point (tenths of a
// percent) lets the kernel choose its default.
func (i Interface) SetBitrate(bitrate uint32, samplePoint *uint32) error {
	bt, err := bitTiming("bitrate", bitrate, MaxBitrate, samplePoint)
	if err != nil {
		return err
	}
	return i.setAttr("set_bitrate", can.AttrBitTiming, bt)
}

// SetDataBitrate sets the CAN FD data-phase bitrate.
func (i Interface) SetDataBitrate(bitrate uint32, samplePoint *uint32) error {
	bt, err := bitTiming("data_bitrate", bitrate, MaxDataBitrate, samplePoint)
	if err != nil {
		return err
	}
	return i.setAttr("set_data_bitrate", can.AttrDataBitTiming, bt)
}

func bitTiming(field string, bitrate, limit uint32, samplePoint *uint32) (can.BitTiming, error) {
	if bitrate == 0 || bitrate > limit {
		return can.BitTiming{}, &ValidationError{Field: field, Reason: fmt.Sprintf("%d not in 1..%d", bitrate, limit), Err: ErrOutOfRange}
	}
	bt := can.BitTiming{Bitrate: bitrate}
	if samplePoint != nil {
		if *samplePoint > MaxSamplePoint {
			return can.BitTiming{}, &ValidationError{Field: "sample_point", Reason: fmt.Sprintf("%d not below 1000", *samplePoint), Err: ErrOutOfRange}
		}
		bt.SamplePoint = *samplePoint
	}
	return bt, nil
}

// SetCtrlMode turns one control mode on or off, leaving the others alone.
func (i Interface) SetCtrlMode(mode can.Mode, on bool) error {
	return i.SetCtrlModes(can.FromMode(mode, on))
}

// SetCtrlModes applies every mode present in the mask at once.
func (i Interface) SetCtrlModes(modes can.CtrlModes) error {
	return i.setAttr("set_ctrlmode", can.AttrCtrlMode, modes)
}

// SetRestartMs sets the automatic bus-off restart delay. Zero disables it.
func (i Interface) SetRestartMs(ms uint32) error {
	return i.setAttr("set_restart_ms", can.AttrRestartMs, rawPayload(can.Uint32Bytes(ms)))
}

// Restart triggers a manual restart of a bus-off controller.
func (i Interface) Restart() error {
	return i.setAttr("restart", can.AttrRestart, rawPayload(can.Uint32Bytes(1)))
}

// SetTermination selects a termination resistor in ohms.
// can.TerminationDisabled switches it off.
func (i Interface) SetTermination(ohms uint16) error {
	return i.setAttr("set_termination", can.AttrTermination, rawPayload(can.Uint16Bytes(ohms)))
}

type rawPayload []byte

func (p rawPayload) MarshalBinary() ([]byte, error) { return p, nil }

func (i Interface) setAttr(op string, attr can.AttrType, v encoding.BinaryMarshaler) error {
	payload, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	req, err := canParamRequest(i.index, attr, payload)
	if err != nil {
		return err
	}
	logging.Component("canlink").Debug("link_set", "op", op, "index", i.index, "attr", attr.String())
	return transport.Exchange(op, req)
}
