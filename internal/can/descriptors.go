package can

import (
	"fmt"

	"github.com/mdlayher/netlink/nlenc"
)

// Wire sizes of the linux/can/netlink.h records.
const (
	SizeofBitTiming      = 32
	SizeofBitTimingConst = 48
	SizeofClock          = 4
	SizeofBerrCounter    = 4
	SizeofCtrlMode       = 8
	SizeofDeviceStats    = 24
)

// The kernel exchanges these records in host byte order.
var native = nlenc.NativeEndian()

// BitTiming mirrors struct can_bittiming. See chapter 8 "Bit Timing
// Requirements" of the Bosch CAN 2.0 specification for the field meanings.
type BitTiming struct {
	Bitrate     uint32 // bits/second
	SamplePoint uint32 // one-tenth of a percent
	TQ          uint32 // time quantum, nanoseconds
	PropSeg     uint32 // in TQs
	PhaseSeg1   uint32 // in TQs
	PhaseSeg2   uint32 // in TQs
	SJW         uint32 // synchronisation jump width, in TQs
	BRP         uint32 // bit-rate prescaler
}

func (b BitTiming) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeofBitTiming)
	putUint32s(buf, b.Bitrate, b.SamplePoint, b.TQ, b.PropSeg, b.PhaseSeg1, b.PhaseSeg2, b.SJW, b.BRP)
	return buf, nil
}

func (b *BitTiming) UnmarshalBinary(data []byte) error {
	if err := needLen("bittiming", data, SizeofBitTiming); err != nil {
		return err
	}
	getUint32s(data, &b.Bitrate, &b.SamplePoint, &b.TQ, &b.PropSeg, &b.PhaseSeg1, &b.PhaseSeg2, &b.SJW, &b.BRP)
	return nil
}

// BitTimingConst mirrors struct can_bittiming_const: hardware limits used to
// calculate and check bit-timing parameters.
type BitTimingConst struct {
	Name     [16]byte // controller name, NUL padded
	Tseg1Min uint32   // time segment 1 = prop_seg + phase_seg1
	Tseg1Max uint32
	Tseg2Min uint32 // time segment 2 = phase_seg2
	Tseg2Max uint32
	SJWMax   uint32
	BRPMin   uint32
	BRPMax   uint32
	BRPInc   uint32
}

// HardwareName returns Name up to the first NUL.
func (c BitTimingConst) HardwareName() string {
	for i, b := range c.Name {
		if b == 0 {
			return string(c.Name[:i])
		}
	}
	return string(c.Name[:])
}

func (c BitTimingConst) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeofBitTimingConst)
	copy(buf, c.Name[:])
	putUint32s(buf[len(c.Name):], c.Tseg1Min, c.Tseg1Max, c.Tseg2Min, c.Tseg2Max, c.SJWMax, c.BRPMin, c.BRPMax, c.BRPInc)
	return buf, nil
}

func (c *BitTimingConst) UnmarshalBinary(data []byte) error {
	if err := needLen("bittiming-const", data, SizeofBitTimingConst); err != nil {
		return err
	}
	copy(c.Name[:], data)
	getUint32s(data[len(c.Name):], &c.Tseg1Min, &c.Tseg1Max, &c.Tseg2Min, &c.Tseg2Max, &c.SJWMax, &c.BRPMin, &c.BRPMax, &c.BRPInc)
	return nil
}

// Clock mirrors struct can_clock.
type Clock struct {
	Freq uint32 // Hz
}

func (c Clock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeofClock)
	native.PutUint32(buf, c.Freq)
	return buf, nil
}

func (c *Clock) UnmarshalBinary(data []byte) error {
	if err := needLen("clock", data, SizeofClock); err != nil {
		return err
	}
	c.Freq = native.Uint32(data)
	return nil
}

// BerrCounter mirrors struct can_berr_counter.
type BerrCounter struct {
	TxErr uint16
	RxErr uint16
}

func (c BerrCounter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeofBerrCounter)
	native.PutUint16(buf[0:2], c.TxErr)
	native.PutUint16(buf[2:4], c.RxErr)
	return buf, nil
}

func (c *BerrCounter) UnmarshalBinary(data []byte) error {
	if err := needLen("berr-counter", data, SizeofBerrCounter); err != nil {
		return err
	}
	c.TxErr = native.Uint16(data[0:2])
	c.RxErr = native.Uint16(data[2:4])
	return nil
}

// CtrlMode mirrors struct can_ctrlmode. Only bits set in Mask are applied by
// the kernel; Flags carries the wanted value for each of them.
type CtrlMode struct {
	Mask  uint32
	Flags uint32
}

func (m CtrlMode) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeofCtrlMode)
	putUint32s(buf, m.Mask, m.Flags)
	return buf, nil
}

func (m *CtrlMode) UnmarshalBinary(data []byte) error {
	if err := needLen("ctrlmode", data, SizeofCtrlMode); err != nil {
		return err
	}
	getUint32s(data, &m.Mask, &m.Flags)
	return nil
}

// DeviceStats mirrors struct can_device_stats (IFLA_INFO_XSTATS of a can link).
type DeviceStats struct {
	BusError        uint32
	ErrorWarning    uint32 // changes to error warning state
	ErrorPassive    uint32 // changes to error passive state
	BusOff          uint32 // changes to bus off state
	ArbitrationLost uint32
	Restarts        uint32
}

func (s DeviceStats) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SizeofDeviceStats)
	putUint32s(buf, s.BusError, s.ErrorWarning, s.ErrorPassive, s.BusOff, s.ArbitrationLost, s.Restarts)
	return buf, nil
}

func (s *DeviceStats) UnmarshalBinary(data []byte) error {
	if err := needLen("device-stats", data, SizeofDeviceStats); err != nil {
		return err
	}
	getUint32s(data, &s.BusError, &s.ErrorWarning, &s.ErrorPassive, &s.BusOff, &s.ArbitrationLost, &s.Restarts)
	return nil
}

// Uint32Bytes encodes a scalar attribute payload (restart-ms, restart, mtu).
func Uint32Bytes(v uint32) []byte {
	buf := make([]byte, 4)
	native.PutUint32(buf, v)
	return buf
}

// Uint16Bytes encodes a 16-bit scalar attribute payload (termination).
func Uint16Bytes(v uint16) []byte {
	buf := make([]byte, 2)
	native.PutUint16(buf, v)
	return buf
}

func putUint32s(buf []byte, vs ...uint32) {
	for i, v := range vs {
		native.PutUint32(buf[i*4:], v)
	}
}

func getUint32s(buf []byte, ps ...*uint32) {
	for i, p := range ps {
		*p = native.Uint32(buf[i*4:])
	}
}

// needLen accepts longer buffers: newer kernels may append fields.
func needLen(what string, data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidData, what, n, len(data))
	}
	return nil
}
