//go:build linux

package canlink

import (
	"bytes"
	"encoding"
	"unicode/utf8"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canlink/internal/can"
	"github.com/kstaniek/go-canlink/internal/logging"
	"github.com/kstaniek/go-canlink/internal/metrics"
)

// Details is a snapshot of one interface. Pointer fields are nil when the
// kernel omitted the attribute or sent a malformed value.
type Details struct {
	Name  *string
	Index uint32
	IsUp  bool
	Mtu   *can.Mtu
	Kind  string   // IFLA_INFO_KIND, e.g. "can" or "vcan"
	CAN   *CANInfo // set only for kind "can"
}

// CANInfo holds the decoded IFLA_INFO_DATA of a can link.
type CANInfo struct {
	BitTiming          *can.BitTiming
	BitTimingConst     *can.BitTimingConst
	DataBitTiming      *can.BitTiming
	DataBitTimingConst *can.BitTimingConst
	Clock              *can.Clock
	State              *can.State
	CtrlMode           *can.CtrlMode
	RestartMs          *uint32
	BerrCounter        *can.BerrCounter
	Termination        *uint16
	DeviceStats        *can.DeviceStats // IFLA_INFO_XSTATS

	// Skipped lists attributes present in the reply but not decoded here,
	// including codes this package does not know.
	Skipped []can.AttrType
}

// decodeDetails never fails: anything it cannot interpret is left unset and
// counted as degraded.
func decodeDetails(index uint32, data []byte) *Details {
	d := &Details{Index: index}
	info, err := parseIfInfoMsg(data)
	if err != nil {
		degraded("ifinfomsg", err)
		return d
	}
	d.IsUp = info.Flags&unix.IFF_UP != 0

	ad, err := netlink.NewAttributeDecoder(data[unix.SizeofIfInfomsg:])
	if err != nil {
		degraded("attributes", err)
		return d
	}
	var linkInfo []byte
	for ad.Next() {
		switch ad.Type() {
		case unix.IFLA_IFNAME:
			if name, ok := decodeName(ad.Bytes()); ok {
				d.Name = &name
			} else {
				degraded("ifname", can.ErrInvalidData)
			}
		case unix.IFLA_MTU:
			d.Mtu = decodeMtu(ad.Bytes())
		case unix.IFLA_LINKINFO:
			linkInfo = ad.Bytes()
		}
	}
	if err := ad.Err(); err != nil {
		degraded("attributes", err)
	}
	if linkInfo != nil {
		decodeLinkInfo(d, linkInfo)
	}
	return d
}

// decodeName requires a trailing NUL, no interior NUL and valid UTF-8.
func decodeName(b []byte) (string, bool) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", false
	}
	b = b[:len(b)-1]
	if bytes.IndexByte(b, 0) >= 0 || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

func decodeMtu(b []byte) *can.Mtu {
	if len(b) != 4 {
		degraded("mtu", can.ErrInvalidData)
		return nil
	}
	m, err := can.ParseMtu(nlenc.Uint32(b))
	if err != nil {
		degraded("mtu", err)
		return nil
	}
	return &m
}

func decodeLinkInfo(d *Details, b []byte) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		degraded("linkinfo", err)
		return
	}
	var infoData, xstats []byte
	for ad.Next() {
		switch ad.Type() {
		case unix.IFLA_INFO_KIND:
			d.Kind = ad.String()
		case unix.IFLA_INFO_DATA:
			infoData = ad.Bytes()
		case unix.IFLA_INFO_XSTATS:
			xstats = ad.Bytes()
		}
	}
	if err := ad.Err(); err != nil {
		degraded("linkinfo", err)
	}
	if d.Kind != canKind {
		return
	}
	ci := &CANInfo{}
	if infoData != nil {
		decodeCANData(ci, infoData)
	}
	if xstats != nil {
		ci.DeviceStats = unmarshal[can.DeviceStats]("xstats", xstats)
	}
	d.CAN = ci
}

func decodeCANData(ci *CANInfo, b []byte) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		degraded("can_data", err)
		return
	}
	for ad.Next() {
		attr := can.AttrFromCode(ad.Type())
		v := ad.Bytes()
		switch attr {
		case can.AttrBitTiming:
			ci.BitTiming = unmarshal[can.BitTiming](attr.String(), v)
		case can.AttrBitTimingConst:
			ci.BitTimingConst = unmarshal[can.BitTimingConst](attr.String(), v)
		case can.AttrDataBitTiming:
			ci.DataBitTiming = unmarshal[can.BitTiming](attr.String(), v)
		case can.AttrDataBitTimingConst:
			ci.DataBitTimingConst = unmarshal[can.BitTimingConst](attr.String(), v)
		case can.AttrClock:
			ci.Clock = unmarshal[can.Clock](attr.String(), v)
		case can.AttrCtrlMode:
			ci.CtrlMode = unmarshal[can.CtrlMode](attr.String(), v)
		case can.AttrBerrCounter:
			ci.BerrCounter = unmarshal[can.BerrCounter](attr.String(), v)
		case can.AttrState:
			if len(v) != 4 {
				degraded(attr.String(), can.ErrInvalidData)
				continue
			}
			s, err := can.ParseState(nlenc.Uint32(v))
			if err != nil {
				degraded(attr.String(), err)
				continue
			}
			ci.State = &s
		case can.AttrRestartMs:
			if len(v) != 4 {
				degraded(attr.String(), can.ErrInvalidData)
				continue
			}
			ms := nlenc.Uint32(v)
			ci.RestartMs = &ms
		case can.AttrTermination:
			if len(v) != 2 {
				degraded(attr.String(), can.ErrInvalidData)
				continue
			}
			ohms := nlenc.Uint16(v)
			ci.Termination = &ohms
		default:
			ci.Skipped = append(ci.Skipped, attr)
		}
	}
	if err := ad.Err(); err != nil {
		degraded("can_data", err)
	}
}

// unmarshal decodes a fixed-layout descriptor, returning nil when it is short.
func unmarshal[T any, P interface {
	*T
	encoding.BinaryUnmarshaler
}](what string, b []byte) *T {
	v := new(T)
	if err := P(v).UnmarshalBinary(b); err != nil {
		degraded(what, err)
		return nil
	}
	return v
}

func degraded(field string, err error) {
	metrics.IncDegraded()
	logging.Component("canlink").Debug("reply_field_degraded", "field", field, "error", err)
}
