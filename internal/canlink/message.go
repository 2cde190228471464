//go:build linux

package canlink

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canlink/internal/can"
)

// canKind routes IFLA_INFO_DATA to the CAN link-family handler.
const canKind = "can"

// rtextFilterVF is RTEXT_FILTER_VF from linux/rtnetlink.h.
const rtextFilterVF = 1 << 0

// ifInfoMsg is struct ifinfomsg:
//
//	family u8   [0]
//	pad    u8   [1]
//	type   u16  [2:4]
//	index  i32  [4:8]
//	flags  u32  [8:12]
//	change u32  [12:16]
type ifInfoMsg struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

// newInfo addresses an interface. ARPHRD_NETROM is only a placeholder: the
// kernel does not check the hardware type on CAN link requests.
func newInfo(index uint32) ifInfoMsg {
	return ifInfoMsg{Family: unix.AF_UNSPEC, Type: unix.ARPHRD_NETROM, Index: int32(index)}
}

func (m ifInfoMsg) marshal() []byte {
	b := make([]byte, unix.SizeofIfInfomsg)
	native := nlenc.NativeEndian()
	b[0] = m.Family
	native.PutUint16(b[2:4], m.Type)
	native.PutUint32(b[4:8], uint32(m.Index))
	native.PutUint32(b[8:12], m.Flags)
	native.PutUint32(b[12:16], m.Change)
	return b
}

func parseIfInfoMsg(b []byte) (ifInfoMsg, error) {
	if len(b) < unix.SizeofIfInfomsg {
		return ifInfoMsg{}, fmt.Errorf("%w: ifinfomsg %d bytes", can.ErrInvalidData, len(b))
	}
	native := nlenc.NativeEndian()
	return ifInfoMsg{
		Family: b[0],
		Type:   native.Uint16(b[2:4]),
		Index:  int32(native.Uint32(b[4:8])),
		Flags:  native.Uint32(b[8:12]),
		Change: native.Uint32(b[12:16]),
	}, nil
}

const (
	ackFlags    = netlink.Request | netlink.Acknowledge
	createFlags = ackFlags | netlink.Create | netlink.Excl
)

// newRequest frames info plus the attributes written by attrs.
func newRequest(typ uint16, flags netlink.HeaderFlags, info ifInfoMsg, attrs func(*netlink.AttributeEncoder) error) (netlink.Message, error) {
	data := info.marshal()
	if attrs != nil {
		ae := netlink.NewAttributeEncoder()
		if err := attrs(ae); err != nil {
			return netlink.Message{}, err
		}
		b, err := ae.Encode()
		if err != nil {
			return netlink.Message{}, fmt.Errorf("encode attributes: %w", err)
		}
		data = append(data, b...)
	}
	return netlink.Message{
		Header: netlink.Header{Type: netlink.HeaderType(typ), Flags: flags},
		Data:   data,
	}, nil
}

// createRequest: IFLA_IFNAME + IFLA_LINKINFO{IFLA_INFO_KIND}. Fails if the
// interface already exists (NLM_F_EXCL).
func createRequest(name string, index uint32, kind string) (netlink.Message, error) {
	if err := ValidateName(name); err != nil {
		return netlink.Message{}, err
	}
	if kind == "" {
		return netlink.Message{}, &ValidationError{Field: "kind", Reason: "empty driver kind", Err: ErrInvalidName}
	}
	return newRequest(unix.RTM_NEWLINK, createFlags, newInfo(index), func(ae *netlink.AttributeEncoder) error {
		ae.String(unix.IFLA_IFNAME, name)
		ae.Nested(unix.IFLA_LINKINFO, func(nae *netlink.AttributeEncoder) error {
			nae.String(unix.IFLA_INFO_KIND, kind)
			return nil
		})
		return nil
	})
}

// canParamRequest nests one CAN attribute:
// IFLA_LINKINFO{IFLA_INFO_KIND="can", IFLA_INFO_DATA{attr: payload}}.
func canParamRequest(index uint32, attr can.AttrType, payload []byte) (netlink.Message, error) {
	return newRequest(unix.RTM_NEWLINK, ackFlags, newInfo(index), func(ae *netlink.AttributeEncoder) error {
		ae.Nested(unix.IFLA_LINKINFO, func(li *netlink.AttributeEncoder) error {
			li.String(unix.IFLA_INFO_KIND, canKind)
			li.Nested(unix.IFLA_INFO_DATA, func(data *netlink.AttributeEncoder) error {
				data.Bytes(attr.Code(), payload)
				return nil
			})
			return nil
		})
		return nil
	})
}

// linkStateRequest sets or clears IFF_UP; every other flag bit is cleared and
// left out of the change mask.
func linkStateRequest(index uint32, up bool) (netlink.Message, error) {
	info := newInfo(index)
	info.Change = unix.IFF_UP
	if up {
		info.Flags = unix.IFF_UP
	}
	return newRequest(unix.RTM_NEWLINK, ackFlags, info, nil)
}

func mtuRequest(index uint32, mtu can.Mtu) (netlink.Message, error) {
	return newRequest(unix.RTM_NEWLINK, ackFlags, newInfo(index), func(ae *netlink.AttributeEncoder) error {
		ae.Uint32(unix.IFLA_MTU, uint32(mtu))
		return nil
	})
}

func deleteRequest(index uint32) (netlink.Message, error) {
	return newRequest(unix.RTM_DELLINK, ackFlags, newInfo(index), nil)
}

// getLinkRequest asks for the link with VF extended info. No ACK flag: the
// reply is the RTM_NEWLINK payload itself.
func getLinkRequest(index uint32) (netlink.Message, error) {
	return newRequest(unix.RTM_GETLINK, netlink.Request, newInfo(index), func(ae *netlink.AttributeEncoder) error {
		ae.Uint32(unix.IFLA_EXT_MASK, rtextFilterVF)
		return nil
	})
}
