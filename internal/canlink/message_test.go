//go:build linux

package canlink

import (
	"errors"
	"strings"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canlink/internal/can"
)

func TestIfInfoMsgLayout(t *testing.T) {
	m := ifInfoMsg{Family: unix.AF_UNSPEC, Type: unix.ARPHRD_NETROM, Index: 42, Flags: unix.IFF_UP, Change: unix.IFF_UP}
	b := m.marshal()
	if len(b) != unix.SizeofIfInfomsg {
		t.Fatalf("len=%d want %d", len(b), unix.SizeofIfInfomsg)
	}
	if b[0] != 0 || b[1] != 0 {
		t.Fatalf("family/pad not zero: % x", b[:2])
	}
	if got := nlenc.Int32(b[4:8]); got != 42 {
		t.Fatalf("index=%d", got)
	}
	if got := nlenc.Uint32(b[8:12]); got != unix.IFF_UP {
		t.Fatalf("flags=%#x", got)
	}
	if got := nlenc.Uint32(b[12:16]); got != unix.IFF_UP {
		t.Fatalf("change=%#x", got)
	}
	back, err := parseIfInfoMsg(b)
	if err != nil || back != m {
		t.Fatalf("parse: %+v %v", back, err)
	}
	if _, err := parseIfInfoMsg(b[:15]); !errors.Is(err, can.ErrInvalidData) {
		t.Fatalf("short ifinfomsg: %v", err)
	}
}

func TestValidateName(t *testing.T) {
	if maxNameLen != unix.IFNAMSIZ-1 {
		t.Fatalf("maxNameLen=%d, IFNAMSIZ=%d", maxNameLen, unix.IFNAMSIZ)
	}
	cases := []struct {
		name string
		want error
	}{
		{"can0", nil},
		{"vcan_test", nil},
		{strings.Repeat("a", 15), nil},
		{strings.Repeat("a", 16), ErrNameTooLong},
		{"", ErrInvalidName},
		{".", ErrInvalidName},
		{"..", ErrInvalidName},
		{"can/0", ErrInvalidName},
		{"can:0", ErrInvalidName},
		{"can 0", ErrInvalidName},
		{"can\x000", ErrInvalidName},
	}
	for _, c := range cases {
		err := ValidateName(c.name)
		if c.want == nil {
			if err != nil {
				t.Fatalf("%q: unexpected %v", c.name, err)
			}
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, c.want) {
			t.Fatalf("%q: got %v want %v", c.name, err, c.want)
		}
	}
}

func TestCreateRequest(t *testing.T) {
	m, err := createRequest("vcan_test", 0, "vcan")
	if err != nil {
		t.Fatalf("createRequest: %v", err)
	}
	if m.Header.Type != unix.RTM_NEWLINK {
		t.Fatalf("type=%d", m.Header.Type)
	}
	want := netlink.Request | netlink.Acknowledge | netlink.Create | netlink.Excl
	if m.Header.Flags != want {
		t.Fatalf("flags=%s want %s", m.Header.Flags, want)
	}
	info, attrs := splitRequest(t, m)
	if info.Index != 0 || info.Flags != 0 || info.Change != 0 {
		t.Fatalf("ifinfomsg=%+v", info)
	}
	name, ok := findAttr(attrs, unix.IFLA_IFNAME)
	if !ok || string(name.Data) != "vcan_test\x00" {
		t.Fatalf("IFLA_IFNAME=%q", name.Data)
	}
	li, ok := findAttr(attrs, unix.IFLA_LINKINFO)
	if !ok || li.Type&nlaNested == 0 {
		t.Fatalf("IFLA_LINKINFO missing or not nested")
	}
	inner, err := netlink.UnmarshalAttributes(li.Data)
	if err != nil || len(inner) != 1 {
		t.Fatalf("linkinfo: %v %v", inner, err)
	}
	if inner[0].Type != unix.IFLA_INFO_KIND || string(inner[0].Data) != "vcan\x00" {
		t.Fatalf("kind=%+v", inner[0])
	}
}

func TestCreateRequest_RequestedIndex(t *testing.T) {
	m, err := createRequest("vcan1", 77, "vcan")
	if err != nil {
		t.Fatalf("createRequest: %v", err)
	}
	info, _ := splitRequest(t, m)
	if info.Index != 77 {
		t.Fatalf("index=%d", info.Index)
	}
}

func TestCreateRequest_RejectsBadInput(t *testing.T) {
	if _, err := createRequest(strings.Repeat("x", 16), 0, "vcan"); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("long name: %v", err)
	}
	if _, err := createRequest("vcan0", 0, ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("empty kind: %v", err)
	}
}

func TestLinkStateRequest(t *testing.T) {
	for _, up := range []bool{true, false} {
		m, err := linkStateRequest(3, up)
		if err != nil {
			t.Fatalf("linkStateRequest: %v", err)
		}
		if m.Header.Flags != netlink.Request|netlink.Acknowledge {
			t.Fatalf("flags=%s", m.Header.Flags)
		}
		if len(m.Data) != unix.SizeofIfInfomsg {
			t.Fatalf("unexpected attributes: %d bytes", len(m.Data))
		}
		info, _ := parseIfInfoMsg(m.Data)
		wantFlags := uint32(0)
		if up {
			wantFlags = unix.IFF_UP
		}
		if info.Index != 3 || info.Flags != wantFlags || info.Change != unix.IFF_UP {
			t.Fatalf("up=%v ifinfomsg=%+v", up, info)
		}
	}
}

func TestMtuRequest(t *testing.T) {
	m, err := mtuRequest(5, can.MtuFD)
	if err != nil {
		t.Fatalf("mtuRequest: %v", err)
	}
	_, attrs := splitRequest(t, m)
	a, ok := findAttr(attrs, unix.IFLA_MTU)
	if !ok || len(a.Data) != 4 || nlenc.Uint32(a.Data) != 72 {
		t.Fatalf("IFLA_MTU=%v", a.Data)
	}
}

func TestDeleteRequest(t *testing.T) {
	m, err := deleteRequest(9)
	if err != nil {
		t.Fatalf("deleteRequest: %v", err)
	}
	if m.Header.Type != unix.RTM_DELLINK || m.Header.Flags != netlink.Request|netlink.Acknowledge {
		t.Fatalf("header=%+v", m.Header)
	}
	info, attrs := splitRequest(t, m)
	if info.Index != 9 || len(attrs) != 0 {
		t.Fatalf("ifinfomsg=%+v attrs=%v", info, attrs)
	}
}

func TestGetLinkRequest(t *testing.T) {
	m, err := getLinkRequest(4)
	if err != nil {
		t.Fatalf("getLinkRequest: %v", err)
	}
	if m.Header.Type != unix.RTM_GETLINK || m.Header.Flags != netlink.Request {
		t.Fatalf("header=%+v", m.Header)
	}
	_, attrs := splitRequest(t, m)
	a, ok := findAttr(attrs, unix.IFLA_EXT_MASK)
	if !ok || nlenc.Uint32(a.Data) != rtextFilterVF {
		t.Fatalf("IFLA_EXT_MASK=%v", a.Data)
	}
}

func TestCanParamRequest_Nesting(t *testing.T) {
	m, err := canParamRequest(2, can.AttrRestartMs, can.Uint32Bytes(100))
	if err != nil {
		t.Fatalf("canParamRequest: %v", err)
	}
	if m.Header.Flags != netlink.Request|netlink.Acknowledge {
		t.Fatalf("flags=%s", m.Header.Flags)
	}
	a := canAttr(t, m)
	if can.AttrFromCode(a.Type) != can.AttrRestartMs || nlenc.Uint32(a.Data) != 100 {
		t.Fatalf("attr=%+v", a)
	}
}
