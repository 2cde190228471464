//go:build linux

package canlink

import (
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nltest"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canlink/internal/transport"
)

const nlaNested = 0x8000 // NLA_F_NESTED

// fakeKernel records every request and answers with reply (an ACK when nil).
type fakeKernel struct {
	reqs  []netlink.Message
	reply nltest.Func
}

func installKernel(t *testing.T, reply nltest.Func) *fakeKernel {
	t.Helper()
	k := &fakeKernel{reply: reply}
	restore := transport.SetDialer(func(*netlink.Config) (transport.Conn, error) {
		return nltest.Dial(func(reqs []netlink.Message) ([]netlink.Message, error) {
			k.reqs = append(k.reqs, reqs...)
			if k.reply != nil {
				return k.reply(reqs)
			}
			return ackReply(reqs)
		}), nil
	})
	t.Cleanup(restore)
	return k
}

// noDial fails the test if any socket is opened.
func noDial(t *testing.T) {
	t.Helper()
	restore := transport.SetDialer(func(*netlink.Config) (transport.Conn, error) {
		t.Fatalf("unexpected netlink dial")
		return nil, nil
	})
	t.Cleanup(restore)
}

func ackReply(reqs []netlink.Message) ([]netlink.Message, error) {
	return []netlink.Message{{
		Header: netlink.Header{Type: netlink.Error, Sequence: reqs[0].Header.Sequence},
		Data:   make([]byte, 4+unix.SizeofNlMsghdr),
	}}, nil
}

func errnoReply(errno unix.Errno) nltest.Func {
	return func(reqs []netlink.Message) ([]netlink.Message, error) {
		return nltest.Error(int(errno), reqs)
	}
}

func linkReply(data []byte) nltest.Func {
	return func(reqs []netlink.Message) ([]netlink.Message, error) {
		return []netlink.Message{{Header: netlink.Header{Type: unix.RTM_NEWLINK, Sequence: reqs[0].Header.Sequence}, Data: data}}, nil
	}
}

func (k *fakeKernel) only(t *testing.T) netlink.Message {
	t.Helper()
	if len(k.reqs) != 1 {
		t.Fatalf("kernel saw %d requests, want 1", len(k.reqs))
	}
	return k.reqs[0]
}

// splitRequest returns the ifinfomsg and the top-level attributes of m.
func splitRequest(t *testing.T, m netlink.Message) (ifInfoMsg, []netlink.Attribute) {
	t.Helper()
	info, err := parseIfInfoMsg(m.Data)
	if err != nil {
		t.Fatalf("ifinfomsg: %v", err)
	}
	attrs, err := netlink.UnmarshalAttributes(m.Data[unix.SizeofIfInfomsg:])
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	return info, attrs
}

func findAttr(attrs []netlink.Attribute, typ uint16) (netlink.Attribute, bool) {
	for _, a := range attrs {
		if a.Type&^nlaNested == typ {
			return a, true
		}
	}
	return netlink.Attribute{}, false
}

// canAttr unwraps IFLA_LINKINFO{KIND="can", DATA{attr}} and returns the one
// CAN attribute inside.
func canAttr(t *testing.T, m netlink.Message) netlink.Attribute {
	t.Helper()
	_, top := splitRequest(t, m)
	li, ok := findAttr(top, unix.IFLA_LINKINFO)
	if !ok {
		t.Fatalf("no IFLA_LINKINFO in %v", top)
	}
	if li.Type&nlaNested == 0 {
		t.Fatalf("IFLA_LINKINFO missing NLA_F_NESTED")
	}
	inner, err := netlink.UnmarshalAttributes(li.Data)
	if err != nil {
		t.Fatalf("linkinfo: %v", err)
	}
	kind, ok := findAttr(inner, unix.IFLA_INFO_KIND)
	if !ok || string(kind.Data) != "can\x00" {
		t.Fatalf("kind attr = %q, want \"can\\x00\"", kind.Data)
	}
	data, ok := findAttr(inner, unix.IFLA_INFO_DATA)
	if !ok || data.Type&nlaNested == 0 {
		t.Fatalf("IFLA_INFO_DATA missing or not nested")
	}
	params, err := netlink.UnmarshalAttributes(data.Data)
	if err != nil {
		t.Fatalf("info data: %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("got %d CAN attributes, want 1", len(params))
	}
	return params[0]
}
