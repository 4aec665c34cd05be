package transport

import (
	"bytes"
	"testing"
)

func TestStateGroupsExclusive(t *testing.T) {
	states := []PeerState{
		StateDisconnected, StateConnecting, StateAcknowledgingConnect,
		StateConnectionPending, StateConnectionSucceeded, StateConnected,
		StateDisconnectLater, StateDisconnecting, StateAcknowledgingDisconnect,
		StateZombie,
	}
	for _, s := range states {
		n := 0
		for _, in := range []bool{s.Connected(), s.Connecting(), s.Disconnecting(), s.Disconnected()} {
			if in {
				n++
			}
		}
		if n > 1 {
			t.Fatalf("state %v belongs to %d groups", s, n)
		}
		if s == StateZombie && n != 0 {
			t.Fatalf("zombie must belong to no group")
		}
		if s != StateZombie && n != 1 {
			t.Fatalf("state %v belongs to %d groups, want 1", s, n)
		}
		if s.Connected() && (s.Connecting() || s.Disconnecting() || s.Disconnected()) {
			t.Fatalf("connected state %v overlaps another group", s)
		}
	}
}

func TestBufferCopyAndNoCopy(t *testing.T) {
	src := []byte("payload")
	b := NewBuffer(src, FlagReliable)
	src[0] = 'X'
	if !bytes.Equal(b.Data(), []byte("payload")) {
		t.Fatalf("buffer shares caller slice without FlagNoAllocate: %q", b.Data())
	}

	src2 := []byte("adopted")
	nb := NewBuffer(src2, FlagReliable|FlagNoAllocate)
	src2[0] = 'X'
	if !bytes.Equal(nb.Data(), []byte("Xdopted")) {
		t.Fatalf("FlagNoAllocate buffer should adopt caller slice")
	}
}

func TestBufferRefsAndResize(t *testing.T) {
	b := NewBuffer([]byte{1, 2, 3, 4}, DefaultFlags)
	if b.Refs() != 1 {
		t.Fatalf("fresh buffer refs = %d, want 1", b.Refs())
	}
	b.Retain()
	if b.Refs() != 2 {
		t.Fatalf("refs after retain = %d", b.Refs())
	}
	b.Release()
	if b.Refs() != 1 {
		t.Fatalf("refs after release = %d", b.Refs())
	}

	if err := b.Resize(2); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if !bytes.Equal(b.Data(), []byte{1, 2}) {
		t.Fatalf("after shrink: %v", b.Data())
	}
	if err := b.Resize(5); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if !bytes.Equal(b.Data(), []byte{1, 2, 0, 0, 0}) {
		t.Fatalf("after grow: %v", b.Data())
	}
	if err := b.Resize(-1); err == nil {
		t.Fatalf("negative resize must fail")
	}
}

func TestEndpointParseAndString(t *testing.T) {
	ep, err := ParseEndpoint("127.0.0.1:7777")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ep.Host != "127.0.0.1" || ep.Port != 7777 {
		t.Fatalf("parsed %+v", ep)
	}
	if ep.String() != "127.0.0.1:7777" {
		t.Fatalf("string = %q", ep.String())
	}
	if _, err := ParseEndpoint("no-port"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseEndpoint("h:70000"); err == nil {
		t.Fatalf("expected port range error")
	}
}

func TestEndpointResolve(t *testing.T) {
	ep := Endpoint{Host: "127.0.0.1", Port: 9}
	addr, err := ep.Resolve()
	if err != nil {
		t.Fatalf("resolve loopback: %v", err)
	}
	if got := FromUDPAddr(addr); got != ep {
		t.Fatalf("round trip = %+v, want %+v", got, ep)
	}
	bad := Endpoint{Host: "definitely-not-a-real-hostname.invalid", Port: 1}
	if _, err := bad.Resolve(); err == nil {
		t.Fatalf("expected resolution error")
	}
}
