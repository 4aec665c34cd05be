package host

import (
	"runtime"
	"testing"
	"time"

	"peerwire/pkg/packet"
	"peerwire/pkg/transport"
	"peerwire/pkg/transport/mem"
)

func pump(t *testing.T, hosts []*Host, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, h := range hosts {
			if _, err := h.Service(time.Millisecond); err != nil {
				t.Fatalf("service: %v", err)
			}
		}
		if done() {
			return
		}
	}
	t.Fatalf("condition not reached in time")
}

func newPair(t *testing.T) (*Host, *Host, *mem.Engine) {
	t.Helper()
	eng := mem.New()
	srv, err := NewServer(eng, transport.Endpoint{Host: "mem", Port: 0}, Config{MaxPeers: 8, MaxChannels: 2})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	cli, err := NewClient(eng, Config{MaxChannels: 2})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() {
		cli.Close()
		srv.Close()
	})
	return srv, cli, eng
}

func TestConnectEchoDisconnect(t *testing.T) {
	srv, cli, _ := newPair(t)
	if !srv.IsServer() || !cli.IsClient() {
		t.Fatalf("role predicates wrong")
	}

	var serverGot, clientGot string
	var disconnectData uint32
	srv.Dispatcher().OnConnect(func(ev ConnectEvent) {
		ev.Peer.SetUserData("alice")
	})
	srv.Dispatcher().OnReceive(func(ev ReceiveEvent) {
		serverGot = ev.Packet.AsString()
		ev.Peer.Send(ev.Channel, packet.FromString("ACK "+serverGot, transport.DefaultFlags))
	})
	srv.Dispatcher().OnDisconnect(func(ev DisconnectEvent) {
		disconnectData = ev.Data
	})
	cli.Dispatcher().OnReceive(func(ev ReceiveEvent) {
		clientGot = ev.Packet.AsString()
	})

	p, err := cli.Connect(srv.LocalEndpoint(), 2, 42)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	hosts := []*Host{srv, cli}
	pump(t, hosts, func() bool { return p.IsConnected() && srv.PeerCount() == 1 })

	sp := srv.Peers()[0]
	if sp.UserData() != "alice" {
		t.Fatalf("user data = %v", sp.UserData())
	}
	if _, ok := sp.Host(); !ok {
		t.Fatalf("peer lost its host backreference")
	}

	pkt := packet.FromString("HELLO", transport.DefaultFlags)
	if !p.Send(1, pkt) {
		t.Fatalf("send refused")
	}
	if pkt.Valid() {
		t.Fatalf("handle still valid after send")
	}
	pump(t, hosts, func() bool { return clientGot != "" })
	if serverGot != "HELLO" || clientGot != "ACK HELLO" {
		t.Fatalf("round trip got %q / %q", serverGot, clientGot)
	}

	p.Disconnect(7)
	pump(t, hosts, func() bool { return p.IsDisconnected() && disconnectData == 7 })

	// a consumed handle refuses further sends without panicking
	if p.Send(0, pkt) {
		t.Fatalf("dead handle accepted")
	}
}

func TestFindPeerAndBroadcast(t *testing.T) {
	srv, _, eng := newPair(t)
	cli1, err := NewClient(eng, Config{MaxChannels: 2})
	if err != nil {
		t.Fatalf("client 1: %v", err)
	}
	cli2, err := NewClient(eng, Config{MaxChannels: 2})
	if err != nil {
		t.Fatalf("client 2: %v", err)
	}
	defer cli1.Close()
	defer cli2.Close()

	var got1, got2 string
	cli1.Dispatcher().OnReceiveChannel(0, func(ev ReceiveEvent) { got1 = ev.Packet.AsString() })
	cli2.Dispatcher().OnReceiveChannel(0, func(ev ReceiveEvent) { got2 = ev.Packet.AsString() })

	p1, err := cli1.Connect(srv.LocalEndpoint(), 1, 0)
	if err != nil {
		t.Fatalf("connect 1: %v", err)
	}
	p2, err := cli2.Connect(srv.LocalEndpoint(), 1, 0)
	if err != nil {
		t.Fatalf("connect 2: %v", err)
	}
	hosts := []*Host{srv, cli1, cli2}
	pump(t, hosts, func() bool { return p1.IsConnected() && p2.IsConnected() && srv.PeerCount() == 2 })

	if _, ok := srv.FindPeer(srv.Peers()[0].Endpoint()); !ok {
		t.Fatalf("FindPeer missed a registered endpoint")
	}
	if _, ok := srv.FindPeer(transport.Endpoint{Host: "nowhere", Port: 9}); ok {
		t.Fatalf("FindPeer matched a bogus endpoint")
	}

	srv.Broadcast(0, packet.FromString("ping all", transport.DefaultFlags))
	pump(t, hosts, func() bool { return got1 != "" && got2 != "" })
	if got1 != "ping all" || got2 != "ping all" {
		t.Fatalf("broadcast got %q / %q", got1, got2)
	}
}

func TestRegistryPrunesCollectedPeers(t *testing.T) {
	srv, cli, _ := newPair(t)
	p, err := cli.Connect(srv.LocalEndpoint(), 1, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	pump(t, []*Host{srv, cli}, func() bool { return p.IsConnected() && srv.PeerCount() == 1 })

	// nothing retains the server-side peer once the event is done
	runtime.GC()
	runtime.GC()
	deadline := time.Now().Add(2 * time.Second)
	for srv.PeerCount() != 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if n := srv.PeerCount(); n != 0 {
		t.Fatalf("registry still holds %d peers", n)
	}
	// the client-side peer is referenced by the test and must survive
	if cli.PeerCount() != 1 {
		t.Fatalf("live client peer was pruned")
	}
	runtime.KeepAlive(p)
}

func TestServiceLoop(t *testing.T) {
	srv, cli, _ := newPair(t)
	srv.StartServiceLoop()
	cli.StartServiceLoop()
	if !srv.ServiceRunning() {
		t.Fatalf("loop not running after start")
	}
	srv.StartServiceLoop() // idempotent

	connected := make(chan struct{})
	cli.Dispatcher().OnConnect(func(ConnectEvent) { close(connected) })
	if _, err := cli.Connect(srv.LocalEndpoint(), 1, 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatalf("connect event never dispatched by loop")
	}

	cli.StopServiceLoop()
	srv.StopServiceLoop()
	if srv.ServiceRunning() {
		t.Fatalf("loop still running after stop")
	}
	srv.StopServiceLoop() // idempotent
}

func TestDispatcherOrderingAndPanicIsolation(t *testing.T) {
	var d Dispatcher
	var order []string
	d.OnReceiveChannel(3, func(ReceiveEvent) { order = append(order, "scoped") })
	d.OnReceive(func(ReceiveEvent) { order = append(order, "first") })
	d.OnReceive(func(ReceiveEvent) { panic("handler bug") })
	d.OnReceive(func(ReceiveEvent) { order = append(order, "after-panic") })

	d.dispatchReceive(ReceiveEvent{Channel: 3})
	want := []string{"first", "after-panic", "scoped"}
	if len(order) != len(want) {
		t.Fatalf("ran %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v, want %v", order, want)
		}
	}

	d.dispatchReceive(ReceiveEvent{Channel: 9})
	if len(order) != len(want)+2 {
		t.Fatalf("channel scoping leaked: %v", order)
	}

	d.Clear()
	d.dispatchReceive(ReceiveEvent{Channel: 3})
	if len(order) != len(want)+2 {
		t.Fatalf("handlers survived Clear: %v", order)
	}
}
