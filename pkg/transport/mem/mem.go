// Package mem is an in-process engine: bound hosts register on a shared
// switchboard and clients connect to them by endpoint. There is no real
// network, the handshake is instantaneous and event ordering per host is
// strict FIFO, which makes it the engine of choice for tests and demos.
package mem

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"peerwire/pkg/transport"
)

const eventBacklog = 256

// Engine is the switchboard. Hosts created from the same Engine can
// reach each other; separate Engines are separate universes.
type Engine struct {
	mu       sync.Mutex
	hosts    map[transport.Endpoint]*memHost
	nextPort uint16
}

func New() *Engine {
	return &Engine{hosts: make(map[transport.Endpoint]*memHost), nextPort: 40000}
}

func (e *Engine) Name() string { return "mem" }

func (e *Engine) NewHost(bind *transport.Endpoint, lim transport.Limits) (transport.NativeHost, error) {
	if lim.MaxPeers <= 0 {
		lim.MaxPeers = 32
	}
	if lim.MaxChannels <= 0 {
		lim.MaxChannels = 1
	}
	h := &memHost{
		engine: e,
		limits: lim,
		events: make(chan transport.Event, eventBacklog),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if bind != nil {
		ep := *bind
		if ep.Host == "" {
			ep.Host = "mem"
		}
		if ep.Port == 0 {
			e.nextPort++
			ep.Port = e.nextPort
		}
		if _, taken := e.hosts[ep]; taken {
			return nil, fmt.Errorf("mem: bind %s: address in use", ep)
		}
		e.hosts[ep] = h
		h.local = ep
		h.bound = true
	} else {
		e.nextPort++
		h.local = transport.Endpoint{Host: "mem", Port: e.nextPort}
	}
	return h, nil
}

type memHost struct {
	engine *Engine
	limits transport.Limits
	local  transport.Endpoint
	bound  bool

	events chan transport.Event
	closed atomic.Bool

	mu    sync.Mutex
	peers []*memPeer
}

func (h *memHost) LocalEndpoint() transport.Endpoint { return h.local }

func (h *memHost) Connect(remote transport.Endpoint, channels int, data uint32) (transport.NativePeer, error) {
	if h.closed.Load() {
		return nil, errors.New("mem: host closed")
	}
	if channels <= 0 {
		channels = 1
	}
	h.engine.mu.Lock()
	target := h.engine.hosts[remote]
	h.engine.mu.Unlock()
	if target == nil || target.closed.Load() {
		return nil, fmt.Errorf("mem: connect %s: no listener", remote)
	}
	target.mu.Lock()
	if len(target.peers) >= target.limits.MaxPeers {
		target.mu.Unlock()
		return nil, fmt.Errorf("mem: connect %s: peer limit reached", remote)
	}
	target.mu.Unlock()

	local := &memPeer{host: h, remote: target.local, channels: channels}
	other := &memPeer{host: target, remote: h.local, channels: channels}
	local.other, other.other = other, local
	local.state.Store(int32(transport.StateConnected))
	other.state.Store(int32(transport.StateConnected))

	h.addPeer(local)
	target.addPeer(other)

	target.push(transport.Event{Type: transport.EventConnect, Peer: other, Data: data})
	h.push(transport.Event{Type: transport.EventConnect, Peer: local, Data: data})
	return local, nil
}

func (h *memHost) Service(timeout time.Duration) (transport.Event, error) {
	if h.closed.Load() {
		// drain whatever is still queued before reporting the close
		select {
		case ev := <-h.events:
			return ev, nil
		default:
			return transport.Event{}, errors.New("mem: host closed")
		}
	}
	select {
	case ev := <-h.events:
		return ev, nil
	default:
	}
	if timeout <= 0 {
		return transport.Event{}, nil
	}
	select {
	case ev := <-h.events:
		return ev, nil
	case <-time.After(timeout):
		return transport.Event{}, nil
	}
}

func (h *memHost) Broadcast(channel transport.ChannelID, buf *transport.Buffer) {
	if buf == nil || int(channel) >= h.limits.MaxChannels {
		return
	}
	h.mu.Lock()
	peers := append([]*memPeer(nil), h.peers...)
	h.mu.Unlock()
	buf.MarkSent()
	for _, p := range peers {
		if p.State().Connected() {
			p.other.host.push(transport.Event{
				Type:    transport.EventReceive,
				Peer:    p.other,
				Channel: channel,
				Packet:  buf,
			})
		}
	}
	buf.Release()
}

func (h *memHost) Flush() {}

func (h *memHost) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.bound {
		h.engine.mu.Lock()
		delete(h.engine.hosts, h.local)
		h.engine.mu.Unlock()
	}
	h.mu.Lock()
	peers := append([]*memPeer(nil), h.peers...)
	h.peers = nil
	h.mu.Unlock()
	for _, p := range peers {
		if p.State().Connected() {
			p.setBothDisconnected()
			p.other.host.push(transport.Event{Type: transport.EventDisconnect, Peer: p.other})
		}
	}
	return nil
}

func (h *memHost) addPeer(p *memPeer) {
	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()
}

func (h *memHost) push(ev transport.Event) {
	select {
	case h.events <- ev:
	default:
		// backlog full, drop like a saturated link would
		if ev.Packet != nil {
			ev.Packet.Release()
		}
	}
}

type memPeer struct {
	host     *memHost
	other    *memPeer
	remote   transport.Endpoint
	channels int
	state    atomic.Int32
}

func (p *memPeer) State() transport.PeerState {
	return transport.PeerState(p.state.Load())
}

func (p *memPeer) Endpoint() transport.Endpoint { return p.remote }

func (p *memPeer) RTT() time.Duration { return 0 }

func (p *memPeer) Send(channel transport.ChannelID, buf *transport.Buffer) error {
	if buf == nil {
		return errors.New("mem: nil buffer")
	}
	if int(channel) >= p.channels {
		buf.Release()
		return fmt.Errorf("mem: channel %d out of range", channel)
	}
	if !p.State().Connected() {
		buf.Release()
		return fmt.Errorf("mem: peer %s not connected", p.remote)
	}
	buf.MarkSent()
	p.other.host.push(transport.Event{
		Type:    transport.EventReceive,
		Peer:    p.other,
		Channel: channel,
		Packet:  buf,
	})
	return nil
}

func (p *memPeer) Disconnect(data uint32) {
	if !p.State().Connected() {
		return
	}
	p.setBothDisconnected()
	p.other.host.push(transport.Event{Type: transport.EventDisconnect, Peer: p.other, Data: data})
	p.host.push(transport.Event{Type: transport.EventDisconnect, Peer: p, Data: data})
}

// DisconnectNow tears down without notifying the local side; only the
// remote host observes a disconnect event.
func (p *memPeer) DisconnectNow(data uint32) {
	if !p.State().Connected() {
		return
	}
	p.setBothDisconnected()
	p.other.host.push(transport.Event{Type: transport.EventDisconnect, Peer: p.other, Data: data})
}

// DisconnectLater behaves like Disconnect here: the engine sends
// synchronously, so there is never anything left to flush.
func (p *memPeer) DisconnectLater(data uint32) { p.Disconnect(data) }

func (p *memPeer) Ping() {}

func (p *memPeer) Reset() {
	p.setBothDisconnected()
}

func (p *memPeer) SetTimeout(limit, minimum, maximum time.Duration) {}

func (p *memPeer) setBothDisconnected() {
	p.state.Store(int32(transport.StateDisconnected))
	p.other.state.Store(int32(transport.StateDisconnected))
}
