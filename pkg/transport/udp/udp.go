// Package udp is a datagram engine over a single UDP socket per host.
// Connects and disconnects ride a tiny framed handshake; data frames are
// delivered best-effort regardless of the reliable flag — retransmission
// and congestion control are out of scope for this engine.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"peerwire/pkg/transport"
)

const (
	defaultIdleTimeout = 10 * time.Second
	connectTimeout     = 5 * time.Second
	keepaliveInterval  = time.Second
	readBufferSize     = 64 * 1024
)

// Engine creates UDP-backed native hosts.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Name() string { return "udp" }

func (e *Engine) NewHost(bind *transport.Endpoint, lim transport.Limits) (transport.NativeHost, error) {
	if lim.MaxPeers <= 0 {
		lim.MaxPeers = 32
	}
	if lim.MaxChannels <= 0 {
		lim.MaxChannels = 1
	}
	var laddr *net.UDPAddr
	if bind != nil {
		resolved, err := bind.Resolve()
		if err != nil {
			return nil, err
		}
		laddr = resolved
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp: bind: %w", err)
	}
	return &udpHost{
		conn:   conn,
		limits: lim,
		peers:  make(map[string]*udpPeer),
	}, nil
}

type udpHost struct {
	conn   *net.UDPConn
	limits transport.Limits

	mu      sync.Mutex
	peers   map[string]*udpPeer
	pending []transport.Event

	closed  atomic.Bool
	scratch [readBufferSize]byte
}

func (h *udpHost) LocalEndpoint() transport.Endpoint {
	return transport.FromUDPAddr(h.conn.LocalAddr().(*net.UDPAddr))
}

func (h *udpHost) Connect(remote transport.Endpoint, channels int, data uint32) (transport.NativePeer, error) {
	if h.closed.Load() {
		return nil, errors.New("udp: host closed")
	}
	if channels <= 0 {
		channels = 1
	}
	if channels > h.limits.MaxChannels {
		channels = h.limits.MaxChannels
	}
	addr, err := remote.Resolve()
	if err != nil {
		return nil, err
	}
	p := newPeer(h, addr, channels)
	p.state.Store(int32(transport.StateConnecting))

	h.mu.Lock()
	h.peers[p.key] = p
	h.mu.Unlock()

	if err := h.writeFrame(addr, &frame{typ: frameConnect, channel: transport.ChannelID(channels), meta: data}); err != nil {
		h.dropPeer(p)
		return nil, fmt.Errorf("udp: connect %s: %w", remote, err)
	}
	return p, nil
}

func (h *udpHost) Service(timeout time.Duration) (transport.Event, error) {
	if ev, ok := h.popPending(); ok {
		return ev, nil
	}
	h.tick()
	if ev, ok := h.popPending(); ok {
		return ev, nil
	}

	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	if err := h.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return transport.Event{}, err
	}
	n, raddr, err := h.conn.ReadFromUDP(h.scratch[:])
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return transport.Event{}, nil
		}
		return transport.Event{}, fmt.Errorf("udp: read: %w", err)
	}
	f, err := parseFrame(h.scratch[:n])
	if err != nil {
		zap.L().Debug("udp: dropping malformed datagram", zap.String("from", raddr.String()), zap.Error(err))
		return transport.Event{}, nil
	}
	return h.handleFrame(raddr, &f), nil
}

func (h *udpHost) handleFrame(raddr *net.UDPAddr, f *frame) transport.Event {
	key := raddr.String()
	h.mu.Lock()
	p := h.peers[key]
	h.mu.Unlock()
	now := time.Now()
	if p != nil {
		p.lastRecv.Store(now.UnixNano())
	}

	switch f.typ {
	case frameConnect:
		if p != nil && !p.State().Disconnected() {
			// duplicate connect, re-ack without a second event
			_ = h.writeFrame(raddr, &frame{typ: frameConnectAck})
			return transport.Event{}
		}
		h.mu.Lock()
		if len(h.peers) >= h.limits.MaxPeers {
			h.mu.Unlock()
			zap.L().Debug("udp: refusing connect, peer limit reached", zap.String("from", key))
			return transport.Event{}
		}
		p = newPeer(h, raddr, int(f.channel))
		p.state.Store(int32(transport.StateConnected))
		h.peers[key] = p
		h.mu.Unlock()
		_ = h.writeFrame(raddr, &frame{typ: frameConnectAck})
		return transport.Event{Type: transport.EventConnect, Peer: p, Data: f.meta}

	case frameConnectAck:
		if p == nil || !p.State().Connecting() {
			return transport.Event{}
		}
		p.state.Store(int32(transport.StateConnected))
		return transport.Event{Type: transport.EventConnect, Peer: p, Data: f.meta}

	case frameData:
		if p == nil || !p.State().Connected() {
			return transport.Event{}
		}
		if int(f.channel) >= h.limits.MaxChannels {
			return transport.Event{}
		}
		// scratch is reused, so the payload must be copied out here;
		// strip the no-allocate flag to force it
		buf := transport.NewBuffer(f.payload, f.flags&^transport.FlagNoAllocate)
		return transport.Event{Type: transport.EventReceive, Peer: p, Channel: f.channel, Packet: buf}

	case frameDisconnect:
		if p == nil {
			return transport.Event{}
		}
		_ = h.writeFrame(raddr, &frame{typ: frameDisconnectAck, meta: f.meta})
		h.dropPeer(p)
		return transport.Event{Type: transport.EventDisconnect, Peer: p, Data: f.meta}

	case frameDisconnectAck:
		if p == nil || !p.State().Disconnecting() {
			return transport.Event{}
		}
		h.dropPeer(p)
		return transport.Event{Type: transport.EventDisconnect, Peer: p, Data: f.meta}

	case frameDisconnectNow:
		if p == nil {
			return transport.Event{}
		}
		h.dropPeer(p)
		return transport.Event{Type: transport.EventDisconnect, Peer: p, Data: f.meta}

	case framePing:
		if p != nil {
			_ = h.writeFrame(raddr, &frame{typ: framePong, meta: f.meta})
		}
		return transport.Event{}

	case framePong:
		if p != nil {
			sent := int64(f.meta)
			nowMs := now.UnixMilli() & 0xFFFFFFFF
			if rtt := nowMs - sent; rtt >= 0 {
				p.rttMs.Store(rtt)
			}
		}
		return transport.Event{}
	}
	return transport.Event{}
}

// tick runs the time-driven part of servicing: keepalive pings and
// inactivity disconnects.
func (h *udpHost) tick() {
	now := time.Now()
	h.mu.Lock()
	peers := make([]*udpPeer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		st := p.State()
		idle := now.Sub(time.Unix(0, p.lastRecv.Load()))
		switch {
		case st.Connected() || st.Disconnecting():
			if idle > p.idleTimeout() {
				zap.L().Debug("udp: peer timed out", zap.String("peer", p.key), zap.Duration("idle", idle))
				h.dropPeer(p)
				h.queue(transport.Event{Type: transport.EventDisconnect, Peer: p})
				continue
			}
			if st.Connected() && now.Sub(time.Unix(0, p.lastSent.Load())) > keepaliveInterval {
				p.Ping()
			}
		case st.Connecting():
			if idle > connectTimeout {
				h.dropPeer(p)
				h.queue(transport.Event{Type: transport.EventDisconnect, Peer: p})
			}
		}
	}
}

func (h *udpHost) Broadcast(channel transport.ChannelID, buf *transport.Buffer) {
	if buf == nil || int(channel) >= h.limits.MaxChannels {
		return
	}
	buf.MarkSent()
	f := frame{typ: frameData, channel: channel, flags: buf.Flags(), payload: buf.Data()}
	raw := f.marshal()
	h.mu.Lock()
	peers := make([]*udpPeer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		if p.State().Connected() {
			if _, err := h.conn.WriteToUDP(raw, p.addr); err == nil {
				p.lastSent.Store(time.Now().UnixNano())
			}
		}
	}
	buf.Release()
}

func (h *udpHost) Flush() {
	// sends are synchronous, nothing is ever queued
}

func (h *udpHost) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.mu.Lock()
	for _, p := range h.peers {
		if p.State().Connected() {
			_ = h.writeFrame(p.addr, &frame{typ: frameDisconnectNow})
		}
		p.state.Store(int32(transport.StateDisconnected))
	}
	h.peers = make(map[string]*udpPeer)
	h.mu.Unlock()
	return h.conn.Close()
}

func (h *udpHost) writeFrame(addr *net.UDPAddr, f *frame) error {
	_, err := h.conn.WriteToUDP(f.marshal(), addr)
	return err
}

func (h *udpHost) queue(ev transport.Event) {
	h.mu.Lock()
	h.pending = append(h.pending, ev)
	h.mu.Unlock()
}

func (h *udpHost) popPending() (transport.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return transport.Event{}, false
	}
	ev := h.pending[0]
	h.pending = h.pending[1:]
	return ev, true
}

func (h *udpHost) dropPeer(p *udpPeer) {
	p.state.Store(int32(transport.StateDisconnected))
	h.mu.Lock()
	if h.peers[p.key] == p {
		delete(h.peers, p.key)
	}
	h.mu.Unlock()
}

type udpPeer struct {
	host     *udpHost
	addr     *net.UDPAddr
	key      string
	channels int

	state    atomic.Int32
	lastRecv atomic.Int64 // unix nanos
	lastSent atomic.Int64
	rttMs    atomic.Int64

	tmu                 sync.Mutex
	limit, minim, maxim time.Duration
}

func newPeer(h *udpHost, addr *net.UDPAddr, channels int) *udpPeer {
	if channels <= 0 {
		channels = 1
	}
	p := &udpPeer{host: h, addr: addr, key: addr.String(), channels: channels}
	now := time.Now().UnixNano()
	p.lastRecv.Store(now)
	p.lastSent.Store(now)
	return p
}

func (p *udpPeer) State() transport.PeerState {
	return transport.PeerState(p.state.Load())
}

func (p *udpPeer) Endpoint() transport.Endpoint { return transport.FromUDPAddr(p.addr) }

func (p *udpPeer) RTT() time.Duration {
	return time.Duration(p.rttMs.Load()) * time.Millisecond
}

func (p *udpPeer) Send(channel transport.ChannelID, buf *transport.Buffer) error {
	if buf == nil {
		return errors.New("udp: nil buffer")
	}
	defer buf.Release()
	if int(channel) >= p.channels {
		return fmt.Errorf("udp: channel %d out of range", channel)
	}
	if !p.State().Connected() {
		return fmt.Errorf("udp: peer %s not connected", p.key)
	}
	buf.MarkSent()
	f := frame{typ: frameData, channel: channel, flags: buf.Flags(), payload: buf.Data()}
	if err := p.host.writeFrame(p.addr, &f); err != nil {
		return fmt.Errorf("udp: send: %w", err)
	}
	p.lastSent.Store(time.Now().UnixNano())
	return nil
}

func (p *udpPeer) Disconnect(data uint32) {
	if !p.State().Connected() {
		return
	}
	p.state.Store(int32(transport.StateDisconnecting))
	_ = p.host.writeFrame(p.addr, &frame{typ: frameDisconnect, meta: data})
}

// DisconnectNow closes immediately: the remote learns via an unacked
// notification, the local side gets no disconnect event.
func (p *udpPeer) DisconnectNow(data uint32) {
	if p.State().Disconnected() {
		return
	}
	_ = p.host.writeFrame(p.addr, &frame{typ: frameDisconnectNow, meta: data})
	p.host.dropPeer(p)
}

// DisconnectLater marks the peer for teardown after pending sends flush.
// Sends here are synchronous, so the handshake starts right away; the
// state still passes through disconnect-later until the ack lands.
func (p *udpPeer) DisconnectLater(data uint32) {
	if !p.State().Connected() {
		return
	}
	p.state.Store(int32(transport.StateDisconnectLater))
	_ = p.host.writeFrame(p.addr, &frame{typ: frameDisconnect, meta: data})
}

func (p *udpPeer) Ping() {
	if p.State().Disconnected() {
		return
	}
	meta := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
	if err := p.host.writeFrame(p.addr, &frame{typ: framePing, meta: meta}); err == nil {
		p.lastSent.Store(time.Now().UnixNano())
	}
}

// Reset forcibly forgets the connection without any notification.
func (p *udpPeer) Reset() {
	p.host.dropPeer(p)
}

func (p *udpPeer) SetTimeout(limit, minimum, maximum time.Duration) {
	p.tmu.Lock()
	p.limit, p.minim, p.maxim = limit, minimum, maximum
	p.tmu.Unlock()
}

func (p *udpPeer) idleTimeout() time.Duration {
	p.tmu.Lock()
	defer p.tmu.Unlock()
	d := p.limit
	if d <= 0 {
		return defaultIdleTimeout
	}
	if p.minim > 0 && d < p.minim {
		d = p.minim
	}
	if p.maxim > 0 && d > p.maxim {
		d = p.maxim
	}
	return d
}
