package host

import (
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/zap"

	"peerwire/pkg/packet"
	"peerwire/pkg/transport"
)

// Peer is one remote endpoint of a host. Peers are created by the host
// during Connect and while processing connect events; they hold only a
// weak reference back to the host, so a peer kept alive by application
// code never keeps a torn-down host alive with it.
type Peer struct {
	native transport.NativePeer
	host   weak.Pointer[Host]
	user   atomic.Value
}

func newPeer(np transport.NativePeer, h *Host) *Peer {
	return &Peer{native: np, host: weak.Make(h)}
}

// Host resolves the owning host. The second return is false once the
// host has been garbage collected.
func (p *Peer) Host() (*Host, bool) {
	if p == nil {
		return nil, false
	}
	h := p.host.Value()
	return h, h != nil
}

// Send queues a packet on the given channel. Ownership of the packet
// transfers to the peer unconditionally: the handle is consumed even
// when the send is refused, and the caller must not touch it afterward.
func (p *Peer) Send(channel transport.ChannelID, pkt *packet.Packet) bool {
	buf := pkt.Release()
	if buf == nil {
		return false
	}
	if p == nil || p.native == nil {
		buf.Release()
		return false
	}
	if err := p.native.Send(channel, buf); err != nil {
		zap.L().Debug("send refused",
			zap.Uint8("channel", uint8(channel)),
			zap.Error(err))
		return false
	}
	return true
}

// Disconnect requests a graceful teardown carrying data to the remote
// side. Both sides observe a disconnect event once it completes.
func (p *Peer) Disconnect(data uint32) {
	if p != nil && p.native != nil {
		p.native.Disconnect(data)
	}
}

// DisconnectNow tears the connection down immediately. The remote side
// is notified on a best-effort basis; no local disconnect event fires.
func (p *Peer) DisconnectNow(data uint32) {
	if p != nil && p.native != nil {
		p.native.DisconnectNow(data)
	}
}

// DisconnectLater tears the connection down once queued outgoing
// packets have been delivered.
func (p *Peer) DisconnectLater(data uint32) {
	if p != nil && p.native != nil {
		p.native.DisconnectLater(data)
	}
}

// Ping sends an application-level ping.
func (p *Peer) Ping() {
	if p != nil && p.native != nil {
		p.native.Ping()
	}
}

// Reset forcibly drops the connection without notifying the remote
// side. It learns of the loss through its own timeout.
func (p *Peer) Reset() {
	if p != nil && p.native != nil {
		p.native.Reset()
	}
}

// SetTimeout tunes the disconnect-detection limit and its minimum and
// maximum bounds.
func (p *Peer) SetTimeout(limit, minimum, maximum time.Duration) {
	if p != nil && p.native != nil {
		p.native.SetTimeout(limit, minimum, maximum)
	}
}

// State reports the connection state. A nil or detached peer reads as
// disconnected.
func (p *Peer) State() transport.PeerState {
	if p == nil || p.native == nil {
		return transport.StateDisconnected
	}
	return p.native.State()
}

func (p *Peer) IsConnected() bool     { return p.State().Connected() }
func (p *Peer) IsConnecting() bool    { return p.State().Connecting() }
func (p *Peer) IsDisconnecting() bool { return p.State().Disconnecting() }
func (p *Peer) IsDisconnected() bool  { return p.State().Disconnected() }

// Endpoint reports the remote address.
func (p *Peer) Endpoint() transport.Endpoint {
	if p == nil || p.native == nil {
		return transport.Endpoint{}
	}
	return p.native.Endpoint()
}

// RTT reports the last measured round-trip time, zero before the first
// measurement.
func (p *Peer) RTT() time.Duration {
	if p == nil || p.native == nil {
		return 0
	}
	return p.native.RTT()
}

// userData boxes the value so storing nil is legal.
type userData struct{ v any }

// SetUserData attaches an arbitrary application value to the peer.
func (p *Peer) SetUserData(v any) { p.user.Store(userData{v}) }

// UserData returns the value set by SetUserData, or nil.
func (p *Peer) UserData() any {
	if boxed, ok := p.user.Load().(userData); ok {
		return boxed.v
	}
	return nil
}

// Native exposes the underlying engine peer for code that needs to
// step below the host abstraction.
func (p *Peer) Native() transport.NativePeer { return p.native }
