// Package host layers a connection model on top of a transport engine.
// A Host owns the engine-level socket, polls it for events, maintains a
// registry of live peers and fans events out through its Dispatcher.
package host

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/zap"

	"peerwire/pkg/packet"
	"peerwire/pkg/transport"
)

// Config carries the tunables shared by server and client hosts.
// Zero values fall back to sensible defaults.
type Config struct {
	MaxPeers          int
	MaxChannels       int
	IncomingBandwidth uint32
	OutgoingBandwidth uint32

	// PollInterval is the per-iteration service timeout used by the
	// background service loop.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPeers <= 0 {
		c.MaxPeers = 32
	}
	if c.MaxChannels <= 0 {
		c.MaxChannels = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	return c
}

func (c Config) limits() transport.Limits {
	return transport.Limits{
		MaxPeers:          c.MaxPeers,
		MaxChannels:       c.MaxChannels,
		IncomingBandwidth: c.IncomingBandwidth,
		OutgoingBandwidth: c.OutgoingBandwidth,
	}
}

// Host wraps a native engine host. Service and the peer registry are
// safe to use from multiple goroutines, but only one goroutine may
// drive Service at a time; the background loop started by
// StartServiceLoop is the usual owner.
type Host struct {
	native     transport.NativeHost
	cfg        Config
	server     bool
	dispatcher Dispatcher

	mu    sync.Mutex
	peers []weak.Pointer[Peer]

	loopMu  sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	closed atomic.Bool
}

// NewServer creates a host bound to the given endpoint, accepting
// inbound connections.
func NewServer(eng transport.Engine, bind transport.Endpoint, cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()
	nh, err := eng.NewHost(&bind, cfg.limits())
	if err != nil {
		return nil, fmt.Errorf("create server host: %w", err)
	}
	return &Host{native: nh, cfg: cfg, server: true}, nil
}

// NewClient creates an unbound host used for outbound connections only.
func NewClient(eng transport.Engine, cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()
	nh, err := eng.NewHost(nil, cfg.limits())
	if err != nil {
		return nil, fmt.Errorf("create client host: %w", err)
	}
	return &Host{native: nh, cfg: cfg}, nil
}

// Connect initiates a connection to the remote endpoint with the given
// channel count and user data word. The returned peer starts in the
// connecting state; completion is reported through a connect event.
func (h *Host) Connect(remote transport.Endpoint, channels int, data uint32) (*Peer, error) {
	if channels <= 0 {
		channels = h.cfg.MaxChannels
	}
	np, err := h.native.Connect(remote, channels, data)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", remote, err)
	}
	p := newPeer(np, h)
	h.register(p)
	return p, nil
}

// Service polls the engine once, waiting up to timeout for an event,
// and dispatches it. It returns the number of events processed, zero
// or one per call.
func (h *Host) Service(timeout time.Duration) (int, error) {
	ev, err := h.native.Service(timeout)
	if err != nil {
		return 0, fmt.Errorf("service: %w", err)
	}
	if ev.Type == transport.EventNone {
		return 0, nil
	}
	h.processEvent(ev)
	return 1, nil
}

func (h *Host) processEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnect:
		p := h.findByNative(ev.Peer)
		if p == nil {
			p = newPeer(ev.Peer, h)
			h.register(p)
		}
		h.dispatcher.dispatchConnect(ConnectEvent{
			Peer:     p,
			Endpoint: ev.Peer.Endpoint(),
			Data:     ev.Data,
		})
	case transport.EventDisconnect:
		p := h.findByNative(ev.Peer)
		if p == nil {
			zap.L().Debug("disconnect for unknown peer",
				zap.Stringer("endpoint", ev.Peer.Endpoint()))
			return
		}
		h.dispatcher.dispatchDisconnect(DisconnectEvent{
			Peer:     p,
			Endpoint: ev.Peer.Endpoint(),
			Data:     ev.Data,
		})
	case transport.EventReceive:
		p := h.findByNative(ev.Peer)
		if p == nil {
			ev.Packet.Release()
			return
		}
		h.dispatcher.dispatchReceive(ReceiveEvent{
			Peer:    p,
			Packet:  packet.FromNative(ev.Packet),
			Channel: ev.Channel,
		})
	}
}

// StartServiceLoop runs Service on a background goroutine until
// StopServiceLoop or Close is called. Starting an already running loop
// is a no-op.
func (h *Host) StartServiceLoop() {
	h.loopMu.Lock()
	defer h.loopMu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stop = make(chan struct{})
	h.wg.Add(1)
	go h.serviceLoop(h.stop)
}

func (h *Host) serviceLoop(stop chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if _, err := h.Service(h.cfg.PollInterval); err != nil {
			if h.closed.Load() {
				return
			}
			zap.L().Warn("service loop error", zap.Error(err))
			time.Sleep(h.cfg.PollInterval)
		}
	}
}

// StopServiceLoop stops the background loop and waits for it to exit.
func (h *Host) StopServiceLoop() {
	h.loopMu.Lock()
	if !h.running {
		h.loopMu.Unlock()
		return
	}
	h.running = false
	close(h.stop)
	h.loopMu.Unlock()
	h.wg.Wait()
}

// ServiceRunning reports whether the background loop is active.
func (h *Host) ServiceRunning() bool {
	h.loopMu.Lock()
	defer h.loopMu.Unlock()
	return h.running
}

// Broadcast sends a packet to every connected peer. The packet handle
// is consumed.
func (h *Host) Broadcast(channel transport.ChannelID, pkt *packet.Packet) {
	buf := pkt.Release()
	if buf == nil {
		return
	}
	h.native.Broadcast(channel, buf)
}

// Flush pushes any queued outgoing packets onto the wire without
// waiting for the next Service call.
func (h *Host) Flush() { h.native.Flush() }

// Peers returns the live peers, pruning registry entries whose peers
// have been garbage collected.
func (h *Host) Peers() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	alive := h.peers[:0]
	var out []*Peer
	for _, wp := range h.peers {
		if p := wp.Value(); p != nil {
			alive = append(alive, wp)
			out = append(out, p)
		}
	}
	h.peers = alive
	return out
}

// PeerCount reports the number of live peers.
func (h *Host) PeerCount() int { return len(h.Peers()) }

// FindPeer locates a live peer by remote endpoint.
func (h *Host) FindPeer(ep transport.Endpoint) (*Peer, bool) {
	for _, p := range h.Peers() {
		if p.Endpoint() == ep {
			return p, true
		}
	}
	return nil, false
}

// Dispatcher exposes the host's event dispatcher for handler
// registration.
func (h *Host) Dispatcher() *Dispatcher { return &h.dispatcher }

// LocalEndpoint reports the bound address; meaningful for servers.
func (h *Host) LocalEndpoint() transport.Endpoint { return h.native.LocalEndpoint() }

// IsServer reports whether the host accepts inbound connections.
func (h *Host) IsServer() bool { return h.server }

// IsClient reports whether the host is outbound-only.
func (h *Host) IsClient() bool { return !h.server }

// Native exposes the underlying engine host.
func (h *Host) Native() transport.NativeHost { return h.native }

// Close stops the service loop and releases the engine host. Safe to
// call more than once.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.StopServiceLoop()
	return h.native.Close()
}

func (h *Host) register(p *Peer) {
	h.mu.Lock()
	h.peers = append(h.peers, weak.Make(p))
	h.mu.Unlock()
}

func (h *Host) findByNative(np transport.NativePeer) *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, wp := range h.peers {
		if p := wp.Value(); p != nil && p.native == np {
			return p
		}
	}
	return nil
}
