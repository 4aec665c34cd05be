package host

import (
	"sync"

	"go.uber.org/zap"

	"peerwire/pkg/packet"
	"peerwire/pkg/transport"
)

// ConnectEvent announces a newly established connection.
type ConnectEvent struct {
	Peer     *Peer
	Endpoint transport.Endpoint
	Data     uint32
}

// DisconnectEvent announces a completed teardown.
type DisconnectEvent struct {
	Peer     *Peer
	Endpoint transport.Endpoint
	Data     uint32
}

// ReceiveEvent delivers one inbound packet. The packet belongs to the
// handlers for the duration of the dispatch call.
type ReceiveEvent struct {
	Peer    *Peer
	Packet  *packet.Packet
	Channel transport.ChannelID
}

type (
	ConnectHandler    func(ConnectEvent)
	DisconnectHandler func(DisconnectEvent)
	ReceiveHandler    func(ReceiveEvent)
)

// Dispatcher fans events out to registered handlers, synchronously and
// in registration order. Dispatch itself runs only inside the owning
// host's Service call, so it needs no internal serialization beyond
// guarding the registries against concurrent registration.
type Dispatcher struct {
	mu         sync.Mutex
	connect    []ConnectHandler
	disconnect []DisconnectHandler
	receive    []ReceiveHandler
	channel    map[transport.ChannelID][]ReceiveHandler
}

// OnConnect appends a connect handler.
func (d *Dispatcher) OnConnect(h ConnectHandler) {
	d.mu.Lock()
	d.connect = append(d.connect, h)
	d.mu.Unlock()
}

// OnDisconnect appends a disconnect handler.
func (d *Dispatcher) OnDisconnect(h DisconnectHandler) {
	d.mu.Lock()
	d.disconnect = append(d.disconnect, h)
	d.mu.Unlock()
}

// OnReceive appends an unconditional receive handler. Unconditional
// handlers run before any channel-scoped ones.
func (d *Dispatcher) OnReceive(h ReceiveHandler) {
	d.mu.Lock()
	d.receive = append(d.receive, h)
	d.mu.Unlock()
}

// OnReceiveChannel appends a receive handler scoped to one channel.
func (d *Dispatcher) OnReceiveChannel(channel transport.ChannelID, h ReceiveHandler) {
	d.mu.Lock()
	if d.channel == nil {
		d.channel = make(map[transport.ChannelID][]ReceiveHandler)
	}
	d.channel[channel] = append(d.channel[channel], h)
	d.mu.Unlock()
}

// Clear empties all four handler registries at once.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.connect = nil
	d.disconnect = nil
	d.receive = nil
	d.channel = nil
	d.mu.Unlock()
}

func (d *Dispatcher) dispatchConnect(ev ConnectEvent) {
	d.mu.Lock()
	handlers := append([]ConnectHandler(nil), d.connect...)
	d.mu.Unlock()
	for _, h := range handlers {
		invoke(func() { h(ev) })
	}
}

func (d *Dispatcher) dispatchDisconnect(ev DisconnectEvent) {
	d.mu.Lock()
	handlers := append([]DisconnectHandler(nil), d.disconnect...)
	d.mu.Unlock()
	for _, h := range handlers {
		invoke(func() { h(ev) })
	}
}

func (d *Dispatcher) dispatchReceive(ev ReceiveEvent) {
	d.mu.Lock()
	handlers := append([]ReceiveHandler(nil), d.receive...)
	scoped := append([]ReceiveHandler(nil), d.channel[ev.Channel]...)
	d.mu.Unlock()
	for _, h := range handlers {
		invoke(func() { h(ev) })
	}
	for _, h := range scoped {
		invoke(func() { h(ev) })
	}
}

// invoke shields the dispatch loop from a panicking handler so later
// handlers still run.
func invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("event handler panicked", zap.Any("panic", r))
		}
	}()
	f()
}
