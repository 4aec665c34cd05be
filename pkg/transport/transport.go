// Package transport defines the contract between the host layer and a
// concrete delivery engine. An engine owns the sockets and the low-level
// handshake; the host layer only sees native handles and the one-event-
// per-poll Service call.
package transport

import "time"

// ChannelID numbers a logical stream multiplexed over one connection.
type ChannelID uint8

// Flags is the packet transmission flags bitmask.
type Flags uint32

const (
	FlagReliable Flags = 1 << iota
	FlagUnsequenced
	FlagNoAllocate
	FlagUnreliableFragment
	FlagSent
)

// DefaultFlags is applied when a caller does not pick flags explicitly.
const DefaultFlags = FlagReliable

// PeerState is the connection state an engine reports for a native peer.
type PeerState int

const (
	StateDisconnected PeerState = iota
	StateConnecting
	StateAcknowledgingConnect
	StateConnectionPending
	StateConnectionSucceeded
	StateConnected
	StateDisconnectLater
	StateDisconnecting
	StateAcknowledgingDisconnect
	StateZombie
)

func (s PeerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAcknowledgingConnect:
		return "acknowledging-connect"
	case StateConnectionPending:
		return "connection-pending"
	case StateConnectionSucceeded:
		return "connection-succeeded"
	case StateConnected:
		return "connected"
	case StateDisconnectLater:
		return "disconnect-later"
	case StateDisconnecting:
		return "disconnecting"
	case StateAcknowledgingDisconnect:
		return "acknowledging-disconnect"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Connected reports whether the peer is fully established.
func (s PeerState) Connected() bool { return s == StateConnected }

// Connecting reports whether the peer is in any pre-established phase of
// the connect handshake.
func (s PeerState) Connecting() bool {
	switch s {
	case StateConnecting, StateAcknowledgingConnect, StateConnectionPending, StateConnectionSucceeded:
		return true
	}
	return false
}

// Disconnecting reports whether a teardown is in progress.
func (s PeerState) Disconnecting() bool {
	switch s {
	case StateDisconnectLater, StateDisconnecting, StateAcknowledgingDisconnect:
		return true
	}
	return false
}

// Disconnected reports whether the peer has fully torn down.
func (s PeerState) Disconnected() bool { return s == StateDisconnected }

// EventType classifies one service-poll result.
type EventType int

const (
	EventNone EventType = iota
	EventConnect
	EventDisconnect
	EventReceive
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	default:
		return "unknown"
	}
}

// Event is the result of one Service poll. At most one event is reported
// per poll. For EventReceive the Packet ownership passes to the consumer.
type Event struct {
	Type    EventType
	Peer    NativePeer
	Channel ChannelID
	Data    uint32 // connect/disconnect payload
	Packet  *Buffer
}

// Limits bounds a native host at creation time.
type Limits struct {
	MaxPeers          int
	MaxChannels       int
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
}

// Engine creates native hosts for one link kind.
type Engine interface {
	Name() string
	// NewHost allocates a native host. A nil bind means a client host that
	// never accepts inbound connections.
	NewHost(bind *Endpoint, lim Limits) (NativeHost, error)
}

// NativeHost is the engine-owned host resource. Service must be driven
// from a single goroutine; Connect, Broadcast and Flush may be called
// from others.
type NativeHost interface {
	// Connect issues a non-blocking connection request. Handshake outcome
	// arrives later as a connect or disconnect event.
	Connect(remote Endpoint, channels int, data uint32) (NativePeer, error)
	// Service blocks up to timeout and yields at most one event.
	// An Event with Type EventNone means the poll timed out empty.
	Service(timeout time.Duration) (Event, error)
	// Broadcast hands buf to every connected peer. Ownership of buf
	// transfers exactly once regardless of peer count.
	Broadcast(channel ChannelID, buf *Buffer)
	Flush()
	LocalEndpoint() Endpoint
	Close() error
}

// NativePeer is the engine-owned end of one connection.
type NativePeer interface {
	// Send transfers ownership of buf to the engine for delivery on the
	// given channel, whatever the outcome.
	Send(channel ChannelID, buf *Buffer) error
	Disconnect(data uint32)
	DisconnectNow(data uint32)
	DisconnectLater(data uint32)
	Ping()
	Reset()
	// SetTimeout tunes the adaptive disconnect-detection thresholds.
	SetTimeout(limit, minimum, maximum time.Duration)
	State() PeerState
	Endpoint() Endpoint
	RTT() time.Duration
}
