// Package packet wraps one engine-native buffer in a move-only handle.
// A handle owns its buffer until Release transfers it to the engine; an
// inert (released) handle answers every query with a zero value.
package packet

import (
	"peerwire/pkg/transport"
)

// Packet is a single-owner handle over one transport buffer.
type Packet struct {
	buf *transport.Buffer
}

// FromBytes creates a packet holding a copy of data (or adopting it when
// transport.FlagNoAllocate is set).
func FromBytes(data []byte, flags transport.Flags) *Packet {
	return &Packet{buf: transport.NewBuffer(data, flags)}
}

// FromString creates a packet holding the string's bytes.
func FromString(s string, flags transport.Flags) *Packet {
	return &Packet{buf: transport.NewBuffer([]byte(s), flags)}
}

// FromNative wraps an engine-produced buffer, as when an inbound receive
// event materializes a packet. A nil buffer yields a nil packet.
func FromNative(buf *transport.Buffer) *Packet {
	if buf == nil {
		return nil
	}
	return &Packet{buf: buf}
}

// Data returns the payload, or nil for an inert handle. The slice is
// shared with the buffer, not a copy.
func (p *Packet) Data() []byte {
	if p == nil || p.buf == nil {
		return nil
	}
	return p.buf.Data()
}

func (p *Packet) Size() int {
	if p == nil || p.buf == nil {
		return 0
	}
	return p.buf.Len()
}

func (p *Packet) Flags() transport.Flags {
	if p == nil || p.buf == nil {
		return 0
	}
	return p.buf.Flags()
}

func (p *Packet) HasFlag(f transport.Flags) bool {
	return p.Flags()&f != 0
}

// RefCount reports how many pending deliveries still reference the buffer.
func (p *Packet) RefCount() int {
	if p == nil || p.buf == nil {
		return 0
	}
	return p.buf.Refs()
}

// AsString decodes the whole payload as text.
func (p *Packet) AsString() string {
	return string(p.Data())
}

// Bytes returns an independent copy of the payload.
func (p *Packet) Bytes() []byte {
	d := p.Data()
	if d == nil {
		return nil
	}
	return append([]byte(nil), d...)
}

// Resize truncates or zero-extends the payload in place. Resizing an
// inert handle is a no-op.
func (p *Packet) Resize(n int) error {
	if p == nil || p.buf == nil {
		return nil
	}
	return p.buf.Resize(n)
}

// Valid reports whether the handle still owns a buffer.
func (p *Packet) Valid() bool {
	return p != nil && p.buf != nil
}

// Release consumes the handle: it returns the underlying buffer and
// leaves the handle inert, so the buffer can only be handed to the
// engine once. Releasing an inert handle returns nil.
func (p *Packet) Release() *transport.Buffer {
	if p == nil || p.buf == nil {
		return nil
	}
	buf := p.buf
	p.buf = nil
	return buf
}
