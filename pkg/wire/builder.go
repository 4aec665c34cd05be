// Package wire implements the length-prefixed binary encoding used on
// top of the engine's framing: fixed-width integers in the machine's
// native byte order and strings as a uint32 byte count followed by the
// raw bytes.
//
// The native byte order is deliberate and carries a portability caveat:
// both ends of a connection must run the same byte order for numeric
// fields to decode correctly. Imposing network byte order here would
// silently change on-wire compatibility, so it is not done.
package wire

import (
	"encoding/binary"

	"peerwire/pkg/packet"
	"peerwire/pkg/transport"
)

// Builder accumulates an outgoing byte sequence in declaration order.
// The zero value is ready to use.
type Builder struct {
	buf []byte
}

// NewBuilder returns a builder with the given initial capacity.
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

// Write appends raw bytes.
func (b *Builder) Write(data []byte) *Builder {
	b.buf = append(b.buf, data...)
	return b
}

// WriteString appends the canonical string encoding: a uint32 byte count
// followed by the raw bytes, no terminator.
func (b *Builder) WriteString(s string) *Builder {
	b.WriteUint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *Builder) WriteUint8(v uint8) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) WriteUint16(v uint16) *Builder {
	b.buf = binary.NativeEndian.AppendUint16(b.buf, v)
	return b
}

func (b *Builder) WriteUint32(v uint32) *Builder {
	b.buf = binary.NativeEndian.AppendUint32(b.buf, v)
	return b
}

func (b *Builder) WriteUint64(v uint64) *Builder {
	b.buf = binary.NativeEndian.AppendUint64(b.buf, v)
	return b
}

// Reserve grows the builder's capacity to at least n bytes.
func (b *Builder) Reserve(n int) *Builder {
	if n > cap(b.buf) {
		grown := make([]byte, len(b.buf), n)
		copy(grown, b.buf)
		b.buf = grown
	}
	return b
}

// Clear empties the buffer, keeping its capacity.
func (b *Builder) Clear() *Builder {
	b.buf = b.buf[:0]
	return b
}

func (b *Builder) Len() int { return len(b.buf) }

func (b *Builder) Cap() int { return cap(b.buf) }

func (b *Builder) Empty() bool { return len(b.buf) == 0 }

// Bytes exposes the accumulated buffer. The slice aliases the builder's
// storage; it is valid until the next write.
func (b *Builder) Bytes() []byte { return b.buf }

// Build snapshots the current buffer into a new packet. The builder is
// not consumed; Build may be called again to produce independent
// packets. No size validation happens here, oversized packets are the
// engine's problem.
func (b *Builder) Build(flags transport.Flags) *packet.Packet {
	return packet.FromBytes(b.buf, flags)
}
