package transport

import (
	"errors"
	"sync/atomic"
)

// ErrResize is returned when a buffer rejects a new size.
var ErrResize = errors.New("transport: invalid buffer size")

// Buffer is the engine-native packet: one byte payload plus transmission
// flags. The reference count tracks pending sends that still reference
// the same payload; an engine retains the buffer per queued delivery and
// releases it once the delivery is done.
type Buffer struct {
	data  []byte
	flags Flags
	refs  atomic.Int32
}

// NewBuffer creates a buffer holding data. The payload is copied unless
// FlagNoAllocate is set, in which case the caller's slice is adopted and
// must not be mutated afterwards.
func NewBuffer(data []byte, flags Flags) *Buffer {
	b := &Buffer{flags: flags}
	if flags&FlagNoAllocate != 0 {
		b.data = data
	} else {
		b.data = append([]byte(nil), data...)
	}
	b.refs.Store(1)
	return b
}

// Data returns the payload. The slice is shared, not a copy.
func (b *Buffer) Data() []byte { return b.data }

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) Flags() Flags { return b.flags }

// Refs returns the current reference count.
func (b *Buffer) Refs() int { return int(b.refs.Load()) }

// Retain adds one reference for a pending delivery.
func (b *Buffer) Retain() { b.refs.Add(1) }

// Release drops one reference. The payload itself is reclaimed by the
// garbage collector once nothing points at it.
func (b *Buffer) Release() { b.refs.Add(-1) }

// MarkSent records that the buffer has been handed to the wire at least once.
func (b *Buffer) MarkSent() { b.flags |= FlagSent }

// Resize truncates or zero-extends the payload in place.
func (b *Buffer) Resize(n int) error {
	if n < 0 {
		return ErrResize
	}
	switch {
	case n <= len(b.data):
		b.data = b.data[:n]
	case n <= cap(b.data):
		old := len(b.data)
		b.data = b.data[:n]
		clear(b.data[old:])
	default:
		grown := make([]byte, n)
		copy(grown, b.data)
		b.data = grown
	}
	return nil
}
