package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"peerwire/pkg/packet"
)

// ErrUnderflow is returned when a read asks for more bytes than remain.
// The cursor is left unchanged on failure.
var ErrUnderflow = errors.New("wire: read past end of buffer")

// Reader decodes a byte span sequentially with a monotonic cursor.
// It does not infer string lengths: callers read the uint32 prefix first
// and pass it to ReadString, mirroring Builder.WriteString.
type Reader struct {
	data []byte
	pos  int
}

// NewReader reads from a raw byte span.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewPacketReader reads from a packet's payload without consuming the
// packet.
func NewPacketReader(p *packet.Packet) *Reader {
	return &Reader{data: p.Data()}
}

func (r *Reader) take(width int) ([]byte, error) {
	if r.pos+width > len(r.data) {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrUnderflow, width, len(r.data)-r.pos)
	}
	b := r.data[r.pos : r.pos+width]
	r.pos += width
	return b, nil
}

// Read copies len(dst) bytes into dst and advances the cursor.
func (r *Reader) Read(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint64(b), nil
}

// ReadString returns exactly length bytes as text. The length comes from
// the caller, typically via a preceding ReadUint32.
func (r *Reader) ReadString(length int) (string, error) {
	if length < 0 {
		return "", fmt.Errorf("%w: negative length %d", ErrUnderflow, length)
	}
	b, err := r.take(length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes returns an independent copy of exactly length bytes.
func (r *Reader) ReadBytes(length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrUnderflow, length)
	}
	b, err := r.take(length)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Seek moves the cursor to pos, clamped to [0, Size].
func (r *Reader) Seek(pos int) {
	switch {
	case pos < 0:
		r.pos = 0
	case pos > len(r.data):
		r.pos = len(r.data)
	default:
		r.pos = pos
	}
}

// Skip advances the cursor by n bytes, clamped to the end of the buffer.
func (r *Reader) Skip(n int) {
	r.Seek(r.pos + n)
}

func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) Position() int { return r.pos }

func (r *Reader) Size() int { return len(r.data) }

func (r *Reader) AtEnd() bool { return r.pos >= len(r.data) }

// Reset moves the cursor back to the start.
func (r *Reader) Reset() { r.pos = 0 }

// AsString decodes the entire buffer as text, independent of the cursor.
func (r *Reader) AsString() string { return string(r.data) }
