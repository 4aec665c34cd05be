package wire

import (
	"bytes"
	"errors"
	"testing"

	"peerwire/pkg/transport"
)

func TestRoundTrip(t *testing.T) {
	b := NewBuilder(64)
	b.WriteUint8(0xAB).
		WriteUint16(0xBEEF).
		WriteUint32(0xDEADBEEF).
		WriteUint64(0x1122334455667788).
		WriteString("HELLO").
		Write([]byte{9, 8, 7})

	r := NewReader(b.Bytes())

	if v, err := r.ReadUint8(); err != nil || v != 0xAB {
		t.Fatalf("uint8 = %#x err = %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0xBEEF {
		t.Fatalf("uint16 = %#x err = %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("uint32 = %#x err = %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 0x1122334455667788 {
		t.Fatalf("uint64 = %#x err = %v", v, err)
	}
	n, err := r.ReadUint32()
	if err != nil {
		t.Fatalf("string length: %v", err)
	}
	s, err := r.ReadString(int(n))
	if err != nil || s != "HELLO" {
		t.Fatalf("string = %q err = %v", s, err)
	}
	tail, err := r.ReadBytes(3)
	if err != nil || !bytes.Equal(tail, []byte{9, 8, 7}) {
		t.Fatalf("tail = %v err = %v", tail, err)
	}
	if !r.AtEnd() {
		t.Fatalf("reader should be at end, %d remaining", r.Remaining())
	}
}

func TestUnderflowLeavesPositionUnchanged(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, err := r.ReadUint16(); err != nil {
		t.Fatalf("uint16 within bounds: %v", err)
	}
	pos := r.Position()

	if _, err := r.ReadUint32(); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if r.Position() != pos {
		t.Fatalf("position moved on failed read: %d -> %d", pos, r.Position())
	}
	if _, err := r.ReadString(10); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected string underflow, got %v", err)
	}
	if r.Position() != pos {
		t.Fatalf("position moved on failed string read")
	}
	if _, err := r.ReadString(-1); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("negative length must fail, got %v", err)
	}
}

func TestSeekSkipClamp(t *testing.T) {
	r := NewReader(make([]byte, 10))
	r.Seek(99)
	if r.Position() != 10 {
		t.Fatalf("seek past end: position = %d, want 10", r.Position())
	}
	r.Seek(-5)
	if r.Position() != 0 {
		t.Fatalf("seek below zero: position = %d, want 0", r.Position())
	}
	r.Seek(4)
	r.Skip(100)
	if r.Position() != 10 {
		t.Fatalf("skip past end: position = %d, want 10", r.Position())
	}
	if !r.AtEnd() || r.Remaining() != 0 {
		t.Fatalf("clamped reader should be at end")
	}
	r.Reset()
	if r.Position() != 0 || r.Remaining() != 10 {
		t.Fatalf("reset: position = %d remaining = %d", r.Position(), r.Remaining())
	}
}

func TestAsStringIgnoresCursor(t *testing.T) {
	r := NewReader([]byte("whole buffer"))
	r.Skip(6)
	if r.AsString() != "whole buffer" {
		t.Fatalf("AsString = %q", r.AsString())
	}
}

func TestBuildSnapshotsIndependently(t *testing.T) {
	b := NewBuilder(0)
	b.WriteString("one")
	p1 := b.Build(transport.DefaultFlags)
	b.WriteString("two")
	p2 := b.Build(transport.FlagUnsequenced)

	if p1.Size() == p2.Size() {
		t.Fatalf("second build must include later writes")
	}
	r := NewPacketReader(p1)
	n, err := r.ReadUint32()
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	s, err := r.ReadString(int(n))
	if err != nil || s != "one" {
		t.Fatalf("first snapshot = %q err = %v", s, err)
	}
	if !p2.HasFlag(transport.FlagUnsequenced) {
		t.Fatalf("flags not applied to built packet")
	}

	// Builder stays usable after Build.
	if b.Empty() {
		t.Fatalf("builder consumed by Build")
	}
	b.Clear()
	if !b.Empty() || b.Len() != 0 {
		t.Fatalf("clear failed")
	}
}

func TestReserve(t *testing.T) {
	b := NewBuilder(0)
	b.WriteUint8(1)
	b.Reserve(128)
	if b.Cap() < 128 {
		t.Fatalf("cap = %d after reserve", b.Cap())
	}
	if b.Len() != 1 || b.Bytes()[0] != 1 {
		t.Fatalf("reserve lost contents")
	}
}
