package udp

import (
	"encoding/binary"
	"errors"

	"peerwire/pkg/transport"
)

// Fixed frame header (18 bytes), little-endian. This is engine framing,
// below the application's own payload encoding.
//
//	0 ..1   Magic   'P''W' (0x5057)
//	2       Version u8
//	3       Type    u8
//	4       Channel u8
//	5       Reserved u8
//	6 ..9   Flags   u32
//	10..13  Meta    u32 (connect data / disconnect data / ping timestamp)
//	14..17  PayloadLen u32
const (
	headerSize = 18
	magicWord  = uint16(0x5057) // 'P''W'
	version    = 1

	maxPayload = 1 << 24
)

const (
	frameConnect = iota + 1
	frameConnectAck
	frameDisconnect
	frameDisconnectAck
	frameDisconnectNow
	frameData
	framePing
	framePong
)

var (
	errBadMagic   = errors.New("udp: bad frame magic")
	errBadVersion = errors.New("udp: unsupported frame version")
	errShortFrame = errors.New("udp: short frame")
)

type frame struct {
	typ     uint8
	channel transport.ChannelID
	flags   transport.Flags
	meta    uint32
	payload []byte
}

func (f *frame) marshal() []byte {
	buf := make([]byte, headerSize+len(f.payload))
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	buf[2] = version
	buf[3] = f.typ
	buf[4] = uint8(f.channel)
	// buf[5] reserved
	binary.LittleEndian.PutUint32(buf[6:10], uint32(f.flags))
	binary.LittleEndian.PutUint32(buf[10:14], f.meta)
	binary.LittleEndian.PutUint32(buf[14:18], uint32(len(f.payload)))
	copy(buf[headerSize:], f.payload)
	return buf
}

func parseFrame(buf []byte) (frame, error) {
	var f frame
	if len(buf) < headerSize {
		return f, errShortFrame
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return f, errBadMagic
	}
	if buf[2] != version {
		return f, errBadVersion
	}
	f.typ = buf[3]
	f.channel = transport.ChannelID(buf[4])
	f.flags = transport.Flags(binary.LittleEndian.Uint32(buf[6:10]))
	f.meta = binary.LittleEndian.Uint32(buf[10:14])
	n := binary.LittleEndian.Uint32(buf[14:18])
	if n > maxPayload || int(n) > len(buf)-headerSize {
		return f, errShortFrame
	}
	f.payload = buf[headerSize : headerSize+int(n)]
	return f, nil
}
