// Package chat defines the small typed message exchanged by the demo
// programs, CBOR-encoded on the wire.
package chat

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Channel is the host channel the demo reserves for chat traffic.
const Channel = 1

// Message is one chat line.
type Message struct {
	From     string `cbor:"1,keyasint"`
	Body     string `cbor:"2,keyasint"`
	SentUnix int64  `cbor:"3,keyasint"`
}

// New stamps a message with the current time.
func New(from, body string) Message {
	return Message{From: from, Body: body, SentUnix: time.Now().UnixMilli()}
}

// Encode serializes the message.
func Encode(m Message) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode chat message: %w", err)
	}
	return b, nil
}

// Decode deserializes a message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode chat message: %w", err)
	}
	return m, nil
}
