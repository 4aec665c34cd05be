// Package engines constructs transport engines by configured kind.
package engines

import (
	"fmt"

	"peerwire/pkg/transport"
	"peerwire/pkg/transport/mem"
	"peerwire/pkg/transport/quic"
	"peerwire/pkg/transport/udp"
)

// NewByKind returns a fresh engine for the given kind: udp, quic or mem.
func NewByKind(kind string) (transport.Engine, error) {
	switch kind {
	case "udp":
		return udp.New(), nil
	case "quic":
		return quic.New(), nil
	case "mem":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}
