package transport

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a host/port pair. It is a pure value; equality is value
// equality and conversion to the engine's native addressing happens at
// the engine boundary.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Resolve maps the endpoint to a UDP address, resolving the host name if
// needed. An unresolvable name is an error the caller must correct.
func (e Endpoint) Resolve() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", e.String())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", e.String(), err)
	}
	return addr, nil
}

// FromUDPAddr converts a native UDP address back to an Endpoint.
func FromUDPAddr(a *net.UDPAddr) Endpoint {
	if a == nil {
		return Endpoint{}
	}
	return Endpoint{Host: a.IP.String(), Port: uint16(a.Port)}
}

// ParseEndpoint parses "host:port" into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	return Endpoint{Host: h, Port: uint16(port)}, nil
}
