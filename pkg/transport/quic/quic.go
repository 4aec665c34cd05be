// Package quic is an engine over QUIC datagrams. Each peer is one QUIC
// connection; the connect payload rides a hello datagram and the
// disconnect payload rides the application close code. The TLS identity
// is an ephemeral self-signed certificate, so transport encryption is
// opportunistic rather than authenticated.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"peerwire/pkg/transport"
)

const (
	alpnToken    = "peerwire"
	eventBacklog = 256

	dgramHello = 1
	dgramData  = 2
	dgramPing  = 3

	// type u8, channel u8, flags u32, meta u32
	dgramHeader = 10
)

// Engine creates QUIC-backed native hosts.
type Engine struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

func New() *Engine {
	cert, err := selfSignedCert()
	if err != nil {
		// without a certificate the listener side cannot work; the dialer
		// side still can, so keep going with an empty config
		zap.L().Warn("quic: self-signed certificate generation failed", zap.Error(err))
	}
	return &Engine{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpnToken},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{
			EnableDatagrams: true,
			KeepAlivePeriod: 5 * time.Second,
		},
	}
}

func (e *Engine) Name() string { return "quic" }

func (e *Engine) NewHost(bind *transport.Endpoint, lim transport.Limits) (transport.NativeHost, error) {
	if lim.MaxPeers <= 0 {
		lim.MaxPeers = 32
	}
	if lim.MaxChannels <= 0 {
		lim.MaxChannels = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &quicHost{
		engine: e,
		limits: lim,
		events: make(chan transport.Event, eventBacklog),
		ctx:    ctx,
		cancel: cancel,
	}
	if bind != nil {
		ln, err := quicgo.ListenAddr(bind.String(), e.tlsConf, e.quicConf)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("quic: bind %s: %w", bind, err)
		}
		h.ln = ln
		go h.acceptLoop()
	}
	return h, nil
}

type quicHost struct {
	engine *Engine
	limits transport.Limits
	ln     *quicgo.Listener

	events chan transport.Event
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu    sync.Mutex
	peers []*quicPeer
}

func (h *quicHost) LocalEndpoint() transport.Endpoint {
	if h.ln == nil {
		return transport.Endpoint{}
	}
	if ua, ok := h.ln.Addr().(*net.UDPAddr); ok {
		return transport.FromUDPAddr(ua)
	}
	return transport.Endpoint{}
}

func (h *quicHost) Connect(remote transport.Endpoint, channels int, data uint32) (transport.NativePeer, error) {
	if h.closed.Load() {
		return nil, errors.New("quic: host closed")
	}
	if channels <= 0 {
		channels = 1
	}
	clientTLS := &tls.Config{
		// identity is self-signed on both ends, nothing to verify against
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnToken},
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := quicgo.DialAddr(h.ctx, remote.String(), clientTLS, h.engine.quicConf)
	if err != nil {
		return nil, fmt.Errorf("quic: connect %s: %w", remote, err)
	}
	p := newQuicPeer(h, conn, channels)
	p.state.Store(int32(transport.StateConnected))
	h.addPeer(p)

	hello := marshalDgram(dgramHello, transport.ChannelID(channels), 0, data, nil)
	if err := conn.SendDatagram(hello); err != nil {
		_ = conn.CloseWithError(0, "hello failed")
		h.removePeer(p)
		return nil, fmt.Errorf("quic: connect %s: %w", remote, err)
	}
	go p.readLoop(false)
	h.push(transport.Event{Type: transport.EventConnect, Peer: p, Data: data})
	return p, nil
}

func (h *quicHost) acceptLoop() {
	for {
		conn, err := h.ln.Accept(h.ctx)
		if err != nil {
			return
		}
		h.mu.Lock()
		full := len(h.peers) >= h.limits.MaxPeers
		h.mu.Unlock()
		if full {
			_ = conn.CloseWithError(0, "peer limit reached")
			continue
		}
		p := newQuicPeer(h, conn, h.limits.MaxChannels)
		p.state.Store(int32(transport.StateAcknowledgingConnect))
		// the peer becomes visible once its hello arrives in readLoop
		go p.readLoop(true)
	}
}

func (h *quicHost) Service(timeout time.Duration) (transport.Event, error) {
	if h.closed.Load() {
		select {
		case ev := <-h.events:
			return ev, nil
		default:
			return transport.Event{}, errors.New("quic: host closed")
		}
	}
	select {
	case ev := <-h.events:
		return ev, nil
	default:
	}
	if timeout <= 0 {
		return transport.Event{}, nil
	}
	select {
	case ev := <-h.events:
		return ev, nil
	case <-time.After(timeout):
		return transport.Event{}, nil
	}
}

func (h *quicHost) Broadcast(channel transport.ChannelID, buf *transport.Buffer) {
	if buf == nil || int(channel) >= h.limits.MaxChannels {
		return
	}
	buf.MarkSent()
	raw := marshalDgram(dgramData, channel, buf.Flags(), 0, buf.Data())
	h.mu.Lock()
	peers := append([]*quicPeer(nil), h.peers...)
	h.mu.Unlock()
	for _, p := range peers {
		if p.State().Connected() {
			_ = p.conn.SendDatagram(raw)
		}
	}
	buf.Release()
}

func (h *quicHost) Flush() {}

func (h *quicHost) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.mu.Lock()
	peers := append([]*quicPeer(nil), h.peers...)
	h.peers = nil
	h.mu.Unlock()
	for _, p := range peers {
		p.teardown(0, false)
	}
	if h.ln != nil {
		_ = h.ln.Close()
	}
	h.cancel()
	return nil
}

func (h *quicHost) addPeer(p *quicPeer) {
	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()
}

func (h *quicHost) removePeer(p *quicPeer) {
	h.mu.Lock()
	for i, q := range h.peers {
		if q == p {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
}

func (h *quicHost) push(ev transport.Event) {
	select {
	case h.events <- ev:
	default:
		if ev.Packet != nil {
			ev.Packet.Release()
		}
	}
}

type quicPeer struct {
	host     *quicHost
	conn     quicgo.Connection
	channels int
	state    atomic.Int32
	down     atomic.Bool
}

func newQuicPeer(h *quicHost, conn quicgo.Connection, channels int) *quicPeer {
	if channels <= 0 {
		channels = 1
	}
	return &quicPeer{host: h, conn: conn, channels: channels}
}

// readLoop pumps inbound datagrams into the host event queue. For an
// inbound connection the peer is registered and announced on its hello.
func (p *quicPeer) readLoop(inbound bool) {
	sawHello := !inbound
	for {
		raw, err := p.conn.ReceiveDatagram(p.host.ctx)
		if err != nil {
			var aerr *quicgo.ApplicationError
			code := uint32(0)
			if errors.As(err, &aerr) {
				code = uint32(aerr.ErrorCode)
			}
			if p.down.CompareAndSwap(false, true) {
				p.state.Store(int32(transport.StateDisconnected))
				p.host.removePeer(p)
				if sawHello {
					p.host.push(transport.Event{Type: transport.EventDisconnect, Peer: p, Data: code})
				}
			}
			return
		}
		typ, channel, flags, meta, payload, perr := parseDgram(raw)
		if perr != nil {
			zap.L().Debug("quic: dropping malformed datagram", zap.Error(perr))
			continue
		}
		switch typ {
		case dgramHello:
			if !sawHello {
				sawHello = true
				if n := int(channel); n > 0 && n < p.channels {
					p.channels = n
				}
				p.state.Store(int32(transport.StateConnected))
				p.host.addPeer(p)
				p.host.push(transport.Event{Type: transport.EventConnect, Peer: p, Data: meta})
			}
		case dgramData:
			if sawHello && p.State().Connected() {
				buf := transport.NewBuffer(payload, (flags|transport.FlagSent)&^transport.FlagNoAllocate)
				p.host.push(transport.Event{Type: transport.EventReceive, Peer: p, Channel: channel, Packet: buf})
			}
		case dgramPing:
			// QUIC keepalive already answers liveness, nothing to do
		}
	}
}

func (p *quicPeer) State() transport.PeerState {
	return transport.PeerState(p.state.Load())
}

func (p *quicPeer) Endpoint() transport.Endpoint {
	if ua, ok := p.conn.RemoteAddr().(*net.UDPAddr); ok {
		return transport.FromUDPAddr(ua)
	}
	return transport.Endpoint{}
}

func (p *quicPeer) RTT() time.Duration { return 0 }

func (p *quicPeer) Send(channel transport.ChannelID, buf *transport.Buffer) error {
	if buf == nil {
		return errors.New("quic: nil buffer")
	}
	defer buf.Release()
	if int(channel) >= p.channels {
		return fmt.Errorf("quic: channel %d out of range", channel)
	}
	if !p.State().Connected() {
		return errors.New("quic: peer not connected")
	}
	buf.MarkSent()
	raw := marshalDgram(dgramData, channel, buf.Flags(), 0, buf.Data())
	if err := p.conn.SendDatagram(raw); err != nil {
		return fmt.Errorf("quic: send: %w", err)
	}
	return nil
}

func (p *quicPeer) Disconnect(data uint32) { p.teardown(data, true) }

func (p *quicPeer) DisconnectNow(data uint32) { p.teardown(data, false) }

// DisconnectLater: datagram sends are immediate, nothing to flush first.
func (p *quicPeer) DisconnectLater(data uint32) { p.teardown(data, true) }

func (p *quicPeer) Ping() {
	if p.State().Connected() {
		_ = p.conn.SendDatagram(marshalDgram(dgramPing, 0, 0, 0, nil))
	}
}

func (p *quicPeer) Reset() { p.teardown(0, false) }

func (p *quicPeer) SetTimeout(limit, minimum, maximum time.Duration) {
	// idle detection is owned by the QUIC stack's keepalive/idle timers
}

func (p *quicPeer) teardown(data uint32, localEvent bool) {
	if !p.down.CompareAndSwap(false, true) {
		return
	}
	p.state.Store(int32(transport.StateDisconnected))
	_ = p.conn.CloseWithError(quicgo.ApplicationErrorCode(data), "disconnect")
	p.host.removePeer(p)
	if localEvent {
		p.host.push(transport.Event{Type: transport.EventDisconnect, Peer: p, Data: data})
	}
}

func marshalDgram(typ uint8, channel transport.ChannelID, flags transport.Flags, meta uint32, payload []byte) []byte {
	buf := make([]byte, dgramHeader+len(payload))
	buf[0] = typ
	buf[1] = uint8(channel)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(flags))
	binary.LittleEndian.PutUint32(buf[6:10], meta)
	copy(buf[dgramHeader:], payload)
	return buf
}

func parseDgram(buf []byte) (typ uint8, channel transport.ChannelID, flags transport.Flags, meta uint32, payload []byte, err error) {
	if len(buf) < dgramHeader {
		return 0, 0, 0, 0, nil, errors.New("quic: short datagram")
	}
	typ = buf[0]
	channel = transport.ChannelID(buf[1])
	flags = transport.Flags(binary.LittleEndian.Uint32(buf[2:6]))
	meta = binary.LittleEndian.Uint32(buf[6:10])
	payload = buf[dgramHeader:]
	return typ, channel, flags, meta, payload, nil
}

func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
