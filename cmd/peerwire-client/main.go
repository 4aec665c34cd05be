package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"peerwire/pkg/chat"
	"peerwire/pkg/engines"
	"peerwire/pkg/host"
	"peerwire/pkg/packet"
	"peerwire/pkg/transport"
	"peerwire/pkg/wire"
)

func main() {
	kind := flag.String("kind", "udp", "transport kind: udp|quic|mem")
	addr := flag.String("addr", "127.0.0.1:7777", "address to connect to")
	name := flag.String("name", "client", "chat sender name")
	msg := flag.String("message", "hello peerwire", "message to echo and chat")
	count := flag.Int("count", 1, "number of echo round trips")
	timeout := flag.Duration("timeout", 5*time.Second, "connect/reply timeout")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	eng, err := engines.NewByKind(*kind)
	if err != nil {
		fatalf("new engine: %v", err)
	}
	remote, err := transport.ParseEndpoint(*addr)
	if err != nil {
		fatalf("bad address: %v", err)
	}

	h, err := host.NewClient(eng, host.Config{MaxChannels: 2})
	if err != nil {
		fatalf("new host: %v", err)
	}
	defer h.Close()

	connected := make(chan struct{})
	replies := make(chan string, 16)
	h.Dispatcher().OnConnect(func(host.ConnectEvent) { close(connected) })
	h.Dispatcher().OnDisconnect(func(ev host.DisconnectEvent) {
		zap.L().Info("disconnected", zap.Uint32("data", ev.Data))
	})
	h.Dispatcher().OnReceiveChannel(0, func(ev host.ReceiveEvent) {
		r := wire.NewPacketReader(ev.Packet)
		seq, err := r.ReadUint32()
		if err != nil {
			return
		}
		n, err := r.ReadUint32()
		if err != nil {
			return
		}
		body, err := r.ReadString(int(n))
		if err != nil {
			return
		}
		replies <- fmt.Sprintf("#%d %s", seq, body)
	})
	h.Dispatcher().OnReceiveChannel(chat.Channel, func(ev host.ReceiveEvent) {
		m, err := chat.Decode(ev.Packet.Data())
		if err != nil {
			return
		}
		fmt.Printf("[chat] %s: %s\n", m.From, m.Body)
	})

	p, err := h.Connect(remote, 2, 0)
	if err != nil {
		fatalf("connect: %v", err)
	}
	h.StartServiceLoop()
	defer h.StopServiceLoop()

	select {
	case <-connected:
		zap.L().Info("connected", zap.Stringer("endpoint", p.Endpoint()))
	case <-time.After(*timeout):
		fatalf("connect timed out")
	}

	for i := 0; i < *count; i++ {
		req := wire.NewBuilder(16 + len(*msg)).
			WriteUint32(uint32(i)).
			WriteString(*msg).
			Build(transport.DefaultFlags)
		if !p.Send(0, req) {
			fatalf("send failed")
		}
		select {
		case r := <-replies:
			fmt.Println("echo:", r)
		case <-time.After(*timeout):
			fatalf("no echo reply")
		}
	}

	line, err := chat.Encode(chat.New(*name, *msg))
	if err != nil {
		fatalf("encode chat: %v", err)
	}
	p.Send(chat.Channel, packet.FromBytes(line, transport.DefaultFlags))
	// give the fan-out a moment to come back before leaving
	time.Sleep(500 * time.Millisecond)

	p.Disconnect(0)
	deadline := time.Now().Add(*timeout)
	for !p.IsDisconnected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
