package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"peerwire/pkg/chat"
	"peerwire/pkg/config"
	"peerwire/pkg/engines"
	"peerwire/pkg/host"
	"peerwire/pkg/observability"
	"peerwire/pkg/packet"
	"peerwire/pkg/sched"
	"peerwire/pkg/transport"
	"peerwire/pkg/wire"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Listen != "" {
		cfg.Transport.Listen = opts.Listen
	}
	if opts.Kind != "" {
		cfg.Transport.Kind = opts.Kind
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("peerwire-server started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	eng, err := engines.NewByKind(cfg.Transport.Kind)
	if err != nil {
		zap.L().Error("failed to create engine", zap.Error(err))
		return 1
	}
	bind, err := transport.ParseEndpoint(cfg.Transport.Listen)
	if err != nil {
		zap.L().Error("bad listen address", zap.Error(err))
		return 1
	}

	h, err := host.NewServer(eng, bind, host.Config{
		MaxPeers:          cfg.Host.MaxPeers,
		MaxChannels:       cfg.Host.MaxChannels,
		IncomingBandwidth: cfg.Host.IncomingBandwidth,
		OutgoingBandwidth: cfg.Host.OutgoingBandwidth,
		PollInterval:      time.Duration(cfg.Host.ServiceIntervalMS) * time.Millisecond,
	})
	if err != nil {
		zap.L().Error("failed to create host", zap.Error(err))
		return 1
	}
	defer h.Close()

	pool := sched.New(cfg.Sched.Workers)
	pool.Start()
	defer pool.Stop()

	d := h.Dispatcher()
	d.OnConnect(func(ev host.ConnectEvent) {
		zap.L().Info("peer connected",
			zap.Stringer("endpoint", ev.Endpoint),
			zap.Uint32("data", ev.Data),
			zap.Int("peers", h.PeerCount()))
	})
	d.OnDisconnect(func(ev host.DisconnectEvent) {
		zap.L().Info("peer disconnected",
			zap.Stringer("endpoint", ev.Endpoint),
			zap.Uint32("data", ev.Data))
	})
	// channel 0: framed echo
	d.OnReceiveChannel(0, func(ev host.ReceiveEvent) {
		r := wire.NewPacketReader(ev.Packet)
		seq, err := r.ReadUint32()
		if err != nil {
			zap.L().Warn("malformed echo request", zap.Error(err))
			return
		}
		n, err := r.ReadUint32()
		if err != nil {
			zap.L().Warn("malformed echo request", zap.Error(err))
			return
		}
		body, err := r.ReadString(int(n))
		if err != nil {
			zap.L().Warn("malformed echo request", zap.Error(err))
			return
		}
		reply := wire.NewBuilder(16 + len(body)).
			WriteUint32(seq).
			WriteString(body).
			Build(transport.DefaultFlags)
		ev.Peer.Send(0, reply)
	})
	// channel 1: chat fan-out to every connected peer
	d.OnReceiveChannel(chat.Channel, func(ev host.ReceiveEvent) {
		raw := ev.Packet.Bytes()
		pool.Schedule(func() {
			msg, err := chat.Decode(raw)
			if err != nil {
				zap.L().Warn("undecodable chat message", zap.Error(err))
				return
			}
			zap.L().Info("chat", zap.String("from", msg.From), zap.String("body", msg.Body))
			h.Broadcast(chat.Channel, packet.FromBytes(raw, transport.DefaultFlags))
		})
	})

	h.StartServiceLoop()
	defer h.StopServiceLoop()
	zap.L().Info("listening", zap.Stringer("endpoint", h.LocalEndpoint()),
		zap.String("kind", cfg.Transport.Kind))

	// periodic stats through the worker pool
	statsDone := make(chan struct{})
	go func() {
		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-statsDone:
				return
			case <-tick.C:
				pool.Schedule(func() {
					zap.L().Info("stats", zap.Int("peers", h.PeerCount()))
				})
			}
		}
	}()
	defer close(statsDone)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	zap.L().Info("shutting down", zap.String("signal", s.String()))
	for _, p := range h.Peers() {
		p.DisconnectNow(0)
	}
	h.Flush()
	return 0
}
