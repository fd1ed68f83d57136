// Package broker implements the rendezvous service: it listens on the
// assign address and answers each "where" inquiry with the serve slot,
// mirror broker or terminal "unknown" the client should try next.
package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/SlappyBacon/pico/internal/channel"
	"github.com/SlappyBacon/pico/internal/logger"
	"github.com/SlappyBacon/pico/internal/protocol"
	"github.com/SlappyBacon/pico/internal/telemetry"
	"github.com/hashicorp/go-metrics"
	"github.com/sirupsen/logrus"
)

const (
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultReservationTimeout = 5 * time.Second
)

type Config struct {
	// Addr is the assign address, e.g. ":7000". Port 0 picks a free port.
	Addr string
	// Registry, when set, is shared with the component that serves the
	// slots. Otherwise one is built from ServePorts.
	Registry   *Registry
	ServePorts []int
	// Mirrors are host:port addresses of other brokers, offered when every
	// local slot is taken.
	Mirrors []string

	HandshakeTimeout   time.Duration
	ReservationTimeout time.Duration

	Channel    channel.Options
	Logger     *logrus.Logger
	MetricSink metrics.MetricSink
}

type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

type Broker struct {
	config   Config
	logger   *logrus.Logger
	msink    metrics.MetricSink
	registry *Registry
	mirrors  []string

	mu       sync.Mutex
	state    State
	addr     string
	listener net.Listener
	cancel   context.CancelFunc
	run      uint64
	wg       sync.WaitGroup
}

// New validates cfg and binds the assign listener. The broker does not
// answer inquiries until Start.
func New(cfg Config) (*Broker, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ReservationTimeout <= 0 {
		cfg.ReservationTimeout = DefaultReservationTimeout
	}

	registry := cfg.Registry
	if registry == nil {
		var err error
		registry, err = NewRegistry(cfg.ServePorts, cfg.ReservationTimeout)
		if err != nil {
			return nil, err
		}
	}

	for _, m := range cfg.Mirrors {
		if _, err := protocol.ParseMirror(m); err != nil {
			return nil, err
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, protocol.NewError(protocol.KindConnection, "listen "+cfg.Addr, err)
	}

	return &Broker{
		config:   cfg,
		logger:   log,
		msink:    telemetry.Sink(cfg.MetricSink),
		registry: registry,
		mirrors:  append([]string(nil), cfg.Mirrors...),
		addr:     ln.Addr().String(),
		listener: ln,
	}, nil
}

func (b *Broker) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Broker) Registry() *Registry {
	return b.registry
}

// Start begins answering inquiries in the background. After Stop it binds
// the same address again.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateRunning {
		return fmt.Errorf("broker already running on %s", b.addr)
	}

	if b.listener == nil {
		ln, err := net.Listen("tcp", b.addr)
		if err != nil {
			return protocol.NewError(protocol.KindConnection, "listen "+b.addr, err)
		}
		b.listener = ln
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.state = StateRunning
	b.run++
	run := b.run
	context.AfterFunc(ctx, func() { _ = b.stop(run) })

	b.wg.Add(1)
	go b.serve(ctx, b.listener)

	b.logger.WithField("addr", b.addr).Info("Broker started")
	return nil
}

// Stop closes the assign listener, which unblocks the accept loop, and
// waits for in-flight inquiries to finish. Cancelling the context passed to
// Start has the same effect.
func (b *Broker) Stop() error {
	return b.stop(0)
}

// stop ends run, or whatever is running when run is 0.
func (b *Broker) stop(run uint64) error {
	b.mu.Lock()
	if b.listener == nil || (run != 0 && run != b.run) {
		b.mu.Unlock()
		return nil
	}
	ln := b.listener
	b.listener = nil
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	wasRunning := b.state == StateRunning
	b.state = StateStopped
	b.mu.Unlock()

	err := ln.Close()
	b.wg.Wait()

	if wasRunning {
		b.logger.WithField("addr", b.addr).Info("Broker stopped")
	}
	return err
}

func (b *Broker) serve(ctx context.Context, ln net.Listener) {
	defer b.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			b.logger.WithError(err).Error("Failed to accept inquiry")
			continue
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleInquiry(ctx, conn)
		}()
	}
}

func (b *Broker) handleInquiry(ctx context.Context, conn net.Conn) {
	log := b.logger.WithFields(telemetry.LabelPeer.F(conn.RemoteAddr().String()))

	_ = conn.SetDeadline(time.Now().Add(b.config.HandshakeTimeout))

	ch, err := channel.NewServer(conn, b.config.Channel)
	if err != nil {
		b.inquiryFailed(log, err)
		return
	}
	defer func() { _ = ch.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	req, err := ch.ReadText()
	if err != nil {
		b.inquiryFailed(log, err)
		return
	}

	switch req {
	case protocol.MsgWhere:
		reply, result, port := b.assign()
		if err := ch.WriteText(reply); err != nil {
			if port != 0 {
				b.registry.Unreserve(port)
			}
			b.inquiryFailed(log, err)
			return
		}
		b.msink.IncrCounterWithLabels(telemetry.MetricBrokerAssign, 1,
			[]metrics.Label{telemetry.LabelResult.M(result)})
		log.WithFields(telemetry.LabelReply.F(reply)).Debug("Answered inquiry")

	case protocol.MsgStatus:
		data, err := EncodeStatus(b.Status())
		if err != nil {
			b.inquiryFailed(log, err)
			return
		}
		if err := ch.WriteByteArray(data); err != nil {
			b.inquiryFailed(log, err)
			return
		}
		log.Debug("Answered status inquiry")

	default:
		b.inquiryFailed(log, protocol.Errorf(protocol.KindHandshake, "inquiry", "unexpected request %q", req))
	}
}

func (b *Broker) inquiryFailed(log *logrus.Entry, err error) {
	b.msink.IncrCounter(telemetry.MetricBrokerInquiryErrors, 1)
	log.WithError(err).Warn("Inquiry failed")
}

// assign picks the reply for one "where" inquiry: the first free slot, else
// a random mirror, else "unknown". It also returns the outcome for metrics
// and the claimed port, zero when no slot was claimed.
func (b *Broker) assign() (string, string, int) {
	if port, ok := b.registry.Claim(time.Now()); ok {
		return protocol.HereAt(port).String(), "slot", port
	}
	if len(b.mirrors) > 0 {
		return b.mirrors[rand.IntN(len(b.mirrors))], "mirror", 0
	}
	return protocol.Unknown().String(), "unknown", 0
}

func (b *Broker) Status() Status {
	return Status{
		Slots:   b.registry.Snapshot(time.Now()),
		Mirrors: append([]string(nil), b.mirrors...),
	}
}
