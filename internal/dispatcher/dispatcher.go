// Package dispatcher is the server side of the rendezvous: a Broker on the
// assign port plus one accept loop per serve slot. Each slot validates the
// handshake, marks itself busy, runs the application Handler and frees
// itself again.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/SlappyBacon/pico/internal/broker"
	"github.com/SlappyBacon/pico/internal/channel"
	"github.com/SlappyBacon/pico/internal/logger"
	"github.com/SlappyBacon/pico/internal/protocol"
	"github.com/SlappyBacon/pico/internal/telemetry"
	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handler runs one transaction on an established Channel. The channel is
// closed and the slot freed when it returns.
type Handler func(ctx context.Context, ch *channel.Channel) error

type Config struct {
	// Host is the bind host for the assign and serve listeners.
	Host       string
	AssignPort int
	// ServePorts lists the slots explicitly. When empty, PortMin..PortMax
	// (inclusive) is used. Port 0 binds an ephemeral port.
	ServePorts []int
	PortMin    int
	PortMax    int
	Mirrors    []string

	Handler Handler

	HandshakeTimeout   time.Duration
	ReservationTimeout time.Duration

	Channel    channel.Options
	Logger     *logrus.Logger
	MetricSink metrics.MetricSink
}

func (c Config) servePorts() ([]int, error) {
	if len(c.ServePorts) > 0 {
		return c.ServePorts, nil
	}
	if c.PortMin <= 0 || c.PortMax <= 0 {
		return nil, fmt.Errorf("no serve ports configured")
	}
	if c.PortMin > c.PortMax {
		return nil, fmt.Errorf("port range %d-%d is empty", c.PortMin, c.PortMax)
	}
	ports := make([]int, 0, c.PortMax-c.PortMin+1)
	for p := c.PortMin; p <= c.PortMax; p++ {
		ports = append(ports, p)
	}
	return ports, nil
}

type slotListener struct {
	port int
	ln   net.Listener
}

type Dispatcher struct {
	config   Config
	logger   *logrus.Logger
	msink    metrics.MetricSink
	registry *broker.Registry
	broker   *broker.Broker
	slots    []slotListener

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool
}

// New binds every serve listener and the assign listener. Nothing is
// accepted until Start.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("dispatcher needs a handler")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = broker.DefaultHandshakeTimeout
	}
	if cfg.ReservationTimeout <= 0 {
		cfg.ReservationTimeout = broker.DefaultReservationTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	ports, err := cfg.servePorts()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		config: cfg,
		logger: log,
		msink:  telemetry.Sink(cfg.MetricSink),
	}

	bound := make([]int, 0, len(ports))
	for _, port := range ports {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			d.closeListeners()
			return nil, protocol.NewError(protocol.KindConnection, "listen "+addr, err)
		}
		actual := ln.Addr().(*net.TCPAddr).Port
		d.slots = append(d.slots, slotListener{port: actual, ln: ln})
		bound = append(bound, actual)
	}

	d.registry, err = broker.NewRegistry(bound, cfg.ReservationTimeout)
	if err != nil {
		d.closeListeners()
		return nil, err
	}

	d.broker, err = broker.New(broker.Config{
		Addr:               net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.AssignPort)),
		Registry:           d.registry,
		Mirrors:            cfg.Mirrors,
		HandshakeTimeout:   cfg.HandshakeTimeout,
		ReservationTimeout: cfg.ReservationTimeout,
		Channel:            cfg.Channel,
		Logger:             log,
		MetricSink:         cfg.MetricSink,
	})
	if err != nil {
		d.closeListeners()
		return nil, err
	}

	return d, nil
}

func (d *Dispatcher) AssignAddr() string {
	return d.broker.Addr()
}

func (d *Dispatcher) ServePorts() []int {
	return d.registry.Ports()
}

func (d *Dispatcher) Registry() *broker.Registry {
	return d.registry
}

func (d *Dispatcher) Broker() *broker.Broker {
	return d.broker
}

// Start launches the broker and one goroutine per slot.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return fmt.Errorf("dispatcher has been stopped")
	}
	if d.started {
		return fmt.Errorf("dispatcher already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := d.broker.Start(ctx); err != nil {
		cancel()
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, s := range d.slots {
		group.Go(func() error {
			return d.serveSlot(gctx, s.port, s.ln)
		})
	}

	d.cancel = cancel
	d.group = group
	d.started = true

	d.logger.WithFields(logrus.Fields{
		"assign": d.broker.Addr(),
		"slots":  d.registry.Ports(),
	}).Info("Dispatcher started")
	return nil
}

// Stop cancels every slot loop and closes the listeners. Running
// transactions are aborted by closing their channels; Stop returns once
// their handlers have returned.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	cancel, group := d.cancel, d.group
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.closeListeners()
	err := d.broker.Stop()

	if group != nil {
		if gerr := group.Wait(); gerr != nil && err == nil {
			err = gerr
		}
	}

	d.logger.Info("Dispatcher stopped")
	return err
}

// Run starts the dispatcher and blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

func (d *Dispatcher) closeListeners() {
	for _, s := range d.slots {
		_ = s.ln.Close()
	}
}

func (d *Dispatcher) serveSlot(ctx context.Context, port int, ln net.Listener) error {
	log := d.logger.WithFields(telemetry.LabelSlot.F(port))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Error("Failed to accept connection")
			continue
		}

		d.transact(ctx, port, conn, log)
	}
}

// transact runs one handshake plus Handler on conn. Failures are logged and
// never stop the slot.
func (d *Dispatcher) transact(ctx context.Context, port int, conn net.Conn, log *logrus.Entry) {
	txn := uuid.NewString()
	log = log.WithFields(logrus.Fields{
		string(telemetry.LabelTxn):  txn,
		string(telemetry.LabelPeer): conn.RemoteAddr().String(),
	})
	slotLabel := telemetry.LabelSlot.M(strconv.Itoa(port))

	_ = conn.SetDeadline(time.Now().Add(d.config.HandshakeTimeout))

	ch, err := channel.NewServer(conn, d.config.Channel)
	if err != nil {
		d.handshakeFailed(log, port, slotLabel, err)
		return
	}
	defer func() { _ = ch.Close() }()

	abort := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer abort()

	if err := ch.Expect(protocol.MsgWhere); err != nil {
		d.handshakeFailed(log, port, slotLabel, err)
		return
	}
	if err := ch.WriteText(protocol.MsgHere); err != nil {
		d.handshakeFailed(log, port, slotLabel, err)
		return
	}
	_ = ch.SetDeadline(time.Time{})

	d.registry.Acquire(port)
	log.Debug("Transaction started")

	start := time.Now()
	err = d.invoke(ctx, ch)
	d.registry.Release(port)
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = "error"
		log.WithError(err).Warn("Transaction failed")
	} else {
		log.WithField("elapsed", elapsed.Round(time.Millisecond)).Debug("Transaction finished")
	}

	labels := []metrics.Label{slotLabel, telemetry.LabelResult.M(result)}
	d.msink.IncrCounterWithLabels(telemetry.MetricDispatcherTxn, 1, labels)
	d.msink.AddSampleWithLabels(telemetry.MetricDispatcherTxnSeconds, float32(elapsed.Seconds()), labels)
}

func (d *Dispatcher) invoke(ctx context.Context, ch *channel.Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.config.Handler(ctx, ch)
}

// handshakeFailed frees the reservation the broker made for this slot, since
// the client it was held for will not be served.
func (d *Dispatcher) handshakeFailed(log *logrus.Entry, port int, slot metrics.Label, err error) {
	d.registry.Unreserve(port)
	log.WithError(err).Debug("Handshake failed")
	d.msink.IncrCounterWithLabels(telemetry.MetricDispatcherTxn, 1,
		[]metrics.Label{slot, telemetry.LabelResult.M("handshake")})
}
