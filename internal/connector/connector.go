// Package connector is the client side of the rendezvous. It asks a broker
// "where", follows the redirect chain and hands back a Channel to the slot
// that finally answers "here".
package connector

import (
	"context"
	"errors"
	"time"

	"github.com/SlappyBacon/pico/internal/broker"
	"github.com/SlappyBacon/pico/internal/channel"
	"github.com/SlappyBacon/pico/internal/logger"
	"github.com/SlappyBacon/pico/internal/protocol"
	"github.com/SlappyBacon/pico/internal/telemetry"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxHops          = 8
	DefaultMaxRetryInterval = 5 * time.Second
)

type Config struct {
	Channel          channel.Options
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	// MaxHops is the number of redirects followed before giving up.
	MaxHops int
	// MaxRetries is how often an "unknown" reply is retried. Zero means
	// "unknown" is final.
	MaxRetries       int
	MaxRetryInterval time.Duration
	Logger           *logrus.Logger
}

type Connector struct {
	config Config
	logger *logrus.Logger
}

func New(cfg Config) *Connector {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = DefaultMaxRetryInterval
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	return &Connector{config: cfg, logger: log}
}

// Connect resolves addr to a serve slot and returns the established
// Channel. The returned error is one of the protocol kinds: a connection
// failure, a handshake mismatch, or exhaustion (no slot and no mirror, or
// too many redirects).
func (c *Connector) Connect(ctx context.Context, addr string) (*channel.Channel, error) {
	ch, _, err := c.connect(ctx, addr)
	return ch, err
}

// Resolve follows the redirect chain from addr and returns the address of
// the slot that answered "here". The slot's connection is closed.
func (c *Connector) Resolve(ctx context.Context, addr string) (string, error) {
	ch, final, err := c.connect(ctx, addr)
	if err != nil {
		return "", err
	}
	_ = ch.Close()
	return final, nil
}

// Status asks the broker at addr for its slot table.
func (c *Connector) Status(ctx context.Context, addr string) (broker.Status, error) {
	ch, err := c.dial(ctx, addr)
	if err != nil {
		return broker.Status{}, err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.WriteText(protocol.MsgStatus); err != nil {
		return broker.Status{}, err
	}
	data, err := ch.ReadByteArray()
	if err != nil {
		return broker.Status{}, err
	}

	status, err := broker.DecodeStatus(data)
	if err != nil {
		return broker.Status{}, protocol.NewError(protocol.KindProtocol, "status", err)
	}
	return status, nil
}

func (c *Connector) connect(ctx context.Context, addr string) (*channel.Channel, string, error) {
	b := &backoff.Backoff{Max: c.config.MaxRetryInterval, Jitter: true}

	for {
		ch, final, err := c.resolve(ctx, addr)
		if err == nil {
			return ch, final, nil
		}

		if !retryable(err) {
			return nil, "", err
		}
		attempt := int(b.Attempt())
		if attempt >= c.config.MaxRetries {
			return nil, "", err
		}

		d := b.Duration()
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"max":     c.config.MaxRetries,
		}).Infof("No free slot at %s, retrying in %s", addr, d)

		select {
		case <-ctx.Done():
			return nil, "", protocol.NewError(protocol.KindConnection, "connect "+addr, ctx.Err())
		case <-time.After(d):
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, protocol.ErrExhausted) && !errors.Is(err, protocol.ErrTooManyHops)
}

// resolve follows redirects from addr until an endpoint answers "here".
func (c *Connector) resolve(ctx context.Context, addr string) (*channel.Channel, string, error) {
	for hop := 0; hop <= c.config.MaxHops; hop++ {
		log := c.logger.WithFields(logrus.Fields{
			string(telemetry.LabelHop):  hop,
			string(telemetry.LabelPeer): addr,
		})

		ch, redirect, err := c.ask(ctx, addr)
		if err != nil {
			log.WithError(err).Debug("Handshake failed")
			return nil, "", err
		}
		log.WithFields(telemetry.LabelReply.F(redirect.String())).Debug("Got reply")

		switch redirect.Kind {
		case protocol.RedirectHere:
			_ = ch.SetDeadline(time.Time{})
			return ch, addr, nil

		case protocol.RedirectUnknown:
			_ = ch.Close()
			return nil, "", protocol.Errorf(protocol.KindExhausted, "resolve", "%s has no free slot and no mirror", addr)

		default:
			_ = ch.Close()
			next, err := redirect.Target(addr)
			if err != nil {
				return nil, "", err
			}
			addr = next
		}
	}

	return nil, "", protocol.ErrTooManyHops
}

// ask dials addr, sends "where" and parses the reply. On success the
// channel is still open with the handshake deadline set.
func (c *Connector) ask(ctx context.Context, addr string) (*channel.Channel, protocol.Redirect, error) {
	ch, err := c.dial(ctx, addr)
	if err != nil {
		return nil, protocol.Redirect{}, err
	}

	if err := ch.WriteText(protocol.MsgWhere); err != nil {
		_ = ch.Close()
		return nil, protocol.Redirect{}, err
	}
	reply, err := ch.ReadText()
	if err != nil {
		_ = ch.Close()
		return nil, protocol.Redirect{}, err
	}

	redirect, err := protocol.ParseRedirect(reply)
	if err != nil {
		_ = ch.Close()
		return nil, protocol.Redirect{}, err
	}
	return ch, redirect, nil
}

func (c *Connector) dial(ctx context.Context, addr string) (*channel.Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	ch, err := channel.Dial(dialCtx, addr, c.config.Channel)
	if err != nil {
		return nil, err
	}
	_ = ch.SetDeadline(time.Now().Add(c.config.HandshakeTimeout))
	return ch, nil
}
