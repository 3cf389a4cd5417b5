package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	Prefix        string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

func toHeader(headers map[string]string) nats.Header {
	if len(headers) == 0 {
		return nil
	}

	h := nats.Header{}
	for k, v := range headers {
		h.Add(k, v)
	}

	return h
}

func fromMsg(m *nats.Msg) *Msg {
	out := &Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data}

	if len(m.Header) > 0 {
		out.Headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			out.Headers[k] = m.Header.Get(k)
		}
	}

	return out
}

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: toHeader(headers)}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Subscribe(subject string, fn func(m *Msg)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) { fn(fromMsg(m)) })
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

func (c natsClient) Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*Msg, error) {
	reply, err := c.nc.RequestMsgWithContext(ctx, &nats.Msg{Subject: subject, Data: data, Header: toHeader(headers)})
	if err != nil {
		return nil, err
	}

	return fromMsg(reply), nil
}

// NewWithNATS creates a real NATS connection and returns an Adapter and a cleanup.
func NewWithNATS(cfg Config, opts ...Option) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	nopts := []nats.Option{}
	if cfg.Name != "" {
		nopts = append(nopts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		nopts = append(nopts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		nopts = append(nopts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, nopts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrTransportNotConfigured, err)
	}

	ad := New(natsClient{nc: nc}, append([]Option{WithPrefix(cfg.Prefix)}, opts...)...)
	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return ad, cleanup, nil
}
