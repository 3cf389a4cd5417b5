package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"maps"

	amqp "github.com/rabbitmq/amqp091-go"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

const (
	// DefaultEventsExchange receives broadcasts, routed by channel key.
	DefaultEventsExchange = "bridge.events"
	// DefaultCommandsExchange receives fire-and-forget sends, routed by channel key.
	DefaultCommandsExchange = "bridge.commands"
	// HeaderChannel carries the channel key of every published message.
	HeaderChannel = "bridge-channel"
)

type PubMsg struct {
	Exchange    string
	RoutingKey  string
	Body        []byte
	Headers     map[string]string
	ContentType string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// HeaderPropagator injects context values (trace ids, tenants) into outgoing headers.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// Adapter implements cbridge.Broadcaster and cbridge.Sender on top of an AMQP publisher.
type Adapter struct {
	Publisher  Publisher
	Propagator HeaderPropagator // optional, for context propagation into headers

	events      string
	commands    string
	contentType string
}

var (
	_ cbridge.Broadcaster = (*Adapter)(nil)
	_ cbridge.Sender      = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithExchanges overrides the exchange names. Empty names keep the defaults.
func WithExchanges(events, commands string) Option {
	return func(a *Adapter) {
		if events != "" {
			a.events = events
		}

		if commands != "" {
			a.commands = commands
		}
	}
}

// WithPropagator configures a HeaderPropagator for context propagation.
func WithPropagator(hp HeaderPropagator) Option {
	return func(a *Adapter) { a.Propagator = hp }
}

// WithContentType sets the content type of published messages, e.g. "application/msgpack".
func WithContentType(ct string) Option {
	return func(a *Adapter) {
		if ct != "" {
			a.contentType = ct
		}
	}
}

func New(p Publisher, opts ...Option) *Adapter {
	a := &Adapter{
		Publisher:   p,
		events:      DefaultEventsExchange,
		commands:    DefaultCommandsExchange,
		contentType: "application/json",
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Broadcast publishes data on the events exchange with the channel key as routing key.
func (a *Adapter) Broadcast(ctx context.Context, channel string, data []byte) error {
	return a.publish(ctx, &publishArgs{
		exchange: a.events,
		channel:  channel,
		body:     data,
		wrap:     berr.ErrPublishFailed,
		label:    "broadcast",
	})
}

// Send publishes data on the commands exchange with the channel key as routing key.
func (a *Adapter) Send(ctx context.Context, channel string, data []byte) error {
	return a.publish(ctx, &publishArgs{
		exchange: a.commands,
		channel:  channel,
		body:     data,
		wrap:     berr.ErrSendFailed,
		label:    "send",
	})
}

type publishArgs struct {
	exchange string
	channel  string
	body     []byte
	headers  map[string]string
	wrap     error
	label    string
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq %s: %w", label, berr.ErrTransportNotConfigured)
	}

	return nil
}

func (a *Adapter) publish(ctx context.Context, args *publishArgs) error {
	if err := a.ready(ctx, args.label); err != nil {
		return err
	}

	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(args.headers)+4)
	maps.Copy(hdrs, args.headers)
	hdrs[HeaderChannel] = args.channel

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:    args.exchange,
		RoutingKey:  args.channel,
		Body:        args.body,
		Headers:     hdrs,
		ContentType: a.contentType,
	}
	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq %s %s: %w", args.label, args.channel, errors.Join(args.wrap, err))
	}

	return nil
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	h := amqp.Table{}
	for k, v := range headers {
		h[k] = v
	}

	return h
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			Headers:     toTable(m.Headers),
			Body:        m.Body,
			ContentType: m.ContentType,
		},
	)
}

// NewWithAMQPChannel wraps an existing channel. The exchanges must already be declared.
func NewWithAMQPChannel(ch *amqp.Channel, opts ...Option) *Adapter {
	return New(amqpChannelPublisher{ch: ch}, opts...)
}
