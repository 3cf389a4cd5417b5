package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Header names of the port protocol.
const (
	HeaderPortID     = "Bridge-Port-Id"
	HeaderPortInbox  = "Bridge-Port-Inbox"
	HeaderPortClosed = "Bridge-Port-Closed"
	HeaderError      = "Bridge-Error"
)

const defaultPrefix = "bridge"

// Msg is a transport message as seen by the adapter.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
	Headers map[string]string
}

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe delivers every message published on subject to fn.
	Subscribe(subject string, fn func(m *Msg)) (unsubscribe func() error, err error)
	// Request publishes a message with a reply inbox and waits for the first reply.
	Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*Msg, error)
}

// Adapter implements both cbridge.Host and cbridge.Peer using an injected NATS-like Client.
// Channels map to subjects "<prefix>.<channel>".
type Adapter struct {
	Client Client

	prefix string
	logger *slog.Logger
}

// Ensure Adapter implements both sides of the substrate.
var (
	_ cbridge.Host = (*Adapter)(nil)
	_ cbridge.Peer = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithPrefix sets the subject prefix. Defaults to "bridge".
func WithPrefix(p string) Option {
	return func(a *Adapter) {
		if p != "" {
			a.prefix = p
		}
	}
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates a new NATS adapter instance with the provided client.
func New(c Client, opts ...Option) *Adapter {
	a := &Adapter{Client: c, prefix: defaultPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Subject returns the subject of a channel.
func (a *Adapter) Subject(channel string) string { return a.prefix + "." + channel }

func (a *Adapter) inbox() string { return a.prefix + "_PORT." + uuid.NewString() }

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, berr.ErrTransportNotConfigured)
	}

	return nil
}

func (a *Adapter) subscribe(subject string, fn func(m *Msg)) (func(), error) {
	unsub, err := a.Client.Subscribe(subject, fn)
	if err != nil {
		return nil, err
	}

	return func() {
		if err := unsub(); err != nil {
			a.logger.Debug("nats: unsubscribe failed", "subject", subject, "err", err)
		}
	}, nil
}

func (a *Adapter) publish(label string, wrap error, subject string, data []byte, headers map[string]string) error {
	if err := a.Client.Publish(subject, data, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats %s %s: %w", label, subject, errors.Join(wrap, err))
	}

	return nil
}

// Host side.

func (a *Adapter) Listen(channel string, fn func(context.Context, []byte)) (func(), error) {
	if err := a.ready(context.Background(), "listen"); err != nil {
		return nil, err
	}

	return a.subscribe(a.Subject(channel), func(m *Msg) { fn(context.Background(), m.Data) })
}

// Respond answers requests on channel. Handler errors travel back in the Bridge-Error header.
func (a *Adapter) Respond(channel string, fn func(context.Context, []byte) ([]byte, error)) (func(), error) {
	if err := a.ready(context.Background(), "respond"); err != nil {
		return nil, err
	}

	return a.subscribe(a.Subject(channel), func(m *Msg) {
		if m.Reply == "" {
			return
		}

		data, err := fn(context.Background(), m.Data)

		var headers map[string]string
		if err != nil {
			data, headers = nil, map[string]string{HeaderError: err.Error()}
		}

		if err := a.publish("respond", berr.ErrPublishFailed, m.Reply, data, headers); err != nil {
			a.logger.Warn("nats: reply failed", "channel", channel, "err", err)
		}
	})
}

func (a *Adapter) Broadcast(ctx context.Context, channel string, data []byte) error {
	if err := a.ready(ctx, "broadcast"); err != nil {
		return err
	}

	return a.publish("broadcast", berr.ErrPublishFailed, a.Subject(channel), data, nil)
}

// AcceptPorts accepts port open requests on channel. A request carries the peer's inbox and
// session id in its headers; the host posts to the inbox and learns about the peer's close on
// "<inbox>.close". The reply acknowledges the port, or carries the rejection in Bridge-Error.
func (a *Adapter) AcceptPorts(channel string, fn func(context.Context, cbridge.Port) error) (func(), error) {
	if err := a.ready(context.Background(), "accept ports"); err != nil {
		return nil, err
	}

	return a.subscribe(a.Subject(channel), func(m *Msg) {
		a.ack(channel, m, a.acceptPort(channel, m, fn))
	})
}

func (a *Adapter) acceptPort(channel string, m *Msg, fn func(context.Context, cbridge.Port) error) error {
	inbox := m.Headers[HeaderPortInbox]

	id, err := strconv.ParseUint(m.Headers[HeaderPortID], 10, 64)
	if inbox == "" || err != nil {
		a.logger.Warn("nats: malformed port request", "channel", channel)
		return fmt.Errorf("malformed port request on %s: %w", channel, berr.ErrInvalidPattern)
	}

	p := &port{a: a, id: id, input: m.Data, inbox: inbox}

	stop, err := a.subscribe(inbox+".close", func(*Msg) { p.peerClose() })
	if err != nil {
		a.logger.Warn("nats: port close subscription failed", "channel", channel, "err", err)
		return fmt.Errorf("port %s#%d: %w", channel, id, err)
	}

	p.stop = stop

	if err := fn(context.Background(), p); err != nil {
		if p.markClosed() {
			p.stop()
		}

		return err
	}

	return nil
}

func (a *Adapter) ack(channel string, m *Msg, err error) {
	if m.Reply == "" {
		return
	}

	var headers map[string]string
	if err != nil {
		headers = map[string]string{HeaderError: err.Error()}
	}

	if err := a.publish("ack port", berr.ErrPublishFailed, m.Reply, nil, headers); err != nil {
		a.logger.Warn("nats: port ack failed", "channel", channel, "err", err)
	}
}

var errPortClosed = fmt.Errorf("port closed: %w", berr.ErrSendFailed)

type port struct {
	a     *Adapter
	id    uint64
	input []byte
	inbox string
	stop  func()

	mu         sync.Mutex
	closed     bool
	peerClosed bool
	listeners  []func()
}

func (p *port) ID() uint64    { return p.id }
func (p *port) Input() []byte { return p.input }

func (p *port) Post(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return errPortClosed
	}

	return p.a.publish("post", berr.ErrSendFailed, p.inbox, data, nil)
}

// Close closes the port from the host side and tells the peer.
func (p *port) Close() error {
	if !p.markClosed() {
		return nil
	}

	p.stop()

	return p.a.publish("close port", berr.ErrSendFailed, p.inbox, nil, map[string]string{HeaderPortClosed: "1"})
}

func (p *port) OnClose(fn func()) {
	p.mu.Lock()
	if !p.closed {
		p.listeners = append(p.listeners, fn)
		p.mu.Unlock()

		return
	}

	peerClosed := p.peerClosed
	p.mu.Unlock()

	if peerClosed {
		fn()
	}
}

func (p *port) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	p.closed = true

	return true
}

func (p *port) peerClose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	p.peerClosed = true
	listeners := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	p.stop()

	for _, fn := range listeners {
		fn()
	}
}

// Peer side.

func (a *Adapter) Send(ctx context.Context, channel string, data []byte) error {
	if err := a.ready(ctx, "send"); err != nil {
		return err
	}

	return a.publish("send", berr.ErrSendFailed, a.Subject(channel), data, nil)
}

func (a *Adapter) Invoke(ctx context.Context, channel string, data []byte) ([]byte, error) {
	if err := a.ready(ctx, "invoke"); err != nil {
		return nil, err
	}

	reply, err := a.Client.Request(ctx, a.Subject(channel), data, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("nats invoke %s: %w", channel, errors.Join(berr.ErrInvokeFailed, err))
	}

	if msg, ok := reply.Headers[HeaderError]; ok {
		return nil, fmt.Errorf("nats invoke %s: %s: %w", channel, msg, berr.ErrInvokeFailed)
	}

	return reply.Data, nil
}

func (a *Adapter) Subscribe(channel string, fn func([]byte)) (func(), error) {
	if err := a.ready(context.Background(), "subscribe"); err != nil {
		return nil, err
	}

	return a.subscribe(a.Subject(channel), func(m *Msg) { fn(m.Data) })
}

// OpenPort subscribes a fresh inbox for the host's traffic and requests the port; it fails when the
// host rejects it. The returned detach unsubscribes the inbox and tells the host on "<inbox>.close".
func (a *Adapter) OpenPort(ctx context.Context, channel string, id uint64, input []byte, ev cbridge.PortEvents) (func(), error) {
	if err := a.ready(ctx, "open port"); err != nil {
		return nil, err
	}

	inbox := a.inbox()

	var (
		once sync.Once
		stop func()
	)

	release := func() bool {
		done := false
		once.Do(func() {
			done = true

			if stop != nil {
				stop()
			}
		})

		return done
	}

	stop, err := a.subscribe(inbox, func(m *Msg) {
		if m.Headers[HeaderPortClosed] == "1" {
			if release() && ev.Closed != nil {
				ev.Closed()
			}

			return
		}

		if ev.Data != nil {
			ev.Data(m.Data)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats open port %s: %w", channel, errors.Join(berr.ErrSendFailed, err))
	}

	headers := map[string]string{
		HeaderPortID:    strconv.FormatUint(id, 10),
		HeaderPortInbox: inbox,
	}

	reply, err := a.Client.Request(ctx, a.Subject(channel), input, headers)
	if err != nil {
		release()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("nats open port %s#%d: %w", channel, id, errors.Join(berr.ErrSendFailed, err))
	}

	if msg, ok := reply.Headers[HeaderError]; ok {
		release()
		return nil, fmt.Errorf("nats open port %s#%d rejected: %s: %w", channel, id, msg, berr.ErrSendFailed)
	}

	return func() {
		if release() {
			if err := a.publish("detach port", berr.ErrSendFailed, inbox+".close", nil, nil); err != nil {
				a.logger.Debug("nats: detach notify failed", "channel", channel, "err", err)
			}
		}
	}, nil
}
