package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Concrete AMQP connection-backed constructor and publisher wrapper with auto-reconnect.

type Config struct {
	URL              string
	ConnTimeout      time.Duration
	EventsExchange   string
	CommandsExchange string
}

func (c Config) exchanges() (events, commands string) {
	events, commands = c.EventsExchange, c.CommandsExchange
	if events == "" {
		events = DefaultEventsExchange
	}

	if commands == "" {
		commands = DefaultCommandsExchange
	}

	return events, commands
}

type reconnectingPublisher struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed when a channel is ready
}

func newReconnectingPublisher(cfg Config) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rp.run()
	cleanup := func() { rp.close() }
	return rp, cleanup
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	// Fast path: ensure channel available
	rp.mu.RLock()
	ch, ready := rp.ch, rp.ready
	rp.mu.RUnlock()
	if ch == nil {
		// Wait for readiness or context cancellation
		select {
		case <-ready:
		case <-rp.closed:
			return fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrTransportNotConfigured)
		case <-ctx.Done():
			return ctx.Err()
		}
		rp.mu.RLock()
		ch = rp.ch
		rp.mu.RUnlock()
		if ch == nil {
			return fmt.Errorf("%w: rabbitmq not connected", berr.ErrPublishFailed)
		}
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			Headers:     toTable(m.Headers),
			ContentType: m.ContentType,
			Body:        m.Body,
		},
	)
}

func (rp *reconnectingPublisher) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(rp.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-bridge"},
		Dial:       amqp.DefaultDial(rp.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	events, commands := rp.cfg.exchanges()

	for _, ex := range []struct{ name, kind string }{{events, amqp.ExchangeTopic}, {commands, amqp.ExchangeDirect}} {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
	}

	return conn, ch, nil
}

func (rp *reconnectingPublisher) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := rp.dial()
		if err != nil {
			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := min(backoff+jitter/2, maxBackoff)
			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = time.Second

		rp.mu.Lock()
		rp.conn = conn
		rp.ch = ch
		close(rp.ready)
		rp.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			_ = ch.Close()
			_ = conn.Close()
			return
		case <-notify:
			_ = ch.Close()
			_ = conn.Close()

			rp.mu.Lock()
			rp.conn, rp.ch = nil, nil
			rp.ready = make(chan struct{})
			rp.mu.Unlock()
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	select {
	case <-rp.closed:
		// already closed
		return
	default:
		close(rp.closed)
	}
	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}
	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, declares the bridge exchanges, and returns Adapter and cleanup.
func NewWithAMQPConn(cfg Config, opts ...Option) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportNotConfigured)
	}
	pub, cleanup := newReconnectingPublisher(cfg)
	events, commands := cfg.exchanges()
	ad := New(pub, append([]Option{WithExchanges(events, commands)}, opts...)...)
	return ad, cleanup, nil
}
