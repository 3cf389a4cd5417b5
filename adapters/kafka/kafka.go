package kafka

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

const (
	// DefaultTopicPrefix is prepended to every topic derived from a channel key.
	DefaultTopicPrefix = "bridge."
	// HeaderChannel carries the unsanitised channel key of every record.
	HeaderChannel = "bridge-channel"
	// HeaderKind is "broadcast" or "send".
	HeaderKind = "bridge-kind"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Adapter implements cbridge.Broadcaster and cbridge.Sender using an injected Writer.
// Each channel key maps to one topic; the key is kept as record key so a group stays ordered per member.
type Adapter struct {
	Writer Writer

	prefix  string
	headers map[string]string
}

var (
	_ cbridge.Broadcaster = (*Adapter)(nil)
	_ cbridge.Sender      = (*Adapter)(nil)
)

type Option func(*Adapter)

// WithTopicPrefix replaces DefaultTopicPrefix. An empty prefix derives bare topics.
func WithTopicPrefix(p string) Option {
	return func(a *Adapter) { a.prefix = p }
}

// WithHeaders adds static headers to every record.
func WithHeaders(h map[string]string) Option {
	return func(a *Adapter) { maps.Copy(a.headers, h) }
}

// New creates a new Kafka adapter instance with the provided writer.
func New(w Writer, opts ...Option) *Adapter {
	a := &Adapter{Writer: w, prefix: DefaultTopicPrefix, headers: map[string]string{}}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Topic returns the topic a channel key is written to.
// Kafka topics only allow [a-zA-Z0-9._-], so the group separator becomes '.'.
func (a *Adapter) Topic(channel string) string {
	var sb strings.Builder

	sb.WriteString(a.prefix)

	for _, r := range channel {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		case r == ':':
			sb.WriteByte('.')
		default:
			sb.WriteByte('_')
		}
	}

	return sb.String()
}

func (a *Adapter) Broadcast(ctx context.Context, channel string, data []byte) error {
	return a.write(ctx, channel, data, "broadcast", berr.ErrPublishFailed)
}

func (a *Adapter) Send(ctx context.Context, channel string, data []byte) error {
	return a.write(ctx, channel, data, "send", berr.ErrSendFailed)
}

func (a *Adapter) write(ctx context.Context, channel string, data []byte, kind string, wrap error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka %s: %w", kind, berr.ErrTransportNotConfigured)
	}

	headers := make(map[string]string, len(a.headers)+2)
	maps.Copy(headers, a.headers)
	headers[HeaderChannel] = channel
	headers[HeaderKind] = kind

	topic := a.Topic(channel)

	if err := a.Writer.Write(ctx, topic, []byte(channel), data, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka %s to %q: %w", kind, topic, errors.Join(wrap, err))
	}

	return nil
}
