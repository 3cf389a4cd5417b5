//go:build franz

package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	berr "github.com/next-trace/scg-bridge/contract/errors"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Config struct {
	Brokers     []string
	TLS         *tls.Config
	Acks        kgo.Acks
	Idempotent  bool
	ClientID    string
	Compression kgo.CompressionCodec
	// Topic prefix, DefaultTopicPrefix when empty.
	Prefix string
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config, opts ...Option) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("kafka brokers required: %w", berr.ErrTransportNotConfigured)
	}

	kopts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...), kgo.AllowAutoTopicCreation()}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		kopts = append(kopts, kgo.DialTLSConfig(cfg.TLS))
	}

	if !cfg.Idempotent {
		kopts = append(kopts, kgo.DisableIdempotentWrite())
	}

	if cfg.Compression != (kgo.CompressionCodec{}) {
		kopts = append(kopts, kgo.ProducerBatchCompression(cfg.Compression))
	}

	if cfg.Acks != (kgo.Acks{}) {
		kopts = append(kopts, kgo.RequiredAcks(cfg.Acks))
	}

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client init: %w", err)
	}

	if cfg.Prefix != "" {
		opts = append([]Option{WithTopicPrefix(cfg.Prefix)}, opts...)
	}

	return New(kgoWriter{cl: cl}, opts...), cl.Close, nil
}
