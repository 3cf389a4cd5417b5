package main

import (
	"log/slog"

	"github.com/next-trace/scg-bridge/adapters/inmemory"
	natsadapter "github.com/next-trace/scg-bridge/adapters/nats"
	"github.com/next-trace/scg-bridge/adapters/rabbitmq"
	"github.com/next-trace/scg-bridge/config"
	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
)

// transport is the substrate the bridge serves on and, for the in-process demo, the peer side.
type transport struct {
	host    cbridge.Host
	peer    cbridge.Peer
	cleanup func()
}

func openTransport(cfg config.TransportConfig, logger *slog.Logger) (transport, error) {
	switch cfg.Kind {
	case "nats":
		ad, cleanup, err := natsadapter.NewWithNATS(natsadapter.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			Prefix:        cfg.NATS.Prefix,
			ConnTimeout:   cfg.NATS.ConnTimeout,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, natsadapter.WithLogger(logger))
		if err != nil {
			return transport{}, err
		}

		return transport{host: ad, peer: ad, cleanup: cleanup}, nil
	default:
		p := inmemory.New()

		return transport{host: p, peer: p, cleanup: func() {}}, nil
	}
}

// openBroadcaster returns the broker On values are published to, or nil to keep the substrate.
func openBroadcaster(cfg config.TransportConfig, codec cbridge.Codec) (cbridge.Broadcaster, func(), error) {
	switch cfg.Broadcaster {
	case "rabbitmq":
		ad, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:              cfg.RabbitMQ.URL,
			ConnTimeout:      cfg.RabbitMQ.ConnTimeout,
			EventsExchange:   cfg.RabbitMQ.EventsExchange,
			CommandsExchange: cfg.RabbitMQ.CommandsExchange,
		}, rabbitmq.WithContentType("application/"+codec.Name()))
		if err != nil {
			return nil, nil, err
		}

		return ad, cleanup, nil
	case "kafka":
		return openKafka(cfg.Kafka)
	default:
		return nil, func() {}, nil
	}
}
