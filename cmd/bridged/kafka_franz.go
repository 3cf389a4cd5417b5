//go:build franz

package main

import (
	"github.com/next-trace/scg-bridge/adapters/kafka"
	"github.com/next-trace/scg-bridge/config"
	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
)

func openKafka(cfg config.KafkaConfig) (cbridge.Broadcaster, func(), error) {
	ad, cleanup, err := kafka.NewWithKgo(kafka.Config{
		Brokers:  cfg.Brokers,
		ClientID: cfg.ClientID,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return nil, nil, err
	}

	return ad, cleanup, nil
}
