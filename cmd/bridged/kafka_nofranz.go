//go:build !franz

package main

import (
	"fmt"

	"github.com/next-trace/scg-bridge/config"
	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

func openKafka(config.KafkaConfig) (cbridge.Broadcaster, func(), error) {
	return nil, nil, fmt.Errorf("kafka broadcaster needs a build with -tags franz: %w", berr.ErrTransportNotConfigured)
}
