//go:build !franz

package main

import (
	"errors"
	"io"
	"testing"

	"github.com/next-trace/scg-bridge/config"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

func TestServe_KafkaNeedsFranzBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Broadcaster = "kafka"
	cfg.Transport.Kafka.Brokers = []string{"127.0.0.1:9092"}

	if err := serve(t.Context(), cfg, io.Discard, false); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}
}
