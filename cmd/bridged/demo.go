package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/next-trace/scg-bridge/bridge"
	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	"github.com/next-trace/scg-bridge/stream"
)

// Heartbeat is broadcast on system:heartbeat every tick.
type Heartbeat struct {
	At       time.Time `json:"at"       msgpack:"at"`
	Sequence uint64    `json:"sequence" msgpack:"sequence"`
}

// systemController is the demo controller served by bridged.
type systemController struct {
	logger   *slog.Logger
	started  time.Time
	interval time.Duration

	beats    chan Heartbeat
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newSystemController(logger *slog.Logger, interval time.Duration) *systemController {
	return &systemController{
		logger:   logger,
		started:  time.Now(),
		interval: interval,
		beats:    make(chan Heartbeat),
		stop:     make(chan struct{}),
	}
}

// Init starts the heartbeat producer.
func (c *systemController) Init(context.Context) error {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		var seq uint64

		for {
			select {
			case <-c.stop:
				return
			case at := <-ticker.C:
				seq++

				select {
				case c.beats <- Heartbeat{At: at, Sequence: seq}:
				case <-c.stop:
					return
				}
			}
		}
	}()

	return nil
}

func (c *systemController) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()

	return nil
}

func (c *systemController) ping(_ context.Context, msg string) (string, error) {
	return "pong: " + msg, nil
}

func (c *systemController) log(ctx context.Context, msg string) error {
	c.logger.InfoContext(ctx, "system: log", "msg", msg)
	return nil
}

// uptime streams the process uptime every interval, or every tick when the interval is zero.
func (c *systemController) uptime(_ context.Context, sink *stream.Sink[string], every time.Duration) error {
	if every <= 0 {
		every = c.interval
	}

	sink.Every(every, func(context.Context) error {
		return sink.Next(fmt.Sprint(time.Since(c.started).Truncate(time.Millisecond)))
	})

	return nil
}

var systemSettings = bridge.Settings[*systemController]{
	Group: "system",
	Bridge: map[string]cbridge.Pattern{
		"ping":      cbridge.Invoke,
		"log":       cbridge.Send,
		"uptime":    cbridge.Callback,
		"heartbeat": cbridge.On,
	},
	Handlers: func(c *systemController) bridge.Handlers {
		return bridge.Handlers{
			"ping":   bridge.HandleInvoke(c.ping),
			"log":    bridge.HandleSend(c.log),
			"uptime": bridge.HandleCallback(c.uptime),
		}
	},
	Triggers: func(c *systemController) bridge.Triggers {
		return bridge.Triggers{"heartbeat": bridge.TriggerFrom(c.beats)}
	},
}

// runDemoClient exercises every member of the system group through peer until ctx is done.
func runDemoClient(ctx context.Context, peer cbridge.Peer, codec cbridge.Codec, logger *slog.Logger) error {
	surface, err := bridge.Expose(peer, codec, systemSettings.Schema())
	if err != nil {
		return err
	}

	ep := func(member string) *bridge.Endpoint {
		e, _ := surface.Endpoint("system", member)
		return e
	}

	pong, err := bridge.Cache[string, string](nil, ep("ping"), bridge.CachePolicy{TTL: time.Second}).Call(ctx, "demo")
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "demo: invoke", "reply", pong)

	if err := ep("log").Send(ctx, "hello from the demo client"); err != nil {
		return err
	}

	unsub, err := bridge.Subscribe(ctx, ep("heartbeat"), func(h Heartbeat) {
		logger.InfoContext(ctx, "demo: heartbeat", "seq", h.Sequence)
	})
	if err != nil {
		return err
	}
	defer unsub()

	sub, err := bridge.Open(ctx, ep("uptime"), time.Duration(0), func(up string) {
		logger.InfoContext(ctx, "demo: uptime", "value", up)
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-sub.Done():
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	return sub.Close(closeCtx)
}
