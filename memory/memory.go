// Package memory wires a service registry and a bridge over one in-process pipe, so controllers and the code
// calling them can live in the same process (tests, single-binary tools).
package memory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/next-trace/scg-bridge/adapters/inmemory"
	"github.com/next-trace/scg-bridge/bridge"
	"github.com/next-trace/scg-bridge/registry"
)

// Runtime is the composed registry, bridge and pipe.
type Runtime struct {
	Registry *registry.Registry
	Bridge   *bridge.Bridge
	Pipe     *inmemory.Pipe
}

type options struct {
	logger *slog.Logger
	reg    []registry.Option
	bridge []bridge.Option
}

type Option func(*options)

// WithLogger sets the logger of both the registry and the bridge.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *options) { o.reg = append(o.reg, opts...) }
}

func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(o *options) { o.bridge = append(o.bridge, opts...) }
}

// New constructs the runtime along with a cleanup function that closes the bridge and disposes the registry.
func New(opts ...Option) (*Runtime, func()) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger != nil {
		o.reg = append([]registry.Option{registry.WithLogger(o.logger)}, o.reg...)
		o.bridge = append([]bridge.Option{bridge.WithLogger(o.logger)}, o.bridge...)
	}

	pipe := inmemory.New()
	rt := &Runtime{
		Registry: registry.New(o.reg...),
		Bridge:   bridge.New(pipe, o.bridge...),
		Pipe:     pipe,
	}

	cleanup := func() { _ = rt.Close() }

	return rt, cleanup
}

// Register registers controller and service descriptors on the runtime's registry.
func (rt *Runtime) Register(ctx context.Context, descs ...registry.Descriptor) error {
	return rt.Registry.Register(ctx, descs...)
}

// Expose builds a peer surface over the pipe using the bridge's codec.
func (rt *Runtime) Expose(schemas ...bridge.Schema) (bridge.Surface, error) {
	return bridge.Expose(rt.Pipe, rt.Bridge.Codec(), schemas...)
}

// Close stops triggers and sessions before disposing services, so no handler runs on a closed instance.
func (rt *Runtime) Close() error {
	return errors.Join(rt.Bridge.Close(), rt.Registry.Dispose())
}
