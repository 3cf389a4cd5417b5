package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/next-trace/scg-bridge/codec"
	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
	"github.com/next-trace/scg-bridge/stream"
)

// Bridge is the host side of the controllers: it binds their members to transport channels.
//
// Bridge is concurrency-safe and contains no global state.
type Bridge struct {
	mu sync.Mutex

	host        cbridge.Host
	broadcaster cbridge.Broadcaster
	codec       cbridge.Codec
	sessions    *stream.Registry

	groups map[string]*binding
	bound  []string
	mw     []Middleware

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	logger *slog.Logger
}

// Option configures a Bridge instance.
type Option func(*Bridge)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithCodec sets the wire codec. Defaults to codec.JSON.
func WithCodec(c cbridge.Codec) Option {
	return func(b *Bridge) {
		if c != nil {
			b.codec = c
		}
	}
}

// WithBroadcaster routes trigger values through bc instead of the host.
func WithBroadcaster(bc cbridge.Broadcaster) Option {
	return func(b *Bridge) {
		if bc != nil {
			b.broadcaster = bc
		}
	}
}

// WithSessions sets the streaming session registry. Defaults to a fresh registry.
func WithSessions(r *stream.Registry) Option {
	return func(b *Bridge) {
		if r != nil {
			b.sessions = r
		}
	}
}

// WithMiddleware registers middleware around send and invoke handlers, executed in registration order.
func WithMiddleware(mw ...Middleware) Option {
	return func(b *Bridge) { b.mw = append(b.mw, mw...) }
}

// New constructs a Bridge serving controllers on host.
func New(host cbridge.Host, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		host:   host,
		codec:  codec.JSON,
		groups: make(map[string]*binding),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}

	if host != nil {
		b.broadcaster = host
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.sessions == nil {
		b.sessions = stream.NewRegistry(stream.WithLogger(b.logger))
	}

	return b
}

// Sessions returns the streaming session registry of the callback members.
func (b *Bridge) Sessions() *stream.Registry { return b.sessions }

// Codec returns the wire codec.
func (b *Bridge) Codec() cbridge.Codec { return b.codec }

// Groups returns the bound controller groups in ascending order.
func (b *Bridge) Groups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.groups))
	for g := range b.groups {
		out = append(out, g)
	}

	slices.Sort(out)

	return out
}

// Bind validates and binds the members of one controller group. Handlers serve send, invoke and
// callback members; triggers feed on members. Nothing stays bound when Bind fails.
func (b *Bridge) Bind(controller string, schema Schema, handlers Handlers, triggers Triggers) error {
	if b.host == nil {
		return fmt.Errorf("bind %s: %w", schema.Group, berr.ErrTransportNotConfigured)
	}

	if err := checkBinding(controller, schema, handlers, triggers); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bind %s: %w", schema.Group, berr.ErrTransportNotConfigured)
	}

	if owner, ok := b.groups[schema.Group]; ok {
		return fmt.Errorf("group %q of %s is already defined by %s: %w",
			schema.Group, controller, owner.controller, berr.ErrGroupExists)
	}

	var unsubs []func()

	for _, member := range schema.memberNames() {
		h, ok := handlers[member]
		if !ok {
			continue
		}

		stop, err := h.bind(b, cbridge.ChannelKey(schema.Group, member))
		if err != nil {
			for _, u := range slices.Backward(unsubs) {
				u()
			}

			return fmt.Errorf("bind %s: %w", cbridge.ChannelKey(schema.Group, member), err)
		}

		unsubs = append(unsubs, stop)
	}

	ctx, cancel := context.WithCancel(b.ctx)
	bd := &binding{controller: controller, unsubs: unsubs, cancel: cancel}

	for _, member := range schema.memberNames() {
		tr, ok := triggers[member]
		if !ok {
			continue
		}

		key := cbridge.ChannelKey(schema.Group, member)

		bd.wg.Go(func() { tr.run(ctx, b, key) })
	}

	b.groups[schema.Group] = bd
	b.bound = append(b.bound, schema.Group)

	b.logger.Debug("bridge: controller bound", "controller", controller, "group", schema.Group,
		"handlers", len(handlers), "triggers", len(triggers))

	return nil
}

func checkBinding(controller string, schema Schema, handlers Handlers, triggers Triggers) error {
	if err := schema.validate(); err != nil {
		return fmt.Errorf("controller %s: %w", controller, err)
	}

	for member, h := range handlers {
		p, ok := schema.Members[member]
		if !ok || p != h.Pattern() {
			return fmt.Errorf("handler %s of %s is not declared as %s: %w",
				member, controller, h.Pattern(), berr.ErrInvalidPattern)
		}

		if _, dup := triggers[member]; dup {
			return fmt.Errorf("member %s of %s has both a handler and a trigger: %w", member, controller, berr.ErrHandlerExists)
		}
	}

	for member := range triggers {
		if p, ok := schema.Members[member]; !ok || p != cbridge.On {
			return fmt.Errorf("trigger %s of %s is not declared as %s: %w", member, controller, cbridge.On, berr.ErrInvalidPattern)
		}
	}

	for _, member := range schema.memberNames() {
		if schema.Members[member] == cbridge.On {
			continue
		}

		if _, ok := handlers[member]; !ok {
			return fmt.Errorf("%s member %s of %s has no handler: %w",
				schema.Members[member], member, controller, berr.ErrHandlerNotFound)
		}
	}

	return nil
}

// Emit broadcasts v to every peer on the channel of an on member.
func (b *Bridge) Emit(ctx context.Context, channel string, v any) error {
	if b.broadcaster == nil {
		return fmt.Errorf("emit %s: %w", channel, berr.ErrTransportNotConfigured)
	}

	data, err := b.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("emit %s: %w", channel, err)
	}

	if err := b.broadcaster.Broadcast(ctx, channel, data); err != nil {
		return fmt.Errorf("emit %s: %w", channel, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Unbind stops the triggers of group and removes its transport subscriptions, closing the live
// streaming sessions of its callback members. It reports false when group is not bound.
func (b *Bridge) Unbind(group string) bool {
	b.mu.Lock()
	bd, ok := b.groups[group]
	if ok {
		delete(b.groups, group)
		b.bound = slices.DeleteFunc(b.bound, func(g string) bool { return g == group })
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	bd.stop()
	b.logger.Debug("bridge: controller unbound", "controller", bd.controller, "group", group)

	return true
}

// Close stops every trigger and removes every transport subscription, which also closes the live
// streaming sessions of the callback members. Groups are released in reverse bind order. Close is
// idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	bindings := make([]*binding, 0, len(b.bound))
	for _, g := range slices.Backward(b.bound) {
		bindings = append(bindings, b.groups[g])
	}

	b.groups = make(map[string]*binding)
	b.bound = nil
	b.mu.Unlock()

	b.cancel()

	for _, bd := range bindings {
		bd.stop()
	}

	return nil
}

// binding is one bound controller group.
type binding struct {
	controller string
	unsubs     []func()
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func (bd *binding) stop() {
	bd.cancel()
	bd.wg.Wait()

	for _, u := range slices.Backward(bd.unsubs) {
		u()
	}
}
