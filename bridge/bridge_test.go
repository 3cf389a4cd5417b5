package bridge_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/next-trace/scg-bridge/adapters/inmemory"
	"github.com/next-trace/scg-bridge/bridge"
	"github.com/next-trace/scg-bridge/codec"
	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
	"github.com/next-trace/scg-bridge/registry"
	"github.com/next-trace/scg-bridge/stream"
)

type config struct {
	Theme string `json:"theme"`
}

type exampleController struct {
	mu      sync.Mutex
	logs    []string
	calls   atomic.Int32
	changes chan config
}

func newExample() (*exampleController, error) {
	return &exampleController{changes: make(chan config)}, nil
}

func (c *exampleController) info(_ context.Context, msg string) error {
	c.mu.Lock()
	c.logs = append(c.logs, msg)
	c.mu.Unlock()

	return nil
}

func (c *exampleController) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.logs)
}

func (c *exampleController) getConfig(_ context.Context, key string) (config, error) {
	c.calls.Add(1)

	if key == "broken" {
		return config{}, errors.New("no such config")
	}

	return config{Theme: key}, nil
}

func (c *exampleController) ticks(_ context.Context, sink *stream.Sink[int], from int) error {
	for i := range 3 {
		if err := sink.Next(from + i); err != nil {
			return err
		}
	}

	return nil
}

var exampleSettings = bridge.Settings[*exampleController]{
	Group: "example",
	Bridge: map[string]cbridge.Pattern{
		"info":      cbridge.Send,
		"getConfig": cbridge.Invoke,
		"ticks":     cbridge.Callback,
		"changes":   cbridge.On,
	},
	Handlers: func(c *exampleController) bridge.Handlers {
		return bridge.Handlers{
			"info":      bridge.HandleSend(c.info),
			"getConfig": bridge.HandleInvoke(c.getConfig),
			"ticks":     bridge.HandleCallback(c.ticks),
		}
	},
	Triggers: func(c *exampleController) bridge.Triggers {
		return bridge.Triggers{"changes": bridge.TriggerFrom(c.changes)}
	},
}

type fixture struct {
	pipe    *inmemory.Pipe
	bridge  *bridge.Bridge
	ctrl    *exampleController
	surface bridge.Surface
}

func setup(t *testing.T, opts ...bridge.Option) *fixture {
	t.Helper()

	pipe := inmemory.New()
	b := bridge.New(pipe, opts...)
	reg := registry.New()

	t.Cleanup(func() {
		_ = b.Close()
		_ = reg.Dispose()
	})

	if err := reg.Register(t.Context(), bridge.Define(b, registry.Provide(newExample), exampleSettings)); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctrl, err := registry.Resolve[*exampleController](t.Context(), reg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	surface, err := bridge.Expose(pipe, codec.JSON, exampleSettings.Schema())
	if err != nil {
		t.Fatalf("expose: %v", err)
	}

	return &fixture{pipe: pipe, bridge: b, ctrl: ctrl, surface: surface}
}

func (f *fixture) endpoint(t *testing.T, member string) *bridge.Endpoint {
	t.Helper()

	e, ok := f.surface.Endpoint("example", member)
	if !ok {
		t.Fatalf("member %s not exposed", member)
	}

	return e
}

func TestSendAndInvoke(t *testing.T) {
	f := setup(t)

	if err := f.endpoint(t, "info").Send(t.Context(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := f.ctrl.Logs(); !slices.Equal(got, []string{"hello"}) {
		t.Fatalf("logs=%v", got)
	}

	cfg, err := bridge.Call[string, config](t.Context(), f.endpoint(t, "getConfig"), "dark")
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	if cfg.Theme != "dark" {
		t.Fatalf("cfg=%+v", cfg)
	}

	_, err = bridge.Call[string, config](t.Context(), f.endpoint(t, "getConfig"), "broken")
	if !errors.Is(err, berr.ErrInvokeFailed) {
		t.Fatalf("want ErrInvokeFailed, got %v", err)
	}

	if got := f.bridge.Groups(); !slices.Equal(got, []string{"example"}) {
		t.Fatalf("groups=%v", got)
	}
}

func TestEndpoint_WrongPattern(t *testing.T) {
	f := setup(t)

	if err := f.endpoint(t, "getConfig").Send(t.Context(), "x"); !errors.Is(err, berr.ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}

	if _, err := bridge.Open[int, int](t.Context(), f.endpoint(t, "info"), 0, func(int) {}); !errors.Is(err, berr.ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}

	if _, err := f.endpoint(t, "ticks").Listen(func([]byte) {}); !errors.Is(err, berr.ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}
}

func TestTrigger_BroadcastsWithDefault(t *testing.T) {
	f := setup(t)

	got := make(chan config, 4)

	unsubscribe, err := bridge.Subscribe(t.Context(), f.endpoint(t, "changes"), func(c config) { got <- c },
		bridge.Default(config{Theme: "default"}),
		bridge.InitFrom[string, config](f.endpoint(t, "getConfig"), "initial"),
	)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.ctrl.changes <- config{Theme: "pushed"}

	for _, want := range []string{"default", "initial", "pushed"} {
		select {
		case c := <-got:
			if c.Theme != want {
				t.Fatalf("want %s, got %s", want, c.Theme)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	unsubscribe()

	if n := f.pipe.Subscriptions("example:changes"); n != 0 {
		t.Fatalf("subscriptions left: %d", n)
	}
}

func TestOpen_StreamAndClose(t *testing.T) {
	f := setup(t)

	var (
		mu     sync.Mutex
		values []int
	)

	sub, err := bridge.Open(t.Context(), f.endpoint(t, "ticks"), 10, func(v int) {
		mu.Lock()
		values = append(values, v)
		mu.Unlock()
	}, bridge.Default(-1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if sub.ID() != 0 {
		t.Fatalf("first session id must be 0, got %d", sub.ID())
	}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(values) == 4
	})

	mu.Lock()
	if !slices.Equal(values, []int{-1, 10, 11, 12}) {
		t.Fatalf("values=%v", values)
	}
	mu.Unlock()

	if n := f.bridge.Sessions().Len("example:ticks"); n != 1 {
		t.Fatalf("want 1 live session, got %d", n)
	}

	if err := sub.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := sub.Close(t.Context()); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case <-sub.Done():
	default:
		t.Fatalf("done must be closed")
	}

	if n := f.bridge.Sessions().Len("example:ticks"); n != 0 {
		t.Fatalf("session must be closed, %d live", n)
	}

	second, err := bridge.Open(t.Context(), f.endpoint(t, "ticks"), 0, func(int) {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if second.ID() != 1 {
		t.Fatalf("ids must not be reused, got %d", second.ID())
	}
}

func TestOpen_TwoPeersOnOneHost(t *testing.T) {
	f := setup(t)

	other, err := bridge.Expose(f.pipe, codec.JSON, exampleSettings.Schema())
	if err != nil {
		t.Fatalf("expose: %v", err)
	}

	otherTicks, _ := other.Endpoint("example", "ticks")

	first, err := bridge.Open(t.Context(), f.endpoint(t, "ticks"), 0, func(int) {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// both surfaces count from 0, so the host already has this id
	if _, err := bridge.Open(t.Context(), otherTicks, 0, func(int) {}); !errors.Is(err, berr.ErrSessionExists) {
		t.Fatalf("want ErrSessionExists, got %v", err)
	}

	second, err := bridge.Open(t.Context(), otherTicks, 0, func(int) {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if second.ID() != 1 {
		t.Fatalf("want id 1, got %d", second.ID())
	}

	if err := second.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if n := f.bridge.Sessions().Len("example:ticks"); n != 1 {
		t.Fatalf("closing one peer must leave the other live, %d live", n)
	}

	select {
	case <-first.Done():
		t.Fatalf("first subscription must stay open")
	default:
	}

	if err := first.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if n := f.bridge.Sessions().Len("example:ticks"); n != 0 {
		t.Fatalf("want no live sessions, got %d", n)
	}
}

func TestOpen_HostCloseEndsSubscription(t *testing.T) {
	f := setup(t)

	sub, err := bridge.Open(t.Context(), f.endpoint(t, "ticks"), 0, func(int) {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	eventually(t, func() bool { return f.bridge.Sessions().Len("example:ticks") == 1 })

	if !f.bridge.Sessions().Close("example:ticks", sub.ID()) {
		t.Fatalf("host close must find the session")
	}

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription must observe the host close")
	}
}

func TestClose_ReleasesTransport(t *testing.T) {
	f := setup(t)

	sub, err := bridge.Open(t.Context(), f.endpoint(t, "ticks"), 0, func(int) {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := f.bridge.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, ch := range []string{"example:info", "example:getConfig", "example:ticks", "example:ticks:__close"} {
		if n := f.pipe.Subscriptions(ch); n != 0 {
			t.Fatalf("%s still has %d subscriptions", ch, n)
		}
	}

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("live sessions must close with the bridge")
	}

	// the trigger goroutine is gone: nobody receives anymore
	select {
	case f.ctrl.changes <- config{}:
		t.Fatalf("trigger must be stopped")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMiddleware_Order(t *testing.T) {
	var (
		mu    sync.Mutex
		trail []string
	)

	mark := func(name string) bridge.Middleware {
		return func(next bridge.HandlerFunc) bridge.HandlerFunc {
			return func(ctx context.Context, call bridge.Invocation) (any, error) {
				mu.Lock()
				trail = append(trail, name+":"+call.Channel+":"+call.Pattern.String())
				mu.Unlock()

				return next(ctx, call)
			}
		}
	}

	f := setup(t, bridge.WithMiddleware(mark("outer"), mark("inner")))

	if err := f.endpoint(t, "info").Send(t.Context(), "x"); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := []string{"outer:example:info:send", "inner:example:info:send"}
	if !slices.Equal(trail, want) {
		t.Fatalf("trail=%v", trail)
	}
}

func TestDefine_DuplicateGroup(t *testing.T) {
	pipe := inmemory.New()
	b := bridge.New(pipe)
	reg := registry.New()

	type other struct{ *exampleController }

	otherSettings := bridge.Settings[*other]{
		Group:  "example",
		Bridge: map[string]cbridge.Pattern{"ping": cbridge.Send},
		Handlers: func(*other) bridge.Handlers {
			return bridge.Handlers{"ping": bridge.HandleSend(func(context.Context, struct{}) error { return nil })}
		},
	}

	err := reg.Register(t.Context(),
		bridge.Define(b, registry.Provide(newExample), exampleSettings),
		bridge.Define(b, registry.Provide(func() (*other, error) { return &other{}, nil }), otherSettings),
	)
	if !errors.Is(err, berr.ErrGroupExists) {
		t.Fatalf("want ErrGroupExists, got %v", err)
	}

	if g := b.Groups(); len(g) != 0 {
		t.Fatalf("failed batch must leave nothing bound, got %v", g)
	}

	for _, ch := range []string{"example:info", "example:getConfig", "example:ticks"} {
		if n := pipe.Subscriptions(ch); n != 0 {
			t.Fatalf("%s still has %d subscriptions", ch, n)
		}
	}

	if err := reg.Register(t.Context(), bridge.Define(b, registry.Provide(newExample), exampleSettings)); err != nil {
		t.Fatalf("group must be free again: %v", err)
	}

	if !slices.Equal(b.Groups(), []string{"example"}) {
		t.Fatalf("groups=%v", b.Groups())
	}
}

func TestUnbind(t *testing.T) {
	f := setup(t)

	sub, err := bridge.Open(t.Context(), f.endpoint(t, "ticks"), 0, func(int) {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if !f.bridge.Unbind("example") {
		t.Fatalf("bound group must unbind")
	}

	if f.bridge.Unbind("example") {
		t.Fatalf("second unbind must report false")
	}

	if n := f.pipe.Subscriptions("example:info"); n != 0 {
		t.Fatalf("example:info still has %d subscriptions", n)
	}

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("live sessions must close with their group")
	}

	select {
	case f.ctrl.changes <- config{}:
		t.Fatalf("trigger must be stopped")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDefine_InvalidBindings(t *testing.T) {
	noop := bridge.HandleSend(func(context.Context, string) error { return nil })

	tests := []struct {
		name     string
		settings bridge.Settings[*exampleController]
		want     error
	}{
		{
			name: "handler not declared",
			settings: bridge.Settings[*exampleController]{
				Group:    "bad",
				Bridge:   map[string]cbridge.Pattern{},
				Handlers: func(*exampleController) bridge.Handlers { return bridge.Handlers{"x": noop} },
			},
			want: berr.ErrInvalidPattern,
		},
		{
			name: "pattern mismatch",
			settings: bridge.Settings[*exampleController]{
				Group:    "bad",
				Bridge:   map[string]cbridge.Pattern{"x": cbridge.Invoke},
				Handlers: func(*exampleController) bridge.Handlers { return bridge.Handlers{"x": noop} },
			},
			want: berr.ErrInvalidPattern,
		},
		{
			name: "missing handler",
			settings: bridge.Settings[*exampleController]{
				Group:  "bad",
				Bridge: map[string]cbridge.Pattern{"x": cbridge.Send},
			},
			want: berr.ErrHandlerNotFound,
		},
		{
			name: "trigger on send member",
			settings: bridge.Settings[*exampleController]{
				Group:    "bad",
				Bridge:   map[string]cbridge.Pattern{"x": cbridge.Send},
				Handlers: func(*exampleController) bridge.Handlers { return bridge.Handlers{"x": noop} },
				Triggers: func(c *exampleController) bridge.Triggers {
					return bridge.Triggers{"x": bridge.TriggerFrom(c.changes)}
				},
			},
			want: berr.ErrHandlerExists,
		},
		{
			name: "unknown pattern",
			settings: bridge.Settings[*exampleController]{
				Group:  "bad",
				Bridge: map[string]cbridge.Pattern{"x": cbridge.Pattern(42)},
			},
			want: berr.ErrInvalidPattern,
		},
		{
			name:     "empty group",
			settings: bridge.Settings[*exampleController]{},
			want:     berr.ErrNotController,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pipe := inmemory.New()
			b := bridge.New(pipe)
			reg := registry.New()

			err := reg.Register(t.Context(), bridge.Define(b, registry.Provide(newExample), tc.settings))
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}

			if len(b.Groups()) != 0 {
				t.Fatalf("nothing must stay bound")
			}
		})
	}
}

func TestDefine_NotController(t *testing.T) {
	b := bridge.New(inmemory.New())
	reg := registry.New()

	d := registry.Descriptor{
		Token:     registry.TokenFor[*exampleController](),
		Construct: func([]any) (any, error) { return "not a controller", nil },
	}

	if err := reg.Register(t.Context(), bridge.Define(b, d, exampleSettings)); !errors.Is(err, berr.ErrNotController) {
		t.Fatalf("want ErrNotController, got %v", err)
	}
}

func TestBind_NoTransport(t *testing.T) {
	b := bridge.New(nil)

	err := b.Bind("example", exampleSettings.Schema(), nil, nil)
	if !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}
}

func TestExpose(t *testing.T) {
	pipe := inmemory.New()

	surface, err := bridge.Expose(pipe, codec.JSON, exampleSettings.Schema())
	if err != nil {
		t.Fatalf("expose: %v", err)
	}

	members, ok := surface.Group("example")
	if !ok {
		t.Fatalf("group must be exposed")
	}

	closer, ok := members["ticks"+cbridge.CloseSuffix]
	if !ok || closer.Pattern() != cbridge.Send || closer.Channel() != "example:ticks:__close" {
		t.Fatalf("callback members must export their close companion")
	}

	if _, ok := surface.Group("missing"); ok {
		t.Fatalf("unknown group must report false")
	}

	if _, err := bridge.Expose(pipe, codec.JSON, exampleSettings.Schema(), exampleSettings.Schema()); !errors.Is(err, berr.ErrGroupExists) {
		t.Fatalf("want ErrGroupExists, got %v", err)
	}

	bad := bridge.Schema{Group: "bad", Members: map[string]cbridge.Pattern{"x": 0}}
	if _, err := bridge.Expose(pipe, codec.JSON, bad); !errors.Is(err, berr.ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}

	if _, err := bridge.Expose(nil, codec.JSON); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}
}

type recordingSender struct {
	mu       sync.Mutex
	channels []string
}

func (s *recordingSender) Send(_ context.Context, channel string, _ []byte) error {
	s.mu.Lock()
	s.channels = append(s.channels, channel)
	s.mu.Unlock()

	return nil
}

func TestWithSender(t *testing.T) {
	f := setup(t)
	rs := &recordingSender{}

	surface, err := bridge.Expose(bridge.WithSender(f.pipe, rs), codec.JSON, exampleSettings.Schema())
	if err != nil {
		t.Fatalf("expose: %v", err)
	}

	e, _ := surface.Endpoint("example", "info")
	if err := e.Send(t.Context(), "routed"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(f.ctrl.Logs()) != 0 || !slices.Equal(rs.channels, []string{"example:info"}) {
		t.Fatalf("send must go through the plugged sender")
	}
}

func TestEmit(t *testing.T) {
	f := setup(t)

	got := make(chan config, 1)

	if _, err := bridge.Subscribe(t.Context(), f.endpoint(t, "changes"), func(c config) { got <- c }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := f.bridge.Emit(t.Context(), "example:changes", config{Theme: "manual"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if c := <-got; c.Theme != "manual" {
		t.Fatalf("got %+v", c)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}

		time.Sleep(time.Millisecond)
	}
}
