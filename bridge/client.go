package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Call invokes e with in and returns the typed result.
func Call[I, O any](ctx context.Context, e *Endpoint, in I) (O, error) {
	var out O
	if err := e.Invoke(ctx, in, &out); err != nil {
		var zero O
		return zero, err
	}

	return out, nil
}

// StreamOption configures Subscribe and Open.
type StreamOption[O any] func(*streamOptions[O])

type streamOptions[O any] struct {
	hasDefault bool
	def        O
	init       func(ctx context.Context) (O, error)
}

// Default emits v before any other value.
func Default[O any](v O) StreamOption[O] {
	return func(o *streamOptions[O]) {
		o.hasDefault = true
		o.def = v
	}
}

// Init emits the result of fn before the stream starts. An error from fn aborts the subscription.
func Init[O any](fn func(ctx context.Context) (O, error)) StreamOption[O] {
	return func(o *streamOptions[O]) { o.init = fn }
}

// InitFrom emits the result of invoking e with in before the stream starts.
func InitFrom[I, O any](e *Endpoint, in I) StreamOption[O] {
	return Init(func(ctx context.Context) (O, error) { return Call[I, O](ctx, e, in) })
}

func (o *streamOptions[O]) prime(ctx context.Context, fn func(O)) error {
	if o.hasDefault {
		fn(o.def)
	}

	if o.init == nil {
		return nil
	}

	v, err := o.init(ctx)
	if err != nil {
		return fmt.Errorf("init value: %w", err)
	}

	fn(v)

	return nil
}

func applyStream[O any](opts []StreamOption[O]) *streamOptions[O] {
	o := &streamOptions[O]{}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Subscribe delivers every value broadcast on the on endpoint e to fn, after the optional Default
// and Init values. Values that fail to decode are dropped.
func Subscribe[O any](ctx context.Context, e *Endpoint, fn func(O), opts ...StreamOption[O]) (unsubscribe func(), err error) {
	if err := e.expect(cbridge.On); err != nil {
		return nil, err
	}

	if err := applyStream(opts).prime(ctx, fn); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", e.channel, err)
	}

	return e.Listen(func(data []byte) {
		var v O
		if err := e.codec.Unmarshal(data, &v); err != nil {
			return
		}

		fn(v)
	})
}

// Subscription is the peer end of one streaming session.
type Subscription struct {
	id     uint64
	e      *Endpoint
	detach func()

	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// ID returns the session id.
func (s *Subscription) ID() uint64 { return s.id }

// Done is closed once the session is closed from either side.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) finish() { s.doneOnce.Do(func() { close(s.done) }) }

// Close releases the peer end and notifies the host of this port only, so a session another peer
// opened under the same id stays live. Close is idempotent.
func (s *Subscription) Close(context.Context) error {
	s.closeOnce.Do(func() {
		if s.detach != nil {
			s.detach()
		}

		s.finish()
	})

	return nil
}

// Open starts a streaming session on the callback endpoint e with input and delivers every value
// the host pushes to fn, after the optional Default and Init values.
func Open[I, O any](ctx context.Context, e *Endpoint, input I, fn func(O), opts ...StreamOption[O]) (*Subscription, error) {
	if err := e.expect(cbridge.Callback); err != nil {
		return nil, err
	}

	if err := applyStream(opts).prime(ctx, fn); err != nil {
		return nil, fmt.Errorf("open %s: %w", e.channel, err)
	}

	data, err := e.codec.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.channel, err)
	}

	sub := &Subscription{
		id:   e.ids.Next(e.channel),
		e:    e,
		done: make(chan struct{}),
	}

	detach, err := e.peer.OpenPort(ctx, e.channel, sub.id, data, cbridge.PortEvents{
		Data: func(data []byte) {
			var v O
			if err := e.codec.Unmarshal(data, &v); err != nil {
				return
			}

			fn(v)
		},
		Closed: sub.finish,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("open %s#%d: %w", e.channel, sub.id, errors.Join(berr.ErrSendFailed, err))
	}

	sub.detach = detach

	return sub, nil
}
