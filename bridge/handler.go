package bridge

import (
	"context"
	"fmt"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
	"github.com/next-trace/scg-bridge/stream"
)

// Invocation describes one incoming send or invoke as seen by middleware.
type Invocation struct {
	Channel string
	Pattern cbridge.Pattern
	Input   any
}

// HandlerFunc serves one decoded call. Send calls ignore the result.
type HandlerFunc func(ctx context.Context, inv Invocation) (any, error)

// Middleware wraps send and invoke handler execution.
type Middleware func(next HandlerFunc) HandlerFunc

// Handler serves one send, invoke or callback member. Build it with HandleSend, HandleInvoke or
// HandleCallback.
type Handler interface {
	Pattern() cbridge.Pattern
	bind(b *Bridge, channel string) (unsubscribe func(), err error)
}

// Handlers maps member names to their handlers.
type Handlers map[string]Handler

// HandleSend serves a fire-and-forget member receiving values of type I.
func HandleSend[I any](fn func(ctx context.Context, in I) error) Handler { return sendHandler[I]{fn: fn} }

// HandleInvoke serves a request/response member.
func HandleInvoke[I, O any](fn func(ctx context.Context, in I) (O, error)) Handler {
	return invokeHandler[I, O]{fn: fn}
}

// HandleCallback serves a streaming member. Each session runs fn in its own goroutine.
func HandleCallback[I, O any](fn stream.TypedHandler[I, O]) Handler { return callbackHandler[I, O]{fn: fn} }

type sendHandler[I any] struct {
	fn func(ctx context.Context, in I) error
}

func (sendHandler[I]) Pattern() cbridge.Pattern { return cbridge.Send }

func (h sendHandler[I]) bind(b *Bridge, channel string) (func(), error) {
	call := b.chain(func(ctx context.Context, c Invocation) (any, error) {
		in, ok := c.Input.(I)
		if !ok {
			return nil, fmt.Errorf("send %s got %T: %w", c.Channel, c.Input, berr.ErrSerializationFailed)
		}

		return nil, h.fn(ctx, in)
	})

	return b.host.Listen(channel, func(ctx context.Context, data []byte) {
		var in I
		if err := b.decode(data, &in); err != nil {
			b.logger.WarnContext(ctx, "bridge: dropped send", "channel", channel, "err", err)
			return
		}

		if _, err := call(ctx, Invocation{Channel: channel, Pattern: cbridge.Send, Input: in}); err != nil {
			b.logger.WarnContext(ctx, "bridge: send handler failed", "channel", channel, "err", err)
		}
	})
}

type invokeHandler[I, O any] struct {
	fn func(ctx context.Context, in I) (O, error)
}

func (invokeHandler[I, O]) Pattern() cbridge.Pattern { return cbridge.Invoke }

func (h invokeHandler[I, O]) bind(b *Bridge, channel string) (func(), error) {
	call := b.chain(func(ctx context.Context, c Invocation) (any, error) {
		in, ok := c.Input.(I)
		if !ok {
			return nil, fmt.Errorf("invoke %s got %T: %w", c.Channel, c.Input, berr.ErrSerializationFailed)
		}

		return h.fn(ctx, in)
	})

	return b.host.Respond(channel, func(ctx context.Context, data []byte) ([]byte, error) {
		var in I
		if err := b.decode(data, &in); err != nil {
			return nil, fmt.Errorf("invoke %s: %w", channel, err)
		}

		out, err := call(ctx, Invocation{Channel: channel, Pattern: cbridge.Invoke, Input: in})
		if err != nil {
			return nil, err
		}

		return b.codec.Marshal(out)
	})
}

type callbackHandler[I, O any] struct {
	fn stream.TypedHandler[I, O]
}

func (callbackHandler[I, O]) Pattern() cbridge.Pattern { return cbridge.Callback }

func (h callbackHandler[I, O]) bind(b *Bridge, channel string) (func(), error) {
	m, err := stream.Attach(b.host, b.sessions, b.codec, channel, stream.Typed(b.codec, h.fn))
	if err != nil {
		return nil, err
	}

	return m.Detach, nil
}

// Trigger feeds an on member. Build it with TriggerFrom.
type Trigger interface {
	run(ctx context.Context, b *Bridge, channel string)
}

// Triggers maps on member names to their triggers.
type Triggers map[string]Trigger

// TriggerFrom broadcasts every value received from ch until ch is closed or the bridge closes.
func TriggerFrom[O any](ch <-chan O) Trigger { return chanTrigger[O]{ch: ch} }

type chanTrigger[O any] struct {
	ch <-chan O
}

func (t chanTrigger[O]) run(ctx context.Context, b *Bridge, channel string) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-t.ch:
			if !ok {
				return
			}

			if err := b.Emit(ctx, channel, v); err != nil {
				b.logger.WarnContext(ctx, "bridge: trigger failed", "channel", channel, "err", err)
			}
		}
	}
}

func (b *Bridge) chain(final HandlerFunc) HandlerFunc {
	for i := len(b.mw) - 1; i >= 0; i-- {
		final = b.mw[i](final)
	}

	return final
}

func (b *Bridge) decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	return b.codec.Unmarshal(data, v)
}
