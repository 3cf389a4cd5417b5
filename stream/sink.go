package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
)

// Handler serves one streaming session. It receives the encoded input the peer opened the
// session with and pushes encoded values through sink. Returning an error closes the session;
// returning nil leaves it open for values produced later (see Sink.Every).
type Handler func(ctx context.Context, sink *Sink[[]byte], input []byte) error

// Sink pushes values of type O to the peer of one session.
type Sink[O any] struct {
	session *Session
	encode  func(O) ([]byte, error)
	logger  *slog.Logger
	closeFn func()
}

// Next posts v to the peer while the session is open. After close it is a silent no-op.
func (s *Sink[O]) Next(v O) error {
	if s.session.Closed() {
		return nil
	}

	data, err := s.encode(v)
	if err != nil {
		return fmt.Errorf("next %s: %w", s.session.key, err)
	}

	if err := s.session.post(s.session.ctx, data); err != nil {
		return fmt.Errorf("next %s#%d: %w", s.session.key, s.session.id, err)
	}

	return nil
}

// Closed reports whether the session is closed.
func (s *Sink[O]) Closed() bool { return s.session.Closed() }

// Context is cancelled when the session closes.
func (s *Sink[O]) Context() context.Context { return s.session.ctx }

// ID returns the session id.
func (s *Sink[O]) ID() uint64 { return s.session.id }

// Close closes the session from the host side.
func (s *Sink[O]) Close() { s.closeFn() }

// Every runs fn every interval until the session closes. The task is bound to the session:
// it stops deterministically when the session closes, and an error from fn closes the session.
// A non-positive interval closes the session without running fn.
func (s *Sink[O]) Every(interval time.Duration, fn func(ctx context.Context) error) {
	ctx := s.session.ctx

	if interval <= 0 {
		s.logger.WarnContext(ctx, "stream: repeating task needs a positive interval",
			"key", s.session.key, "id", s.session.id, "interval", interval)
		s.closeFn()

		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if err := fn(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.WarnContext(ctx, "stream: repeating task failed",
						"key", s.session.key, "id", s.session.id, "err", err)
				}

				s.closeFn()

				return
			}
		}
	}()
}

// TypedHandler serves one session with decoded input and typed output.
type TypedHandler[I, O any] = func(ctx context.Context, sink *Sink[O], input I) error

// Typed adapts a typed handler onto Handler. Input is decoded with codec (empty input yields the
// zero value of I) and every value passed to Next is encoded with codec.
func Typed[I, O any](codec cbridge.Codec, fn TypedHandler[I, O]) Handler {
	return func(ctx context.Context, raw *Sink[[]byte], data []byte) error {
		var in I
		if len(data) > 0 {
			if err := codec.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("decode input %s: %w", raw.session.key, err)
			}
		}

		sink := &Sink[O]{
			session: raw.session,
			encode:  func(v O) ([]byte, error) { return codec.Marshal(v) },
			logger:  raw.logger,
			closeFn: raw.closeFn,
		}

		return fn(ctx, sink, in)
	}
}
