package stream

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Close reasons reported to Metrics.
const (
	ReasonHost     = "host"
	ReasonPeer     = "peer"
	ReasonError    = "error"
	ReasonShutdown = "shutdown"
)

// Metrics observes the session lifecycle. Implementations must be safe for concurrent use.
type Metrics interface {
	SessionOpened(key string)
	SessionClosed(key, reason string)
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened(string)         {}
func (nopMetrics) SessionClosed(string, string) {}

// Registry holds the live sessions of every channel key.
//
// Registry is concurrency-safe and contains no global state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[uint64]*Session

	logger  *slog.Logger
	metrics Metrics
}

// Option configures a Registry instance.
type Option func(*Registry)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the session metrics observer.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]map[uint64]*Session),
		logger:   slog.Default(),
		metrics:  nopMetrics{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Open registers a session for port under key and runs handler for it in its own goroutine.
// The session closes when the port reports a peer close, when Close is called with its id, or when
// handler returns an error. A live session with the same id fails with ErrSessionExists.
func (r *Registry) Open(ctx context.Context, key string, handler Handler, port cbridge.Port) (*Session, error) {
	s := newSession(ctx, key, port)

	r.mu.Lock()
	live, ok := r.sessions[key]
	if !ok {
		live = make(map[uint64]*Session)
		r.sessions[key] = live
	}

	if _, exists := live[s.id]; exists {
		r.mu.Unlock()
		s.cancel()

		return nil, fmt.Errorf("open %s#%d: %w", key, s.id, berr.ErrSessionExists)
	}

	live[s.id] = s
	r.mu.Unlock()

	r.metrics.SessionOpened(key)
	r.logger.DebugContext(ctx, "stream: session opened", "key", key, "id", s.id)

	// runs at once when the peer closed the port before this point
	port.OnClose(func() { r.close(key, s, ReasonPeer) })

	if s.Closed() {
		return s, nil
	}

	sink := &Sink[[]byte]{
		session: s,
		encode:  func(b []byte) ([]byte, error) { return b, nil },
		logger:  r.logger,
		closeFn: func() { r.close(key, s, ReasonHost) },
	}

	go r.run(key, s, handler, sink)

	return s, nil
}

func (r *Registry) run(key string, s *Session, handler Handler, sink *Sink[[]byte]) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panicked: %v", p)
			}
		}()

		return handler(s.ctx, sink, s.input)
	}()

	if err != nil && !s.Closed() {
		r.logger.WarnContext(s.ctx, "stream: handler failed", "key", key, "id", s.id, "err", err)
		r.close(key, s, ReasonError)
	}
}

// Close closes the live session id of key. It reports false when no such session is live,
// which makes a second close a no-op.
func (r *Registry) Close(key string, id uint64) bool {
	r.mu.Lock()
	s := r.sessions[key][id]
	r.mu.Unlock()

	if s == nil {
		return false
	}

	return r.close(key, s, ReasonHost)
}

// close removes s from the live set, then signals it. Removal happens first so that listeners
// never observe a closed session that is still live.
func (r *Registry) close(key string, s *Session, reason string) bool {
	r.mu.Lock()
	live := r.sessions[key]
	if live[s.id] != s {
		r.mu.Unlock()
		return false
	}

	delete(live, s.id)

	if len(live) == 0 {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if s.close() {
		r.metrics.SessionClosed(key, reason)
		r.logger.Debug("stream: session closed", "key", key, "id", s.id, "reason", reason)
	}

	return true
}

// CloseAll closes every live session of key and returns how many were closed.
func (r *Registry) CloseAll(key string) int {
	r.mu.Lock()
	live := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	return r.closeDetached(key, live)
}

// Shutdown closes every live session of every key and returns how many were closed.
func (r *Registry) Shutdown() int {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]map[uint64]*Session)
	r.mu.Unlock()

	n := 0
	for _, key := range slices.Sorted(maps.Keys(all)) {
		n += r.closeDetached(key, all[key])
	}

	return n
}

func (r *Registry) closeDetached(key string, live map[uint64]*Session) int {
	n := 0

	for _, id := range slices.Sorted(maps.Keys(live)) {
		if live[id].close() {
			r.metrics.SessionClosed(key, ReasonShutdown)
			n++
		}
	}

	return n
}

// Sessions returns the ids of the live sessions of key in ascending order.
func (r *Registry) Sessions(key string) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.sessions[key]))
}

// Len returns the number of live sessions of key.
func (r *Registry) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions[key])
}
