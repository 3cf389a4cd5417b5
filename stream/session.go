package stream

import (
	"context"
	"sync"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
)

// Session is one live streaming session. State goes from open to closed, never back.
type Session struct {
	id    uint64
	key   string
	input []byte
	port  cbridge.Port

	ctx    context.Context
	cancel context.CancelFunc

	once   sync.Once
	postMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	listeners []func()
}

func newSession(ctx context.Context, key string, port cbridge.Port) *Session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	return &Session{
		id:     port.ID(),
		key:    key,
		input:  port.Input(),
		port:   port,
		ctx:    sctx,
		cancel: cancel,
	}
}

// ID returns the session id allocated by the peer.
func (s *Session) ID() uint64 { return s.id }

// Key returns the channel key the session belongs to.
func (s *Session) Key() string { return s.key }

// Input returns the encoded value the peer opened the session with.
func (s *Session) Input() []byte { return s.input }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Closed reports whether the session is closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// OnClose registers fn to run once when the session closes. On a closed session fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if !s.closed {
		s.listeners = append(s.listeners, fn)
		s.mu.Unlock()

		return
	}
	s.mu.Unlock()

	fn()
}

// post forwards data to the port while the session is open. Values are posted in call order.
func (s *Session) post(ctx context.Context, data []byte) error {
	s.postMu.Lock()
	defer s.postMu.Unlock()

	if s.Closed() {
		return nil
	}

	if err := s.port.Post(ctx, data); err != nil && !s.Closed() {
		return err
	}

	return nil
}

// close marks the session closed, cancels its context, closes the port and fires the close
// listeners. Only the first call has an effect.
func (s *Session) close() bool {
	fired := false

	s.once.Do(func() {
		fired = true

		s.mu.Lock()
		s.closed = true
		listeners := s.listeners
		s.listeners = nil
		s.mu.Unlock()

		s.cancel()
		_ = s.port.Close()

		for _, fn := range listeners {
			fn()
		}
	})

	return fired
}
