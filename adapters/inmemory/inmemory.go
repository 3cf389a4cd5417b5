package inmemory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	cbridge "github.com/next-trace/scg-bridge/contract/bridge"
	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Pipe is a thread-safe in-process substrate implementing both cbridge.Host and cbridge.Peer.
// Delivery is synchronous on the caller's goroutine; no lock is held while callbacks run.
// Use it for tests, examples and single-process compositions.
type Pipe struct {
	mu  sync.RWMutex
	seq uint64

	listeners   map[string]map[uint64]func(context.Context, []byte)
	subscribers map[string]map[uint64]func([]byte)
	responders  map[string]func(context.Context, []byte) ([]byte, error)
	acceptors   map[string]func(context.Context, cbridge.Port) error
}

// Ensure Pipe implements both sides of the substrate.
var (
	_ cbridge.Host = (*Pipe)(nil)
	_ cbridge.Peer = (*Pipe)(nil)
)

// New creates a new in-memory pipe.
func New() *Pipe {
	return &Pipe{
		listeners:   make(map[string]map[uint64]func(context.Context, []byte)),
		subscribers: make(map[string]map[uint64]func([]byte)),
		responders:  make(map[string]func(context.Context, []byte) ([]byte, error)),
		acceptors:   make(map[string]func(context.Context, cbridge.Port) error),
	}
}

func (p *Pipe) Listen(channel string, fn func(context.Context, []byte)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := p.seq

	if p.listeners[channel] == nil {
		p.listeners[channel] = make(map[uint64]func(context.Context, []byte))
	}

	p.listeners[channel][id] = fn

	return func() {
		p.mu.Lock()
		delete(p.listeners[channel], id)
		p.mu.Unlock()
	}, nil
}

func (p *Pipe) Respond(channel string, fn func(context.Context, []byte) ([]byte, error)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.responders[channel]; exists {
		return nil, fmt.Errorf("respond %s: %w", channel, berr.ErrHandlerExists)
	}

	p.responders[channel] = fn

	return func() {
		p.mu.Lock()
		delete(p.responders, channel)
		p.mu.Unlock()
	}, nil
}

func (p *Pipe) AcceptPorts(channel string, fn func(context.Context, cbridge.Port) error) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.acceptors[channel]; exists {
		return nil, fmt.Errorf("accept ports %s: %w", channel, berr.ErrHandlerExists)
	}

	p.acceptors[channel] = fn

	return func() {
		p.mu.Lock()
		delete(p.acceptors, channel)
		p.mu.Unlock()
	}, nil
}

// Broadcast delivers data to every subscriber of channel. Having no subscriber is not an error.
func (p *Pipe) Broadcast(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	subs := slices.Collect(maps.Values(p.subscribers[channel]))
	p.mu.RUnlock()

	for _, fn := range subs {
		fn(slices.Clone(data))
	}

	return nil
}

// Send delivers data to every host listener of channel. Having no listener is not an error.
func (p *Pipe) Send(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	listeners := slices.Collect(maps.Values(p.listeners[channel]))
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, slices.Clone(data))
	}

	return nil
}

func (p *Pipe) Invoke(ctx context.Context, channel string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	fn, ok := p.responders[channel]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("invoke %s: %w", channel, berr.ErrHandlerNotFound)
	}

	return fn(ctx, slices.Clone(data))
}

func (p *Pipe) Subscribe(channel string, fn func([]byte)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := p.seq

	if p.subscribers[channel] == nil {
		p.subscribers[channel] = make(map[uint64]func([]byte))
	}

	p.subscribers[channel][id] = fn

	return func() {
		p.mu.Lock()
		delete(p.subscribers[channel], id)
		p.mu.Unlock()
	}, nil
}

// OpenPort hands a new port to the acceptor of channel and fails when the acceptor rejects it.
// The returned detach closes the port from the peer side, which fires the host's close listeners.
func (p *Pipe) OpenPort(ctx context.Context, channel string, id uint64, input []byte, ev cbridge.PortEvents) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	accept, ok := p.acceptors[channel]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("open port %s: %w", channel, berr.ErrHandlerNotFound)
	}

	port := &pipePort{id: id, input: slices.Clone(input), ev: ev}
	if err := accept(ctx, port); err != nil {
		port.reject()
		return nil, fmt.Errorf("open port %s#%d: %w", channel, id, err)
	}

	return port.detach, nil
}

// Subscriptions reports how many host and peer callbacks are registered on channel.
func (p *Pipe) Subscriptions(channel string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.listeners[channel]) + len(p.subscribers[channel])

	if _, ok := p.responders[channel]; ok {
		n++
	}

	if _, ok := p.acceptors[channel]; ok {
		n++
	}

	return n
}

var errPortClosed = fmt.Errorf("port closed: %w", berr.ErrSendFailed)

type pipePort struct {
	id    uint64
	input []byte
	ev    cbridge.PortEvents

	mu         sync.Mutex
	closed     bool
	peerClosed bool
	listeners  []func()
}

func (pp *pipePort) ID() uint64    { return pp.id }
func (pp *pipePort) Input() []byte { return pp.input }

func (pp *pipePort) Post(_ context.Context, data []byte) error {
	pp.mu.Lock()
	closed := pp.closed
	pp.mu.Unlock()

	if closed {
		return errPortClosed
	}

	if pp.ev.Data != nil {
		pp.ev.Data(slices.Clone(data))
	}

	return nil
}

// Close closes the port from the host side and notifies the peer.
func (pp *pipePort) Close() error {
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return nil
	}

	pp.closed = true
	pp.listeners = nil
	pp.mu.Unlock()

	if pp.ev.Closed != nil {
		pp.ev.Closed()
	}

	return nil
}

func (pp *pipePort) OnClose(fn func()) {
	pp.mu.Lock()
	if !pp.closed {
		pp.listeners = append(pp.listeners, fn)
		pp.mu.Unlock()

		return
	}

	peerClosed := pp.peerClosed
	pp.mu.Unlock()

	if peerClosed {
		fn()
	}
}

// reject releases a port the host refused, silently on both sides.
func (pp *pipePort) reject() {
	pp.mu.Lock()
	pp.closed = true
	pp.listeners = nil
	pp.mu.Unlock()
}

// detach closes the port from the peer side and notifies the host.
func (pp *pipePort) detach() {
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return
	}

	pp.closed = true
	pp.peerClosed = true
	listeners := pp.listeners
	pp.listeners = nil
	pp.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
