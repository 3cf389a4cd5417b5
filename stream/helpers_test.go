package stream_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var errPortClosed = errors.New("port closed")

type fakePort struct {
	id    uint64
	input []byte

	mu        sync.Mutex
	posted    [][]byte
	closes    int
	gone      bool
	listeners []func()
}

func newPort(id uint64, input []byte) *fakePort { return &fakePort{id: id, input: input} }

func (p *fakePort) ID() uint64    { return p.id }
func (p *fakePort) Input() []byte { return p.input }

func (p *fakePort) Post(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closes > 0 {
		return errPortClosed
	}

	p.posted = append(p.posted, slices.Clone(data))

	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()

	return nil
}

func (p *fakePort) OnClose(fn func()) {
	p.mu.Lock()
	if p.gone {
		p.mu.Unlock()
		fn()

		return
	}

	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// peerClose simulates the peer closing its end.
func (p *fakePort) peerClose() {
	p.mu.Lock()
	p.gone = true
	listeners := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (p *fakePort) Posted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.posted))
	for i, b := range p.posted {
		out[i] = string(b)
	}

	return out
}

func (p *fakePort) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closes
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
