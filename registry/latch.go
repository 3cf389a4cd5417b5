package registry

import (
	"context"
	"sync"
)

// latch is a single-writer, multi-reader readiness flag. It is set exactly once;
// later writes are dropped.
type latch struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newLatch() *latch { return &latch{done: make(chan struct{})} }

// set completes the latch with err and reports whether this call was the one that set it.
func (l *latch) set(err error) bool {
	fired := false

	l.once.Do(func() {
		l.err = err
		close(l.done)
		fired = true
	})

	return fired
}

func (l *latch) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *latch) ready() bool {
	select {
	case <-l.done:
		return l.err == nil
	default:
		return false
	}
}
