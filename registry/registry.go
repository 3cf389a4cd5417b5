package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

// Initializer is implemented by services needing an asynchronous initialisation step.
// Init runs after every service of the batch is constructed, concurrently with the other
// services' Init. Use Registry.WaitInit when a sibling must be initialised first.
type Initializer interface {
	Init(ctx context.Context) error
}

// Metrics observes service initialisation. Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveInit(token Token, took time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveInit(Token, time.Duration, error) {}

// Registry owns constructed singletons and their readiness latches.
//
// Registry is concurrency-safe and contains no global state.
type Registry struct {
	// regMu serialises Register and Dispose; mu guards the maps below and is never held
	// while user code runs, so constructors may call GetSync.
	regMu sync.Mutex
	mu    sync.RWMutex

	instances map[Token]any
	latches   map[Token]*latch
	order     []Token

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

// WithMetrics sets the init metrics observer.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		instances: make(map[Token]any),
		latches:   make(map[Token]*latch),
		logger:    slog.Default(),
		metrics:   nopMetrics{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type entry struct {
	token    Token
	instance any
	release  func(any)
}

// Register validates, orders, constructs and initialises the batch.
//
// Validation fails with DuplicateTokenError, SelfDependencyError, MissingDependencyError or
// CycleDependencyError before anything is constructed. Tokens constructed by an earlier call are
// skipped. Register returns once every newly constructed service finished Init; init failures are
// joined and wrapped with ErrInitFailed, and each one also surfaces from Get for its own token.
func (r *Registry) Register(ctx context.Context, descs ...Descriptor) error {
	r.regMu.Lock()

	if err := validate(descs); err != nil {
		r.regMu.Unlock()
		r.logger.ErrorContext(ctx, "registry: invalid batch", "err", err)

		return fmt.Errorf("register: %w", err)
	}

	fresh, err := r.construct(order(descs))
	r.regMu.Unlock()

	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	r.logger.DebugContext(ctx, "registry: constructed", "count", len(fresh), "batch", len(descs))

	return r.initAll(ctx, fresh)
}

// construct builds every descriptor not constructed yet. Instances are committed only when the
// whole batch succeeded; on failure the staged instances are released and, when they implement
// io.Closer, closed, in reverse order.
func (r *Registry) construct(ordered []Descriptor) ([]entry, error) {
	staged := make(map[Token]any, len(ordered))
	fresh := make([]entry, 0, len(ordered))

	for _, d := range ordered {
		if _, ok := r.GetSync(d.Token); ok {
			continue
		}

		deps := make([]any, len(d.Deps))
		for i, dep := range d.Deps {
			if v, ok := staged[dep]; ok {
				deps[i] = v
				continue
			}

			deps[i], _ = r.GetSync(dep)
		}

		v, err := d.Construct(deps)
		if err != nil {
			_ = closeReverse(fresh)
			return nil, fmt.Errorf("construct %s: %w", d.displayName(), errors.Join(berr.ErrConstructFailed, err))
		}

		staged[d.Token] = v
		fresh = append(fresh, entry{token: d.Token, instance: v, release: d.Release})
	}

	r.mu.Lock()
	for _, e := range fresh {
		r.instances[e.token] = e.instance
		r.latches[e.token] = newLatch()
		r.order = append(r.order, e.token)
	}
	r.mu.Unlock()

	return fresh, nil
}

func (r *Registry) initAll(ctx context.Context, fresh []entry) error {
	var wg sync.WaitGroup

	errs := make([]error, len(fresh))

	for i, e := range fresh {
		l := r.latch(e.token)
		if l == nil {
			continue // disposed meanwhile
		}

		init, ok := e.instance.(Initializer)
		if !ok {
			l.set(nil)
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			start := time.Now()
			err := runInit(ctx, init)
			r.metrics.ObserveInit(e.token, time.Since(start), err)

			if err != nil {
				err = fmt.Errorf("init %s: %w", e.token, errors.Join(berr.ErrInitFailed, err))
				errs[i] = err
				r.logger.WarnContext(ctx, "registry: init failed", "token", e.token, "err", err)
			}

			if !l.set(err) {
				r.logger.DebugContext(ctx, "registry: init settled after dispose", "token", e.token)
			}
		}()
	}

	wg.Wait()

	return errors.Join(errs...)
}

func runInit(ctx context.Context, init Initializer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("init panicked: %v", p)
		}
	}()

	return init.Init(ctx)
}

func (r *Registry) latch(token Token) *latch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.latches[token]
}

// GetSync returns the constructed instance for token without waiting for readiness.
func (r *Registry) GetSync(token Token) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.instances[token]

	return v, ok
}

// Get waits until the service registered under token is ready and returns it.
// It fails with NotRegisteredError for unknown tokens and with the service's own error if its
// Init failed.
func (r *Registry) Get(ctx context.Context, token Token) (any, error) {
	l := r.latch(token)
	if l == nil {
		return nil, &NotRegisteredError{Token: token}
	}

	if err := l.wait(ctx); err != nil {
		return nil, err
	}

	v, ok := r.GetSync(token)
	if !ok {
		return nil, fmt.Errorf("get %s: %w", token, berr.ErrRegistryDisposed)
	}

	return v, nil
}

// WaitInit waits until every token is ready. Unknown tokens fail immediately with NotRegisteredError.
func (r *Registry) WaitInit(ctx context.Context, tokens ...Token) error {
	latches := make([]*latch, len(tokens))
	for i, t := range tokens {
		l := r.latch(t)
		if l == nil {
			return &NotRegisteredError{Token: t}
		}

		latches[i] = l
	}

	for _, l := range latches {
		if err := l.wait(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Ready reports whether token finished Init successfully.
func (r *Registry) Ready(token Token) bool {
	l := r.latch(token)
	return l != nil && l.ready()
}

// Order returns the registered tokens in construction order.
func (r *Registry) Order() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// Dispose completes every readiness latch with ErrRegistryDisposed, closes instances implementing
// io.Closer in reverse construction order and forgets them. In-flight Init calls are not cancelled;
// their results are dropped.
func (r *Registry) Dispose() error {
	r.regMu.Lock()
	defer r.regMu.Unlock()

	r.mu.Lock()
	instances, latches, ord := r.instances, r.latches, r.order
	r.instances = make(map[Token]any)
	r.latches = make(map[Token]*latch)
	r.order = nil
	r.mu.Unlock()

	for token, l := range latches {
		l.set(fmt.Errorf("%s: %w", token, berr.ErrRegistryDisposed))
	}

	entries := make([]entry, 0, len(ord))
	for _, t := range ord {
		entries = append(entries, entry{token: t, instance: instances[t]})
	}

	return closeReverse(entries)
}

func closeReverse(entries []entry) error {
	var errs []error

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].release != nil {
			entries[i].release(entries[i].instance)
		}

		c, ok := entries[i].instance.(io.Closer)
		if !ok {
			continue
		}

		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", entries[i].token, err))
		}
	}

	return errors.Join(errs...)
}

// Resolve waits for the service registered under the token of T and returns it typed.
func Resolve[T any](ctx context.Context, r *Registry) (T, error) {
	var zero T

	v, err := r.Get(ctx, TokenFor[T]())
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("resolve %s got %T: %w", TokenFor[T](), v, berr.ErrConstructFailed)
	}

	return t, nil
}

// Lookup returns the constructed service registered under the token of T without waiting.
func Lookup[T any](r *Registry) (T, bool) {
	var zero T

	v, ok := r.GetSync(TokenFor[T]())
	if !ok {
		return zero, false
	}

	t, ok := v.(T)

	return t, ok
}
