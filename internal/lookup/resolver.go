package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

// Resolution is the state of the latest query issued to a Resolver.
type Resolution[K comparable, V any] struct {
	Key      K
	Token    uint64
	Value    V
	Err      error
	InFlight bool
	Settled  bool
}

// Resolver debounces lookups for one input field. Every Query takes the next
// token; a response is applied only if its token is still the latest one, so
// answers for superseded inputs are dropped silently.
type Resolver[K comparable, V any] struct {
	name     string
	delay    time.Duration
	timeout  time.Duration
	fetch    func(ctx context.Context, key K) (V, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	token   uint64
	timer   *time.Timer
	current Resolution[K, V]
}

func NewResolver[K comparable, V any](name string, delay, timeout time.Duration, fetch func(context.Context, K) (V, error)) *Resolver[K, V] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver[K, V]{
		name:    name,
		delay:   delay,
		timeout: timeout,
		fetch:   fetch,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Query schedules a lookup for key after the debounce delay, superseding any
// earlier query that has not settled.
func (r *Resolver[K, V]) Query(key K) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return r.token
	}

	r.token++
	token := r.token
	r.current = Resolution[K, V]{Key: key, Token: token, InFlight: true}

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, func() { r.run(token, key) })
	return token
}

// Reset supersedes any pending query and clears the result.
func (r *Resolver[K, V]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.token++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.current = Resolution[K, V]{Token: r.token}
}

func (r *Resolver[K, V]) Current() Resolution[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stop cancels pending timers and in-flight requests. Results arriving after
// Stop are discarded.
func (r *Resolver[K, V]) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancel()
	r.token++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Resolver[K, V]) run(token uint64, key K) {
	if !r.isLatest(token) {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	value, err := r.fetch(ctx, key)
	cancel()

	r.mu.Lock()
	if token != r.token || r.ctx.Err() != nil {
		r.mu.Unlock()
		logger.Debug("Discarding superseded lookup response", logger.Fields{
			logger.ComponentKey: r.name,
			"token":             token,
		})
		return
	}
	r.current = Resolution[K, V]{Key: key, Token: token, Value: value, Err: err, Settled: true}
	r.mu.Unlock()
}

func (r *Resolver[K, V]) isLatest(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return token == r.token && r.ctx.Err() == nil
}
