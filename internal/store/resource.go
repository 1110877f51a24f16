package store

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Snapshot is a non-blocking view of one cached resource. A failed refetch
// keeps the previous Value and records Err; it never clears data.
type Snapshot[T any] struct {
	Value      T         `json:"value"`
	Loaded     bool      `json:"loaded"`
	Stale      bool      `json:"stale"`
	Refreshing bool      `json:"refreshing"`
	Err        error     `json:"-"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// ErrorMessage is the error flag as a string, for JSON consumers.
func (s Snapshot[T]) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

type resource[T any] struct {
	name  string
	mu    sync.RWMutex
	snap  Snapshot[T]
	gen   uint64 // bumped by every invalidation
	group singleflight.Group
}

func (r *resource[T]) get() Snapshot[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// invalidate marks the value stale. The caller starts the refetch, so the
// resource is flagged as refreshing straight away.
func (r *resource[T]) invalidate() {
	r.mu.Lock()
	r.snap.Stale = true
	r.snap.Refreshing = true
	r.gen++
	r.mu.Unlock()
}

// begin flags a refresh and returns the generation it is fetching for.
func (r *resource[T]) begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Refreshing = true
	return r.gen
}

// succeed stores the result unless the resource was invalidated after the
// fetch started; that response may predate the change that invalidated it.
func (r *resource[T]) succeed(gen uint64, apply func(cur T) T, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false
	}
	r.snap.Value = apply(r.snap.Value)
	r.snap.Loaded = true
	r.snap.Stale = false
	r.snap.Refreshing = false
	r.snap.Err = nil
	r.snap.FetchedAt = at
	return true
}

func (r *resource[T]) fail(gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	r.snap.Err = err
	r.snap.Refreshing = false
}

func (r *resource[T]) reset() {
	r.mu.Lock()
	r.snap = Snapshot[T]{}
	r.gen++
	r.mu.Unlock()
}

// needsRefetch reports an invalidated value that has not failed since.
func (r *resource[T]) needsRefetch() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Stale && r.snap.Err == nil && !r.snap.Refreshing
}
