package acquisition

import (
	"errors"
	"sync"
	"time"
)

// ErrRunPanicked is returned to callers that waited on a run which panicked
var ErrRunPanicked = errors.New("shared run panicked")

// Once runs work at most once per document digest within a time window.
// Repeated submissions of an identical document get the stored result.
// Failed runs are not stored, so a retry after a failure runs again.
type Once[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	entries  map[string]onceEntry[T]
	inflight map[string]*onceCall[T]
}

type onceEntry[T any] struct {
	value   T
	expires time.Time
}

type onceCall[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// NewOnce creates a new Once keeping results for ttl
func NewOnce[T any](ttl time.Duration) *Once[T] {
	return &Once[T]{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]onceEntry[T]),
		inflight: make(map[string]*onceCall[T]),
	}
}

// Do returns the stored result for key or runs fn. The bool reports whether
// the result was shared from an earlier or concurrent run.
func (o *Once[T]) Do(key string, fn func() (T, error)) (T, bool, error) {
	o.mu.Lock()
	o.evictLocked()

	if e, ok := o.entries[key]; ok {
		o.mu.Unlock()
		return e.value, true, nil
	}
	if c, ok := o.inflight[key]; ok {
		o.mu.Unlock()
		<-c.done
		return c.value, true, c.err
	}

	c := &onceCall[T]{done: make(chan struct{})}
	o.inflight[key] = c
	o.mu.Unlock()

	// A panic in fn still releases the waiters; the panic itself continues
	// up the caller's stack.
	completed := false
	defer func() {
		if !completed {
			c.err = ErrRunPanicked
		}
		o.mu.Lock()
		delete(o.inflight, key)
		if c.err == nil {
			o.entries[key] = onceEntry[T]{value: c.value, expires: o.now().Add(o.ttl)}
		}
		o.mu.Unlock()
		close(c.done)
	}()

	c.value, c.err = fn()
	completed = true

	return c.value, false, c.err
}

// Forget drops the stored result for key
func (o *Once[T]) Forget(key string) {
	o.mu.Lock()
	delete(o.entries, key)
	o.mu.Unlock()
}

func (o *Once[T]) evictLocked() {
	now := o.now()
	for k, e := range o.entries {
		if now.After(e.expires) {
			delete(o.entries, k)
		}
	}
}
