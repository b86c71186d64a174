// Package pool keeps a bounded free-list of reusable connections.
//
// Acquire never waits: when no idle connection is available a new one is
// opened, so the number of connections in use may exceed the capacity.
// Release keeps a connection only while the free-list has room and closes
// it otherwise.
package pool

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("pool: closed")

// OpenFunc creates a new physical connection.
type OpenFunc[T any] func(ctx context.Context) (T, error)

// CloseFunc tears down a physical connection.
type CloseFunc[T any] func(T) error

type Stats struct {
	Capacity int
	Idle     int
	InUse    int
	Opened   int64
	Closed   int64
	// Overflow counts connections opened while InUse was already at capacity.
	Overflow int64
}

type Pool[T any] struct {
	mu       sync.Mutex
	idle     []T
	capacity int
	inUse    int
	opened   int64
	closedN  int64
	overflow int64
	closed   bool

	open  OpenFunc[T]
	close CloseFunc[T]

	// OnOverflow, if set before first use, is called for every overflow open.
	OnOverflow func()
}

func New[T any](capacity int, open OpenFunc[T], closeFn CloseFunc[T]) *Pool[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool[T]{
		idle:     make([]T, 0, capacity),
		capacity: capacity,
		open:     open,
		close:    closeFn,
	}
}

// Warm opens connections until n are idle (bounded by capacity).
func (p *Pool[T]) Warm(ctx context.Context, n int) error {
	if n > p.capacity {
		n = p.capacity
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		if len(p.idle) >= n {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		c, err := p.open(ctx)
		if err != nil {
			return err
		}

		p.mu.Lock()
		p.opened++
		if p.closed || len(p.idle) >= p.capacity {
			p.mu.Unlock()
			p.destroy(c)
			if p.isClosed() {
				return ErrClosed
			}
			return nil
		}
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
}

// Acquire returns an idle connection or opens a new one.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()
		return c, nil
	}
	over := p.inUse >= p.capacity
	if over {
		p.overflow++
	}
	p.inUse++
	p.mu.Unlock()
	if over && p.OnOverflow != nil {
		p.OnOverflow()
	}

	c, err := p.open(ctx)
	p.mu.Lock()
	if err != nil {
		p.inUse--
		p.mu.Unlock()
		return zero, err
	}
	p.opened++
	p.mu.Unlock()
	return c, nil
}

// Release hands a healthy connection back.
func (p *Pool[T]) Release(c T) {
	p.mu.Lock()
	p.inUse--
	if !p.closed && len(p.idle) < p.capacity {
		p.idle = append(p.idle, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.destroy(c)
}

// Discard closes a broken connection instead of returning it.
func (p *Pool[T]) Discard(c T) {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
	p.destroy(c)
}

// Close closes every idle connection. Connections still in use are closed
// as they are released.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		if err := p.destroy(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity: p.capacity,
		Idle:     len(p.idle),
		InUse:    p.inUse,
		Opened:   p.opened,
		Closed:   p.closedN,
		Overflow: p.overflow,
	}
}

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[T]) destroy(c T) error {
	p.mu.Lock()
	p.closedN++
	p.mu.Unlock()
	if p.close == nil {
		return nil
	}
	return p.close(c)
}
