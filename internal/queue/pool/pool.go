// Package pool bounds the number of concurrently used queue connections.
//
// A Pool doubles as a semaphore: holding a Slot is the permission to run one
// claim/process cycle. Connections are opened lazily up to the maximum and
// then reused for the lifetime of the pool; the pool never shrinks.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrRetired is returned by Acquire after Retire has been called
var ErrRetired = errors.New("connection pool retired")

// Conn is the minimum a pooled connection must support
type Conn interface {
	Close() error
}

// Opener opens a new pooled connection
type Opener[C Conn] func(ctx context.Context) (C, error)

// Slot is an occupied pool entry handed to the caller
type Slot[C Conn] struct {
	ID   int
	Conn C
}

type entry[C Conn] struct {
	conn     C
	occupied bool
}

// Pool is a fixed-capacity set of lazily opened connections
type Pool[C Conn] struct {
	mu      sync.Mutex
	max     int
	open    Opener[C]
	slots   []*entry[C]
	retired bool
}

// New creates a pool that holds at most max connections
func New[C Conn](max int, open Opener[C]) (*Pool[C], error) {
	if max < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", max)
	}
	if open == nil {
		return nil, errors.New("pool opener is required")
	}

	return &Pool[C]{
		max:   max,
		open:  open,
		slots: make([]*entry[C], 0, max),
	}, nil
}

// Acquire returns a free slot, opening a new connection only when every
// opened one is busy and the pool is below capacity. It never waits:
// (nil, nil) means every slot is occupied.
func (p *Pool[C]) Acquire(ctx context.Context) (*Slot[C], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.retired {
		return nil, ErrRetired
	}

	for i, e := range p.slots {
		if !e.occupied {
			e.occupied = true
			return &Slot[C]{ID: i, Conn: e.conn}, nil
		}
	}

	if len(p.slots) < p.max {
		conn, err := p.open(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open pooled connection: %w", err)
		}
		p.slots = append(p.slots, &entry[C]{conn: conn, occupied: true})
		return &Slot[C]{ID: len(p.slots) - 1, Conn: conn}, nil
	}

	return nil, nil
}

// Release marks a slot free. Releasing a free or unknown slot is a no-op.
// On a retired pool the connection is closed instead.
func (p *Pool[C]) Release(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.slots) {
		return nil
	}
	e := p.slots[id]
	if !e.occupied {
		return nil
	}
	e.occupied = false

	if p.retired {
		return e.conn.Close()
	}
	return nil
}

// Retire stops the pool from handing out slots. Free connections are closed
// now; occupied ones are closed when their holder releases them.
func (p *Pool[C]) Retire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.retired {
		return nil
	}
	p.retired = true

	var errs []error
	for _, e := range p.slots {
		if !e.occupied {
			if err := e.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Max returns the configured capacity
func (p *Pool[C]) Max() int {
	return p.max
}

// Size returns the number of connections opened so far
func (p *Pool[C]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// InUse returns the number of occupied slots
func (p *Pool[C]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.slots {
		if e.occupied {
			n++
		}
	}
	return n
}
