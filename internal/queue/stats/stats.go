// Package stats measures the outcome of a single processed batch.
package stats

import (
	"fmt"
	"sync"
	"time"
)

// Process records one batch: its size, outcome and throughput.
// A fresh value is used per batch; it is immutable once Finish has been called.
type Process struct {
	mu         sync.Mutex
	now        func() time.Time
	total      int
	succeeded  int
	failed     int
	startedAt  time.Time
	elapsed    time.Duration
	throughput float64
	finished   bool
}

// New creates batch statistics using the wall clock
func New() *Process {
	return NewWithClock(time.Now)
}

// NewWithClock creates batch statistics using the given clock
func NewWithClock(now func() time.Time) *Process {
	return &Process{now: now}
}

// Start records the batch size and start time
func (p *Process) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	p.total = total
	p.startedAt = p.now()
}

// Finish records the outcome and computes throughput in events per second.
// Throughput is 0 when no time elapsed.
func (p *Process) Finish(succeeded, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	p.finished = true
	p.succeeded = succeeded
	p.failed = failed
	if !p.startedAt.IsZero() {
		p.elapsed = p.now().Sub(p.startedAt)
	}
	if secs := p.elapsed.Seconds(); secs > 0 {
		p.throughput = float64(succeeded+failed) / secs
	}
}

// Total returns the batch size passed to Start
func (p *Process) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Succeeded returns the number of acknowledged events
func (p *Process) Succeeded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succeeded
}

// Failed returns the number of requeued events
func (p *Process) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Elapsed returns the time between Start and Finish
func (p *Process) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elapsed
}

// Throughput returns events per second for the batch
func (p *Process) Throughput() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.throughput
}

// Finished reports whether Finish has been called
func (p *Process) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func (p *Process) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("Report: %d (Good) + %d (Bad). Eps: %.2f", p.succeeded, p.failed, p.throughput)
}
