// Package worker runs the per-queue worker pools.
//
// For every configured queue a supervising goroutine owns a connection pool
// sized to the queue's worker count. It repeatedly takes a pool slot, claims
// a batch and hands the batch to its own goroutine, which releases the slot
// when done. A settings change rebuilds the pool without touching batches
// that are already running.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
	"github.com/szaretsky/queueprocessor/internal/queue/stats"
)

const (
	defaultAcquireWait  = time.Millisecond
	defaultEmptyWait    = time.Second
	defaultRetryBackoff = 5 * time.Second
)

// Engine is a queue engine owning one store connection
type Engine interface {
	Claim(ctx context.Context, queueID, count int) ([]*domain.Event, error)
	Process(ctx context.Context, events []*domain.Event, h domain.Handler, st *stats.Process) (int, int, error)
	Enqueue(ctx context.Context, queueID int, data map[string]any) (int64, error)
	Close() error
}

// EngineOpener opens a new engine connection
type EngineOpener func(ctx context.Context) (Engine, error)

// Config holds processor configuration
type Config struct {
	Logger  *slog.Logger
	State   *State
	Open    EngineOpener
	Metrics *Metrics

	// AcquireWait is the pause when every pool slot is busy
	AcquireWait time.Duration
	// EmptyWait is the pause after a claim returned nothing
	EmptyWait time.Duration
	// RetryBackoff is the pause before rebuilding a pool that failed
	RetryBackoff time.Duration
}

// Processor supervises the worker pools of all configured queues
type Processor struct {
	id           string
	logger       *slog.Logger
	state        *State
	open         EngineOpener
	metrics      *Metrics
	acquireWait  time.Duration
	emptyWait    time.Duration
	retryBackoff time.Duration

	running atomic.Bool

	mainMu sync.Mutex
	main   Engine
}

// NewProcessor creates a processor instance
func NewProcessor(cfg *Config) (*Processor, error) {
	if cfg.State == nil {
		return nil, errors.New("processor state is required")
	}
	if cfg.Open == nil {
		return nil, errors.New("processor engine opener is required")
	}

	p := &Processor{
		id:           uuid.New().String(),
		logger:       cfg.Logger,
		state:        cfg.State,
		open:         cfg.Open,
		metrics:      cfg.Metrics,
		acquireWait:  cfg.AcquireWait,
		emptyWait:    cfg.EmptyWait,
		retryBackoff: cfg.RetryBackoff,
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With(slog.String("processor_id", p.id))
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if p.acquireWait <= 0 {
		p.acquireWait = defaultAcquireWait
	}
	if p.emptyWait <= 0 {
		p.emptyWait = defaultEmptyWait
	}
	if p.retryBackoff <= 0 {
		p.retryBackoff = defaultRetryBackoff
	}

	return p, nil
}

// ID returns the processor's instance id
func (p *Processor) ID() string {
	return p.id
}

// State returns the shared settings and status table
func (p *Processor) State() *State {
	return p.state
}

// Register sets the handler of a configured queue. Queues without a
// handler acknowledge every event. A running queue picks the handler up
// for batches claimed after its pool is rebuilt.
func (p *Processor) Register(queueID int, h domain.Handler) error {
	if !p.state.SetHandler(queueID, h) {
		return fmt.Errorf("%w: %d", domain.ErrUnknownQueue, queueID)
	}
	if p.running.Load() {
		p.state.RequestRestart(queueID)
	}
	return nil
}

// Run starts one supervising goroutine per configured queue and blocks until
// ctx is cancelled. It returns once every queue has stopped claiming and all
// in-flight batches have finished.
func (p *Processor) Run(ctx context.Context) error {
	queueIDs := p.state.QueueIDs()
	p.logger.Info("Starting queue processor",
		slog.Int("queues", len(queueIDs)),
	)

	p.running.Store(true)
	defer p.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	for _, queueID := range queueIDs {
		queueID := queueID
		g.Go(func() error {
			p.runQueue(gctx, queueID)
			return nil
		})
	}
	err := g.Wait()

	p.closeMain()
	p.logger.Info("Queue processor stopped")
	return err
}

// Enqueue stores a new event for a configured queue
func (p *Processor) Enqueue(ctx context.Context, queueID int, data map[string]any) (int64, error) {
	if !p.state.Has(queueID) {
		return 0, fmt.Errorf("%w: %d", domain.ErrUnknownQueue, queueID)
	}

	engine, err := p.mainEngine(ctx)
	if err != nil {
		p.logger.Error("No connection while enqueueing",
			slog.Int("queue_id", queueID),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%w: %w", domain.ErrNotConnected, err)
	}

	return engine.Enqueue(ctx, queueID, data)
}

// mainEngine lazily opens the connection used for enqueueing
func (p *Processor) mainEngine(ctx context.Context) (Engine, error) {
	p.mainMu.Lock()
	defer p.mainMu.Unlock()

	if p.main != nil {
		return p.main, nil
	}
	engine, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	p.main = engine
	return engine, nil
}

func (p *Processor) closeMain() {
	p.mainMu.Lock()
	defer p.mainMu.Unlock()

	if p.main == nil {
		return
	}
	if err := p.main.Close(); err != nil {
		p.logger.Warn("Failed to close main connection",
			slog.String("error", err.Error()),
		)
	}
	p.main = nil
}

// sleep waits for d or until ctx is done; it reports whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
