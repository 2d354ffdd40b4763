// Package storage implements the queue engine on top of PostgreSQL.
//
// An Engine owns exactly one database connection. Claims lock rows with
// FOR UPDATE NOWAIT so that two engines can never hold the same event; a
// conflicting claim returns no events instead of waiting.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/szaretsky/queueprocessor/internal/queue/codec"
	"github.com/szaretsky/queueprocessor/internal/queue/domain"
	"github.com/szaretsky/queueprocessor/internal/queue/stats"
	"github.com/szaretsky/queueprocessor/shared/postgresql"
)

// Options tunes engine behaviour
type Options struct {
	// DeleteProcessed removes acknowledged rows instead of marking them PROCESSED
	DeleteProcessed bool
}

// Engine claims, settles and inserts events over a single connection
type Engine struct {
	client    *postgresql.Client
	db        *sqlx.DB
	logger    *slog.Logger
	opts      Options
	connected atomic.Bool
}

type eventRow struct {
	ID        int64     `db:"eventid"`
	QueueID   int       `db:"queueid"`
	Event     string    `db:"event"`
	Status    int       `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

// Connect opens a dedicated connection and returns a ready engine.
// It fails fast with an error wrapping domain.ErrConnection.
func Connect(ctx context.Context, cfg *postgresql.Config, logger *slog.Logger, opts Options) (*Engine, error) {
	client, err := postgresql.NewClient(ctx, cfg.Single(), logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return New(client, logger, opts), nil
}

// New wraps an already connected client
func New(client *postgresql.Client, logger *slog.Logger, opts Options) *Engine {
	e := &Engine{
		client: client,
		db:     client.GetDB(),
		logger: logger,
		opts:   opts,
	}
	e.connected.Store(true)
	return e
}

// Connected reports whether the engine can still be used
func (e *Engine) Connected() bool {
	return e.connected.Load()
}

// Claim locks up to count READY events of a queue and returns them as LOCKED.
// A lock conflict with another claimer yields (nil, nil). Other failures
// return an error wrapping domain.ErrClaim.
func (e *Engine) Claim(ctx context.Context, queueID, count int) ([]*domain.Event, error) {
	if count <= 0 {
		return nil, nil
	}
	if !e.connected.Load() {
		return nil, domain.ErrNotConnected
	}

	tx, err := e.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrClaim, err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []eventRow
	if err := tx.SelectContext(ctx, &rows, claimSelectQuery, queueID, domain.StatusReady, count); err != nil {
		if isLockConflict(err) {
			e.logger.Debug("Claim skipped - rows locked by another worker",
				slog.Int("queue_id", queueID),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to select events: %w", domain.ErrClaim, err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	if _, err := tx.ExecContext(ctx, claimLockQuery, domain.StatusLocked, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("%w: failed to lock events: %w", domain.ErrClaim, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit claim: %w", domain.ErrClaim, err)
	}

	events := make([]*domain.Event, len(rows))
	for i, row := range rows {
		events[i] = e.toEvent(row)
		events[i].Status = domain.StatusLocked
	}

	return events, nil
}

// Process hands every event to h, one at a time, then settles the batch in a
// single round trip: acknowledged events become PROCESSED (or are deleted),
// the rest go back to READY. Batch timing is recorded in st.
func (e *Engine) Process(ctx context.Context, events []*domain.Event, h domain.Handler, st *stats.Process) (int, int, error) {
	st.Start(len(events))

	succeeded := make([]int64, 0, len(events))
	failed := make([]int64, 0)

	for _, event := range events {
		ok, err := domain.SafeHandle(ctx, h, event)
		if ok {
			succeeded = append(succeeded, event.ID)
			continue
		}

		failed = append(failed, event.ID)
		if err != nil {
			e.logger.Warn("Event handler failed, requeueing",
				slog.Int64("event_id", event.ID),
				slog.Int("queue_id", event.QueueID),
				slog.String("error", err.Error()),
			)
		}
	}

	settleErr := e.settle(ctx, succeeded, failed)
	st.Finish(len(succeeded), len(failed))

	if settleErr != nil {
		e.logger.Error("Failed to settle events - rows stay LOCKED",
			slog.Int("succeeded", len(succeeded)),
			slog.Int("failed", len(failed)),
			slog.String("error", settleErr.Error()),
		)
		return len(succeeded), len(failed), settleErr
	}

	return len(succeeded), len(failed), nil
}

func (e *Engine) settle(ctx context.Context, succeeded, failed []int64) error {
	if len(succeeded)+len(failed) == 0 {
		return nil
	}
	if !e.connected.Load() {
		return domain.ErrNotConnected
	}

	if !e.opts.DeleteProcessed {
		all := make([]int64, 0, len(succeeded)+len(failed))
		all = append(all, succeeded...)
		all = append(all, failed...)

		_, err := e.db.ExecContext(ctx, settleQuery,
			pq.Array(succeeded), pq.Array(all), domain.StatusProcessed, domain.StatusReady)
		if err != nil {
			return fmt.Errorf("failed to settle events: %w", err)
		}
		return nil
	}

	tx, err := e.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(succeeded) > 0 {
		if _, err := tx.ExecContext(ctx, deleteEventsQuery, pq.Array(succeeded)); err != nil {
			return fmt.Errorf("failed to delete processed events: %w", err)
		}
	}
	if len(failed) > 0 {
		if _, err := tx.ExecContext(ctx, setStatusQuery, domain.StatusReady, pq.Array(failed)); err != nil {
			return fmt.Errorf("failed to requeue events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settle: %w", err)
	}
	return nil
}

// Enqueue stores a new READY event and returns its id
func (e *Engine) Enqueue(ctx context.Context, queueID int, data map[string]any) (int64, error) {
	if !e.connected.Load() {
		return 0, domain.ErrNotConnected
	}

	payload, err := codec.Encode(data)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := e.db.QueryRowxContext(ctx, enqueueQuery, queueID, payload, domain.StatusReady).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to enqueue event: %w", err)
	}

	e.logger.Debug("Event enqueued",
		slog.Int64("event_id", id),
		slog.Int("queue_id", queueID),
	)

	return id, nil
}

// Ping checks the engine's connection
func (e *Engine) Ping(ctx context.Context) error {
	if !e.connected.Load() {
		return domain.ErrNotConnected
	}
	return e.client.HealthCheck(ctx)
}

// Close releases the connection. Later calls fail with domain.ErrNotConnected.
func (e *Engine) Close() error {
	if !e.connected.CompareAndSwap(true, false) {
		return nil
	}
	return e.client.Close()
}

func (e *Engine) toEvent(row eventRow) *domain.Event {
	event := &domain.Event{
		ID:        row.ID,
		QueueID:   row.QueueID,
		Payload:   row.Event,
		Status:    domain.Status(row.Status),
		CreatedAt: row.CreatedAt,
	}

	data, err := codec.Decode(row.Event)
	if err != nil {
		e.logger.Warn("Failed to decode event payload",
			slog.Int64("event_id", row.ID),
			slog.String("error", err.Error()),
		)
		return event
	}
	event.Data = data
	return event
}

// isLockConflict reports whether err is Postgres' lock_not_available (55P03)
func isLockConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "lock_not_available"
}
