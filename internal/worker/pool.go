package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
	"github.com/szaretsky/queueprocessor/internal/queue/pool"
	applog "github.com/szaretsky/queueprocessor/shared/logger"
)

var errRestart = errors.New("queue restart requested")

// runQueue supervises one queue until ctx is cancelled. Each pass builds a
// pool from the current settings and polls with it until a restart is
// requested or the pool fails. Batches started by any pass are waited for
// before returning.
func (p *Processor) runQueue(ctx context.Context, queueID int) {
	logger := applog.WithQueue(p.logger, queueID)

	var batches sync.WaitGroup
	defer func() {
		batches.Wait()
		p.state.setActivity(queueID, domain.QueueStateIdle)
		logger.Info("Queue workers stopped")
	}()

	for ctx.Err() == nil {
		settings, _ := p.state.Settings(queueID)

		if settings.Workers < 1 || settings.Frame < 1 {
			p.state.setWorkers(queueID, 0)
			p.state.setActivity(queueID, domain.QueueStateIdle)
			logger.Warn("Queue paused until reconfigured",
				slog.String("settings", settings.String()),
			)
			if !p.waitForRestart(ctx, queueID) {
				return
			}
			continue
		}

		pl, err := pool.New(settings.Workers, pool.Opener[Engine](p.open))
		if err != nil {
			logger.Error("Failed to create connection pool",
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, p.retryBackoff) {
				return
			}
			continue
		}

		p.state.setWorkers(queueID, settings.Workers)
		logger.Info("Queue workers started",
			slog.Int("workers", pl.Max()),
			slog.Int("frame", settings.Frame),
		)

		err = p.poll(ctx, logger, settings, pl, &batches)

		if rerr := pl.Retire(); rerr != nil {
			logger.Warn("Failed to close idle connections",
				slog.String("error", rerr.Error()),
			)
		}

		switch {
		case errors.Is(err, errRestart):
			p.metrics.poolRestart(queueID)
			logger.Info("Restarting queue workers with new settings")
		case ctx.Err() != nil:
			return
		case err != nil:
			p.metrics.poolRestart(queueID)
			logger.Error("Queue workers failed, restarting",
				slog.String("error", err.Error()),
				slog.Duration("backoff", p.retryBackoff),
			)
			if !sleep(ctx, p.retryBackoff) {
				return
			}
		}
	}
}

// poll claims and dispatches batches using pl until a restart is requested,
// the pool fails or ctx is cancelled
func (p *Processor) poll(ctx context.Context, logger *slog.Logger, settings Settings, pl *pool.Pool[Engine], batches *sync.WaitGroup) error {
	queueID := settings.QueueID
	handler := settings.Handler
	if handler == nil {
		handler = domain.AckHandler{Logger: logger}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.state.TakeRestart(queueID) {
			return errRestart
		}

		slot, err := pl.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire connection: %w", err)
		}
		if slot == nil {
			if !sleep(ctx, p.acquireWait) {
				return ctx.Err()
			}
			continue
		}

		events, err := slot.Conn.Claim(ctx, queueID, settings.Frame)
		if err != nil {
			p.metrics.claimError(queueID)
			logger.Debug("Claim failed, retrying later",
				slog.Int("slot", slot.ID),
				slog.String("error", err.Error()),
			)
			events = nil
		}

		if len(events) == 0 {
			p.release(logger, pl, slot.ID)
			p.state.setActivity(queueID, domain.QueueStateIdle)
			p.metrics.emptyClaim(queueID)
			if !sleep(ctx, p.emptyWait) {
				return ctx.Err()
			}
			continue
		}

		p.state.setActivity(queueID, domain.QueueStateWorking)
		logger.Debug("Claimed events",
			slog.Int("slot", slot.ID),
			slog.Int("count", len(events)),
		)

		batches.Add(1)
		go p.runBatch(ctx, logger, pl, slot, events, handler, batches)
	}
}

// waitForRestart blocks until the queue is reconfigured; false means ctx ended first
func (p *Processor) waitForRestart(ctx context.Context, queueID int) bool {
	for !p.state.TakeRestart(queueID) {
		if !sleep(ctx, p.emptyWait) {
			return false
		}
	}
	return true
}

func (p *Processor) release(logger *slog.Logger, pl *pool.Pool[Engine], id int) {
	if err := pl.Release(id); err != nil {
		logger.Warn("Failed to release connection",
			slog.Int("slot", id),
			slog.String("error", err.Error()),
		)
	}
}
