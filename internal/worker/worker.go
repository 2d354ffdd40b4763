package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
	"github.com/szaretsky/queueprocessor/internal/queue/pool"
	"github.com/szaretsky/queueprocessor/internal/queue/stats"
)

// runBatch processes one claimed batch on the slot's connection and gives
// the slot back when done. It outlives cancellation of ctx: a batch that has
// been claimed is always settled.
func (p *Processor) runBatch(
	ctx context.Context,
	logger *slog.Logger,
	pl *pool.Pool[Engine],
	slot *pool.Slot[Engine],
	events []*domain.Event,
	handler domain.Handler,
	batches *sync.WaitGroup,
) {
	queueID := events[0].QueueID

	p.metrics.batchStarted(queueID)
	defer batches.Done()
	defer p.metrics.batchDone(queueID)
	defer p.release(logger, pl, slot.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Batch aborted",
				slog.Int("slot", slot.ID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	st := stats.New()
	succeeded, failed, err := slot.Conn.Process(context.WithoutCancel(ctx), events, handler, st)
	if err != nil {
		logger.Error("Failed to settle batch",
			slog.Int("slot", slot.ID),
			slog.Int("count", len(events)),
			slog.String("error", err.Error()),
		)
		return
	}

	p.metrics.batchFinished(queueID, succeeded, failed, st.Elapsed())
	p.state.recordBatch(queueID, succeeded, failed, st.Throughput())

	logger.Info(st.String(),
		slog.Int("slot", slot.ID),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
	)
}
