package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
	"github.com/szaretsky/queueprocessor/internal/queue/stats"
	"github.com/szaretsky/queueprocessor/shared/postgresql"
)

func alwaysAck() domain.Handler {
	return domain.HandlerFunc(func(context.Context, *domain.Event) (bool, error) { return true, nil })
}

func alwaysReject() domain.Handler {
	return domain.HandlerFunc(func(context.Context, *domain.Event) (bool, error) { return false, nil })
}

func enqueueN(t *testing.T, e *Engine, queueID, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		id, err := e.Enqueue(context.Background(), queueID, map[string]any{"seq": i, "kind": "test"})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func eventIDs(events []*domain.Event) []int64 {
	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := &postgresql.Config{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "nobody",
		Database:       "nothing",
		ConnectTimeout: time.Second,
	}

	engine, err := Connect(context.Background(), cfg, discardLogger(), Options{})

	assert.Nil(t, engine)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestEngine_ClaimAndProcess(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, Options{})
	const queueID = 7

	ids := enqueueN(t, engine, queueID, 5)

	first, err := engine.Claim(ctx, queueID, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, ids[:3], eventIDs(first))
	for i, ev := range first {
		assert.Equal(t, domain.StatusLocked, ev.Status)
		assert.Equal(t, queueID, ev.QueueID)
		assert.Equal(t, map[string]any{"seq": i, "kind": "test"}, ev.Data)
	}

	second, err := engine.Claim(ctx, queueID, 3)
	require.NoError(t, err)
	assert.Equal(t, ids[3:], eventIDs(second))

	none, err := engine.Claim(ctx, queueID, 3)
	require.NoError(t, err)
	assert.Empty(t, none)

	counts, err := engine.CountByStatus(ctx, queueID)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[domain.StatusLocked])

	for _, batch := range [][]*domain.Event{first, second} {
		st := stats.New()
		ok, failed, err := engine.Process(ctx, batch, alwaysAck(), st)
		require.NoError(t, err)
		assert.Equal(t, len(batch), ok)
		assert.Equal(t, 0, failed)
		assert.True(t, st.Finished())
	}

	counts, err = engine.CountByStatus(ctx, queueID)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[domain.StatusProcessed])
	assert.Equal(t, 0, counts[domain.StatusLocked])
	assert.Equal(t, 0, counts[domain.StatusReady])
}

func TestEngine_FailedEventsAreRequeued(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, Options{})
	const queueID = 8

	enqueueN(t, engine, queueID, 3)

	claimed, err := engine.Claim(ctx, queueID, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	ok, failed, err := engine.Process(ctx, claimed, alwaysReject(), stats.New())
	require.NoError(t, err)
	assert.Equal(t, 0, ok)
	assert.Equal(t, 3, failed)

	again, err := engine.Claim(ctx, queueID, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, eventIDs(claimed), eventIDs(again))
}

func TestEngine_ProcessCountsEveryEvent(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, Options{})
	const queueID = 9

	enqueueN(t, engine, queueID, 6)
	claimed, err := engine.Claim(ctx, queueID, 6)
	require.NoError(t, err)
	require.Len(t, claimed, 6)

	handler := domain.HandlerFunc(func(_ context.Context, ev *domain.Event) (bool, error) {
		seq, _ := ev.Get("seq")
		switch seq.(int) % 3 {
		case 0:
			return true, nil
		case 1:
			return false, errors.New("downstream unavailable")
		default:
			panic("corrupt event")
		}
	})

	st := stats.New()
	ok, failed, err := engine.Process(ctx, claimed, handler, st)
	require.NoError(t, err)
	assert.Equal(t, 6, ok+failed)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 4, failed)
	assert.Equal(t, 6, st.Total())

	counts, err := engine.CountByStatus(ctx, queueID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.StatusProcessed])
	assert.Equal(t, 4, counts[domain.StatusReady])
}

func TestEngine_DeleteProcessed(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, Options{DeleteProcessed: true})
	const queueID = 10

	enqueueN(t, engine, queueID, 4)
	claimed, err := engine.Claim(ctx, queueID, 4)
	require.NoError(t, err)

	handler := domain.HandlerFunc(func(_ context.Context, ev *domain.Event) (bool, error) {
		seq, _ := ev.Get("seq")
		return seq.(int) < 2, nil
	})
	ok, failed, err := engine.Process(ctx, claimed, handler, stats.New())
	require.NoError(t, err)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 2, failed)

	counts, err := engine.CountByStatus(ctx, queueID)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[domain.StatusProcessed])
	assert.Equal(t, 2, counts[domain.StatusReady])
}

func TestEngine_ClaimLockConflictReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, Options{})
	const queueID = 11

	ids := enqueueN(t, engine, queueID, 3)

	// Another transaction holds the rows, as a concurrent claimer would
	holder := newTestEngine(t, Options{})
	tx, err := holder.db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	var locked []int64
	require.NoError(t, tx.SelectContext(ctx, &locked,
		`SELECT eventid FROM queue WHERE eventid = ANY($1) FOR UPDATE`, pq.Array(ids)))
	require.Len(t, locked, 3)

	conflicted, err := engine.Claim(ctx, queueID, 3)
	require.NoError(t, err)
	assert.Empty(t, conflicted)

	require.NoError(t, tx.Rollback())

	claimed, err := engine.Claim(ctx, queueID, 3)
	require.NoError(t, err)
	assert.Equal(t, ids, eventIDs(claimed))
}

func TestEngine_ConcurrentClaimersNeverOverlap(t *testing.T) {
	const (
		queueID   = 12
		claimers  = 6
		numEvents = 60
		frame     = 3
	)
	ctx := context.Background()

	producer := newTestEngine(t, Options{})
	enqueueN(t, producer, queueID, numEvents)

	engines := make([]*Engine, claimers)
	for i := range engines {
		engines[i] = newTestEngine(t, Options{})
	}

	var (
		mu      sync.Mutex
		seen    = make(map[int64]int)
		wg      sync.WaitGroup
		claimed int
	)
	deadline := time.Now().Add(30 * time.Second)

	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			for time.Now().Before(deadline) {
				mu.Lock()
				done := claimed >= numEvents
				mu.Unlock()
				if done {
					return
				}

				events, err := e.Claim(ctx, queueID, frame)
				if err != nil {
					continue
				}
				mu.Lock()
				for _, ev := range events {
					seen[ev.ID]++
				}
				claimed += len(events)
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()

	assert.Len(t, seen, numEvents)
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %d claimed more than once", id)
	}
}

func TestEngine_ClosedEngine(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, Options{})
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	assert.False(t, engine.Connected())

	_, err := engine.Enqueue(ctx, 1, map[string]any{"a": 1})
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = engine.Claim(ctx, 1, 1)
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	none, err := engine.Claim(ctx, 1, 0)
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestEngine_ListEvents(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, Options{})
	const queueID = 13

	ids := enqueueN(t, engine, queueID, 5)

	page, err := engine.ListEvents(ctx, EventFilter{QueueID: queueID, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3, "one extra row signals another page")
	assert.Equal(t, ids[:3], eventIDs(page))

	page, err = engine.ListEvents(ctx, EventFilter{QueueID: queueID, PageSize: 10, AfterID: ids[2]})
	require.NoError(t, err)
	assert.Equal(t, ids[3:], eventIDs(page))

	_, err = engine.Claim(ctx, queueID, 2)
	require.NoError(t, err)

	locked, err := engine.ListEvents(ctx, EventFilter{QueueID: queueID, Status: domain.StatusLocked, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, ids[:2], eventIDs(locked))
}
