package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
	"github.com/szaretsky/queueprocessor/internal/queue/storage"
	"github.com/szaretsky/queueprocessor/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	nextID int64
	err    error
	last   map[string]any
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ int, data map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	f.last = data
	return f.nextID, nil
}

type fakeStore struct {
	events  []*domain.Event
	counts  map[domain.Status]int
	pingErr error
	filter  storage.EventFilter
}

func (s *fakeStore) ListEvents(_ context.Context, filter storage.EventFilter) ([]*domain.Event, error) {
	s.filter = filter
	out := make([]*domain.Event, 0)
	for _, ev := range s.events {
		if ev.QueueID != filter.QueueID || ev.ID <= filter.AfterID {
			continue
		}
		if filter.Status != 0 && ev.Status != filter.Status {
			continue
		}
		out = append(out, ev)
		if len(out) == filter.PageSize+1 {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) CountByStatus(context.Context, int) (map[domain.Status]int, error) {
	return s.counts, nil
}

func (s *fakeStore) Ping(context.Context) error {
	return s.pingErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestState() *worker.State {
	return worker.NewState([]worker.Settings{
		{QueueID: 1, Workers: 1, Frame: 10},
		{QueueID: 7, Workers: 2, Frame: 3},
	})
}

func newTestRouter(state *worker.State, enq Enqueuer, store EventStore) *gin.Engine {
	deps := &Dependencies{
		Logger:   discardLogger(),
		State:    state,
		Enqueuer: enq,
	}
	if store != nil {
		deps.Store = store
	}
	return SetupRouter(deps, prometheus.NewRegistry())
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantOK    bool
		wantStats bool
	}{
		{name: "get stats", body: `{"get":"stats"}`, wantStats: true},
		{name: "set", body: `{"set":[{"queueid":7,"workers":4}]}`, wantOK: true},
		{name: "set and get", body: `{"set":[{"queueid":7,"workers":4}],"get":"stats"}`, wantStats: true},
		{name: "unknown get", body: `{"get":"queues"}`, wantOK: true},
		{name: "unrelated document", body: `{"hello":"world"}`, wantOK: true},
		{name: "not json", body: `set workers 4`, wantOK: true},
		{name: "empty body", body: ``, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(newTestState(), &fakeEnqueuer{}, nil)

			w := serve(r, http.MethodPost, "/", tt.body)

			require.Equal(t, http.StatusOK, w.Code)
			if tt.wantOK {
				assert.Equal(t, "OK", w.Body.String())
			}
			if tt.wantStats {
				var stats []worker.QueueStatus
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
				require.Len(t, stats, 2)
				assert.Equal(t, 1, stats[0].QueueID)
				assert.Equal(t, 7, stats[1].QueueID)
				assert.Equal(t, domain.QueueStateIdle, stats[1].Status)
			}
		})
	}
}

func TestCommand_SetMergesAndSignalsRestart(t *testing.T) {
	state := newTestState()
	r := newTestRouter(state, &fakeEnqueuer{}, nil)

	w := serve(r, http.MethodPost, "/", `{"set":[{"queueid":7,"workers":4},{"queueid":99,"workers":8,"frame":1}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	settings, ok := state.Settings(7)
	require.True(t, ok)
	assert.Equal(t, 4, settings.Workers)
	assert.Equal(t, 3, settings.Frame, "frame left unchanged")
	assert.True(t, state.TakeRestart(7))
	assert.False(t, state.TakeRestart(7), "restart signal is consumed once")

	assert.False(t, state.Has(99), "unknown queues are ignored")
	assert.False(t, state.TakeRestart(1))
}

func TestCommand_SetSkipsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "non-integer queueid", body: `{"set":[{"queueid":7,"workers":4},{"queueid":"x","workers":1}]}`},
		{name: "bad entry first", body: `{"set":[{"queueid":1,"frame":"many"},{"queueid":7,"workers":4}]}`},
		{name: "entry is not an object", body: `{"set":[[1,2],{"queueid":7,"workers":"4"}]}`},
		{name: "missing queueid", body: `{"set":[{"workers":9},{"queueid":"7","workers":4}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newTestState()
			r := newTestRouter(state, &fakeEnqueuer{}, nil)

			w := serve(r, http.MethodPost, "/", tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "OK", w.Body.String())

			settings, ok := state.Settings(7)
			require.True(t, ok)
			assert.Equal(t, 4, settings.Workers)
			assert.True(t, state.TakeRestart(7))

			untouched, _ := state.Settings(1)
			assert.Equal(t, 1, untouched.Workers)
			assert.Equal(t, 10, untouched.Frame)
			assert.False(t, state.TakeRestart(1))
		})
	}
}

func TestStats(t *testing.T) {
	r := newTestRouter(newTestState(), &fakeEnqueuer{}, nil)

	w := serve(r, http.MethodGet, "/stats", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"queueid":1,"workers":0,"status":"idle","throughput":0,"processed":0,"failed":0},
		{"queueid":7,"workers":0,"status":"idle","throughput":0,"processed":0,"failed":0}
	]`, w.Body.String())
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		r := newTestRouter(newTestState(), &fakeEnqueuer{}, &fakeStore{})
		w := serve(r, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"healthy"`)
	})

	t.Run("database down", func(t *testing.T) {
		r := newTestRouter(newTestState(), &fakeEnqueuer{}, &fakeStore{pingErr: errors.New("connection refused")})
		w := serve(r, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "unhealthy")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	worker.NewMetrics(reg)
	r := SetupRouter(&Dependencies{Logger: discardLogger(), State: newTestState()}, reg)

	w := serve(r, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		enqueueErr error
		wantCode   int
	}{
		{name: "created", path: "/api/v1/queues/7/events", body: `{"event":{"user":"alice"}}`, wantCode: http.StatusCreated},
		{name: "unknown queue", path: "/api/v1/queues/99/events", body: `{"event":{"a":1}}`, wantCode: http.StatusNotFound},
		{name: "bad queue id", path: "/api/v1/queues/seven/events", body: `{"event":{"a":1}}`, wantCode: http.StatusBadRequest},
		{name: "missing event", path: "/api/v1/queues/7/events", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "store unavailable", path: "/api/v1/queues/7/events", body: `{"event":{"a":1}}`, enqueueErr: domain.ErrNotConnected, wantCode: http.StatusServiceUnavailable},
		{name: "store failure", path: "/api/v1/queues/7/events", body: `{"event":{"a":1}}`, enqueueErr: errors.New("disk full"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := &fakeEnqueuer{err: tt.enqueueErr}
			r := newTestRouter(newTestState(), enq, nil)

			w := serve(r, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusCreated {
				var resp EnqueueResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, int64(1), resp.EventID)
				assert.Equal(t, 7, resp.QueueID)
				assert.Equal(t, map[string]any{"user": "alice"}, enq.last)
			}
		})
	}
}

func testEvents() []*domain.Event {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := make([]*domain.Event, 0, 5)
	for i := 1; i <= 5; i++ {
		status := domain.StatusReady
		if i <= 2 {
			status = domain.StatusProcessed
		}
		events = append(events, &domain.Event{
			ID:        int64(i),
			QueueID:   7,
			Data:      map[string]any{"seq": i},
			Status:    status,
			CreatedAt: created,
		})
	}
	return events
}

func TestListEvents_Pagination(t *testing.T) {
	store := &fakeStore{events: testEvents()}
	r := newTestRouter(newTestState(), &fakeEnqueuer{}, store)

	w := serve(r, http.MethodGet, "/api/v1/queues/7/events?page_size=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page ListEventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(1), page.Events[0].EventID)
	assert.Equal(t, "PROCESSED", page.Events[0].Status)
	assert.Equal(t, "2024-05-01T12:00:00Z", page.Events[0].CreatedAt)
	require.NotEmpty(t, page.NextCursor)

	w = serve(r, http.MethodGet, "/api/v1/queues/7/events?page_size=2&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(3), page.Events[0].EventID)

	w = serve(r, http.MethodGet, "/api/v1/queues/7/events?page_size=2&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	page = ListEventsResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	assert.Empty(t, page.NextCursor)
}

func TestListEvents_Filters(t *testing.T) {
	store := &fakeStore{events: testEvents()}
	r := newTestRouter(newTestState(), &fakeEnqueuer{}, store)

	w := serve(r, http.MethodGet, "/api/v1/queues/7/events?status=ready&page_size=500", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusReady, store.filter.Status)
	assert.Equal(t, maxPageSize, store.filter.PageSize)

	var page ListEventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Events, 3)

	w = serve(r, http.MethodGet, "/api/v1/queues/7/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultPageSize, store.filter.PageSize)
}

func TestListEvents_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		store    EventStore
		wantCode int
	}{
		{name: "bad status", path: "/api/v1/queues/7/events?status=done", store: &fakeStore{}, wantCode: http.StatusBadRequest},
		{name: "bad cursor", path: "/api/v1/queues/7/events?cursor=!!", store: &fakeStore{}, wantCode: http.StatusBadRequest},
		{name: "bad page size", path: "/api/v1/queues/7/events?page_size=many", store: &fakeStore{}, wantCode: http.StatusBadRequest},
		{name: "unknown queue", path: "/api/v1/queues/3/events", store: &fakeStore{}, wantCode: http.StatusNotFound},
		{name: "no store", path: "/api/v1/queues/7/events", wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(newTestState(), &fakeEnqueuer{}, tt.store)
			w := serve(r, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestGetQueue(t *testing.T) {
	store := &fakeStore{counts: map[domain.Status]int{
		domain.StatusReady:     4,
		domain.StatusLocked:    1,
		domain.StatusProcessed: 10,
	}}
	r := newTestRouter(newTestState(), &fakeEnqueuer{}, store)

	w := serve(r, http.MethodGet, "/api/v1/queues/7", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp QueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.QueueID)
	assert.Equal(t, 2, resp.Workers)
	assert.Equal(t, 3, resp.Frame)
	assert.Equal(t, domain.QueueStateIdle, resp.Status.Status)
	assert.Equal(t, map[string]int{"READY": 4, "LOCKED": 1, "PROCESSED": 10}, resp.Backlog)
}

func TestEventCursor(t *testing.T) {
	cursor := EncodeEventCursor(12345)
	id, err := DecodeEventCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), id)

	id, err = DecodeEventCursor("")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = DecodeEventCursor("not base64!")
	assert.Error(t, err)

	_, err = DecodeEventCursor(EncodeEventCursor(-4))
	assert.Error(t, err)
}
