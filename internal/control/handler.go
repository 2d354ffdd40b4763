package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
	"github.com/szaretsky/queueprocessor/internal/queue/storage"
	"github.com/szaretsky/queueprocessor/internal/worker"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxCommandSize  = 1 << 20
)

// Enqueuer stores new events
type Enqueuer interface {
	Enqueue(ctx context.Context, queueID int, data map[string]any) (int64, error)
}

// EventStore reads the queue table for the inspection endpoints
type EventStore interface {
	ListEvents(ctx context.Context, filter storage.EventFilter) ([]*domain.Event, error)
	CountByStatus(ctx context.Context, queueID int) (map[domain.Status]int, error)
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	State    *worker.State
	Enqueuer Enqueuer
	// Store is optional; without it the inspection endpoints answer 503
	Store EventStore
}

// Handler serves the control protocol and the queue API
type Handler struct {
	logger   *slog.Logger
	state    *worker.State
	enqueuer Enqueuer
	store    EventStore
}

// NewHandler creates a new Handler instance
func NewHandler(deps *Dependencies) *Handler {
	return &Handler{
		logger:   deps.Logger,
		state:    deps.State,
		enqueuer: deps.Enqueuer,
		store:    deps.Store,
	}
}

// Command handles POST /
// Applies {"set":[...]} and answers {"get":"stats"}; anything else gets "OK".
func (h *Handler) Command(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandSize))
	if err != nil {
		h.logger.Warn("Failed to read control request", slog.String("error", err.Error()))
		c.String(http.StatusOK, "OK")
		return
	}

	// set entries are decoded one by one so a bad entry only drops itself
	var cmd struct {
		Set []json.RawMessage `json:"set"`
		Get string            `json:"get"`
	}
	if err := json.Unmarshal(body, &cmd); err != nil {
		h.logger.Warn("Unparseable control request",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(body)),
		)
		c.String(http.StatusOK, "OK")
		return
	}

	if len(cmd.Set) > 0 {
		patches := h.parsePatches(cmd.Set)
		applied := h.state.Apply(patches)
		h.logger.Info("Queue settings updated",
			slog.Any("queue_ids", applied),
			slog.Int("ignored", len(cmd.Set)-len(applied)),
		)
	}

	if cmd.Get == GetStats {
		c.JSON(http.StatusOK, h.state.Stats())
		return
	}

	c.String(http.StatusOK, "OK")
}

func (h *Handler) parsePatches(entries []json.RawMessage) []worker.SettingsPatch {
	patches := make([]worker.SettingsPatch, 0, len(entries))
	for i, raw := range entries {
		var p worker.SettingsPatch
		if err := json.Unmarshal(raw, &p); err != nil {
			h.logger.Warn("Skipping invalid set entry",
				slog.Int("index", i),
				slog.String("entry", string(raw)),
				slog.String("error", err.Error()),
			)
			continue
		}
		patches = append(patches, p)
	}
	return patches
}

// Stats handles GET /stats
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Stats())
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "queue-processor",
		"queues":  len(h.state.QueueIDs()),
	})
}

// Enqueue handles POST /api/v1/queues/:queue_id/events
func (h *Handler) Enqueue(c *gin.Context) {
	queueID, ok := h.queueParam(c)
	if !ok {
		return
	}

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	eventID, err := h.enqueuer.Enqueue(c.Request.Context(), queueID, req.Event)
	if err != nil {
		h.logger.Error("Failed to enqueue event",
			slog.Int("queue_id", queueID),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, domain.ErrUnknownQueue):
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown queue"})
		case errors.Is(err, domain.ErrNotConnected):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue store unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue event"})
		}
		return
	}

	c.JSON(http.StatusCreated, EnqueueResponse{
		EventID: eventID,
		QueueID: queueID,
	})
}

// ListEvents handles GET /api/v1/queues/:queue_id/events
// Lists events of a queue with optional status filter and keyset pagination.
func (h *Handler) ListEvents(c *gin.Context) {
	queueID, ok := h.queueParam(c)
	if !ok {
		return
	}
	if !h.requireStore(c) {
		return
	}

	var req ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	filter := storage.EventFilter{
		QueueID:  queueID,
		PageSize: req.PageSize,
	}

	if req.Status != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Status = status
	}

	afterID, err := DecodeEventCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}
	filter.AfterID = afterID

	events, err := h.store.ListEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list events", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list events",
		})
		return
	}

	hasMore := len(events) > req.PageSize
	if hasMore {
		events = events[:req.PageSize]
	}

	resp := ListEventsResponse{Events: make([]EventDTO, len(events))}
	for i, ev := range events {
		resp.Events[i] = EventDTO{
			EventID:   ev.ID,
			QueueID:   ev.QueueID,
			Status:    ev.Status.String(),
			Event:     ev.Data,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		}
	}
	if hasMore {
		resp.NextCursor = EncodeEventCursor(events[len(events)-1].ID)
	}

	c.JSON(http.StatusOK, resp)
}

// GetQueue handles GET /api/v1/queues/:queue_id
// Returns the live settings and status of a queue plus its backlog per status.
func (h *Handler) GetQueue(c *gin.Context) {
	queueID, ok := h.queueParam(c)
	if !ok {
		return
	}

	settings, _ := h.state.Settings(queueID)
	resp := QueueResponse{
		QueueID: queueID,
		Workers: settings.Workers,
		Frame:   settings.Frame,
		Status:  h.state.Status(queueID),
	}

	if h.store != nil {
		counts, err := h.store.CountByStatus(c.Request.Context(), queueID)
		if err != nil {
			h.logger.Error("Failed to count events", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count events",
			})
			return
		}
		resp.Backlog = make(map[string]int, len(counts))
		for status, n := range counts {
			resp.Backlog[status.String()] = n
		}
	}

	c.JSON(http.StatusOK, resp)
}

// queueParam parses :queue_id and checks that the queue is configured
func (h *Handler) queueParam(c *gin.Context) (int, bool) {
	raw := c.Param("queue_id")
	queueID, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "queue_id must be an integer",
		})
		return 0, false
	}

	if !h.state.Has(queueID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "Unknown queue",
			"queue_id": queueID,
		})
		return 0, false
	}
	return queueID, true
}

func (h *Handler) requireStore(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Queue store unavailable",
		})
		return false
	}
	return true
}
