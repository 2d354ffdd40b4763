package storage

import (
	"context"
	"fmt"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
)

// EventFilter selects a page of events of one queue
type EventFilter struct {
	QueueID  int
	Status   domain.Status // zero means any status
	PageSize int
	AfterID  int64 // keyset cursor: only events with a larger id
}

// ListEvents returns up to PageSize+1 events ordered by id so the caller can
// tell whether another page exists.
func (e *Engine) ListEvents(ctx context.Context, filter EventFilter) ([]*domain.Event, error) {
	if !e.connected.Load() {
		return nil, domain.ErrNotConnected
	}

	query := `
		SELECT eventid, queueid, event, status, created_at
		FROM queue
		WHERE queueid = $1
	`
	args := []interface{}{filter.QueueID}
	argIdx := 2

	if filter.Status != 0 {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.AfterID > 0 {
		query += fmt.Sprintf(" AND eventid > $%d", argIdx)
		args = append(args, filter.AfterID)
		argIdx++
	}

	query += " ORDER BY eventid"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []eventRow
	if err := e.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*domain.Event, len(rows))
	for i, row := range rows {
		events[i] = e.toEvent(row)
	}
	return events, nil
}

// CountByStatus returns the number of events of a queue per status
func (e *Engine) CountByStatus(ctx context.Context, queueID int) (map[domain.Status]int, error) {
	if !e.connected.Load() {
		return nil, domain.ErrNotConnected
	}

	var rows []struct {
		Status int `db:"status"`
		Total  int `db:"total"`
	}
	if err := e.db.SelectContext(ctx, &rows, countByStatusQuery, queueID); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	counts := map[domain.Status]int{
		domain.StatusReady:     0,
		domain.StatusLocked:    0,
		domain.StatusProcessed: 0,
	}
	for _, row := range rows {
		counts[domain.Status(row.Status)] = row.Total
	}
	return counts, nil
}
