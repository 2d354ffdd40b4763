package control

import "github.com/szaretsky/queueprocessor/internal/worker"

// Command is the document accepted on the control endpoint. Either field may
// be absent; a document with both applies the settings and then returns stats.
type Command struct {
	Set []worker.SettingsPatch `json:"set,omitempty"`
	Get string                 `json:"get,omitempty"`
}

// GetStats is the only recognised value of Command.Get
const GetStats = "stats"

type EnqueueRequest struct {
	Event map[string]any `json:"event" binding:"required"`
}

type EnqueueResponse struct {
	EventID int64 `json:"eventid"`
	QueueID int   `json:"queueid"`
}

type ListEventsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListEventsResponse struct {
	Events     []EventDTO `json:"events"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type EventDTO struct {
	EventID   int64          `json:"eventid"`
	QueueID   int            `json:"queueid"`
	Status    string         `json:"status"`
	Event     map[string]any `json:"event,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type QueueResponse struct {
	QueueID int                `json:"queueid"`
	Workers int                `json:"workers"`
	Frame   int                `json:"frame"`
	Status  worker.QueueStatus `json:"status"`
	Backlog map[string]int     `json:"backlog,omitempty"`
}
