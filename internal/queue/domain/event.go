package domain

import "time"

// Event is one unit of work stored in the queue table
type Event struct {
	ID        int64
	QueueID   int
	Payload   string         // codec output as stored
	Data      map[string]any // decoded payload, nil if Payload could not be decoded
	Status    Status
	CreatedAt time.Time
}

// Get returns a field of the decoded payload
func (e *Event) Get(key string) (any, bool) {
	if e.Data == nil {
		return nil, false
	}
	v, ok := e.Data[key]
	return v, ok
}
