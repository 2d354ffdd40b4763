package domain

import "fmt"

// Status is the lifecycle state of an event row.
type Status int

// Event status constants, stored as integers in the queue table
const (
	StatusReady     Status = 1
	StatusLocked    Status = 2
	StatusProcessed Status = 3
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusLocked:
		return "LOCKED"
	case StatusProcessed:
		return "PROCESSED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus converts a status name back to a Status
func ParseStatus(name string) (Status, error) {
	switch name {
	case "READY", "ready":
		return StatusReady, nil
	case "LOCKED", "locked":
		return StatusLocked, nil
	case "PROCESSED", "processed":
		return StatusProcessed, nil
	default:
		return 0, fmt.Errorf("unknown event status %q", name)
	}
}

// Queue activity states reported in the stats table
const (
	QueueStateIdle    = "idle"
	QueueStateWorking = "working"
)
