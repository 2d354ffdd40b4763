package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
)

// Settings is the live configuration of one queue
type Settings struct {
	QueueID int
	Workers int
	Frame   int
	Handler domain.Handler
}

func (s Settings) String() string {
	return fmt.Sprintf("%d: %d * %d", s.QueueID, s.Workers, s.Frame)
}

// SettingsPatch is a partial update; nil fields are left unchanged
type SettingsPatch struct {
	QueueID int  `json:"queueid"`
	Workers *int `json:"workers,omitempty"`
	Frame   *int `json:"frame,omitempty"`
}

// UnmarshalJSON accepts each field as a JSON integer or a numeric string.
// queueid is required; a null or missing workers/frame is left unset.
func (p *SettingsPatch) UnmarshalJSON(data []byte) error {
	var raw struct {
		QueueID json.RawMessage `json:"queueid"`
		Workers json.RawMessage `json:"workers"`
		Frame   json.RawMessage `json:"frame"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if absent(raw.QueueID) {
		return errors.New("queueid is required")
	}
	queueID, err := parseInt(raw.QueueID)
	if err != nil {
		return fmt.Errorf("queueid: %w", err)
	}

	patch := SettingsPatch{QueueID: queueID}
	if !absent(raw.Workers) {
		workers, err := parseInt(raw.Workers)
		if err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		patch.Workers = &workers
	}
	if !absent(raw.Frame) {
		frame, err := parseInt(raw.Frame)
		if err != nil {
			return fmt.Errorf("frame: %w", err)
		}
		patch.Frame = &frame
	}

	*p = patch
	return nil
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// parseInt reads 4, 4.0 or "4"
func parseInt(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%s is not a number", raw)
	}
	if i, err := n.Int64(); err == nil && i >= math.MinInt32 && i <= math.MaxInt32 {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%s is not an integer", raw)
	}
	return int(f), nil
}

// Merge returns s with the fields set in p applied
func (s Settings) Merge(p SettingsPatch) Settings {
	if p.Workers != nil {
		s.Workers = *p.Workers
	}
	if p.Frame != nil {
		s.Frame = *p.Frame
	}
	return s
}

// QueueStatus is the live state of one queue as reported to operators
type QueueStatus struct {
	QueueID    int     `json:"queueid"`
	Workers    int     `json:"workers"`
	Status     string  `json:"status"`
	Throughput float64 `json:"throughput"`
	Processed  int64   `json:"processed"`
	Failed     int64   `json:"failed"`
}
