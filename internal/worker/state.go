package worker

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/szaretsky/queueprocessor/internal/queue/domain"
)

// queueState holds everything shared about one queue. settings and status
// are guarded by mu; the restart signal is atomic so that test-and-clear is
// a single step.
type queueState struct {
	mu       sync.Mutex
	settings Settings
	status   QueueStatus
	restart  atomic.Bool
}

// State is shared between the orchestrator, which reads settings and writes
// status, and the control server, which does the opposite.
type State struct {
	mu     sync.RWMutex
	queues map[int]*queueState
	known  map[int]bool
}

// NewState creates the shared state for the configured queues
func NewState(settings []Settings) *State {
	s := &State{
		queues: make(map[int]*queueState, len(settings)),
		known:  make(map[int]bool, len(settings)),
	}
	for _, qs := range settings {
		s.known[qs.QueueID] = true
		q := s.entry(qs.QueueID)
		q.settings = qs
	}
	return s
}

// entry returns the state of a queue, creating it with idle defaults
func (s *State) entry(queueID int) *queueState {
	s.mu.RLock()
	q, ok := s.queues[queueID]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[queueID]; ok {
		return q
	}
	q = &queueState{
		settings: Settings{QueueID: queueID},
		status:   QueueStatus{QueueID: queueID, Status: domain.QueueStateIdle},
	}
	s.queues[queueID] = q
	return q
}

// Has reports whether queueID is a configured queue
func (s *State) Has(queueID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.known[queueID]
}

// QueueIDs returns the configured queue ids in ascending order
func (s *State) QueueIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Settings returns a snapshot of a configured queue's settings
func (s *State) Settings(queueID int) (Settings, bool) {
	if !s.Has(queueID) {
		return Settings{}, false
	}
	q := s.entry(queueID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settings, true
}

// SetHandler replaces the handler of a configured queue
func (s *State) SetHandler(queueID int, h domain.Handler) bool {
	if !s.Has(queueID) {
		return false
	}
	q := s.entry(queueID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settings.Handler = h
	return true
}

// Apply merges each patch into its queue's settings and signals that queue
// to restart. Patches for unknown queues are ignored. It returns the ids
// that were updated.
func (s *State) Apply(patches []SettingsPatch) []int {
	applied := make([]int, 0, len(patches))
	for _, p := range patches {
		if !s.Has(p.QueueID) {
			continue
		}
		q := s.entry(p.QueueID)
		q.mu.Lock()
		q.settings = q.settings.Merge(p)
		q.mu.Unlock()
		q.restart.Store(true)
		applied = append(applied, p.QueueID)
	}
	return applied
}

// RequestRestart signals a queue's loop to rebuild its pool
func (s *State) RequestRestart(queueID int) {
	if s.Has(queueID) {
		s.entry(queueID).restart.Store(true)
	}
}

// TakeRestart reports whether a restart was requested and clears the signal
func (s *State) TakeRestart(queueID int) bool {
	if !s.Has(queueID) {
		return false
	}
	return s.entry(queueID).restart.CompareAndSwap(true, false)
}

// Status returns a snapshot of a queue's status. Unknown queues get the
// idle default, which is kept for later reads.
func (s *State) Status(queueID int) QueueStatus {
	q := s.entry(queueID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Stats returns the status of every queue seen so far, ordered by id
func (s *State) Stats() []QueueStatus {
	s.mu.RLock()
	entries := make([]*queueState, 0, len(s.queues))
	for _, q := range s.queues {
		entries = append(entries, q)
	}
	s.mu.RUnlock()

	out := make([]QueueStatus, 0, len(entries))
	for _, q := range entries {
		q.mu.Lock()
		out = append(out, q.status)
		q.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueID < out[j].QueueID })
	return out
}

func (s *State) setWorkers(queueID, workers int) {
	q := s.entry(queueID)
	q.mu.Lock()
	q.status.Workers = workers
	q.mu.Unlock()
}

func (s *State) setActivity(queueID int, activity string) {
	q := s.entry(queueID)
	q.mu.Lock()
	q.status.Status = activity
	q.mu.Unlock()
}

func (s *State) recordBatch(queueID, succeeded, failed int, throughput float64) {
	q := s.entry(queueID)
	q.mu.Lock()
	q.status.Throughput = throughput
	q.status.Processed += int64(succeeded)
	q.status.Failed += int64(failed)
	q.mu.Unlock()
}
