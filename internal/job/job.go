// Package job records collection runs: what was triggered, how polling went
// and where the result was written.
package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapcollect/collector/internal/poll"
)

type State string

const (
	StatePending   State = "pending"
	StateTriggered State = "triggered"
	StatePolling   State = "polling"
	StateReady     State = "ready" // snapshot ready, download in progress
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateExhausted State = "exhausted"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExhausted, StateCancelled:
		return true
	}
	return false
}

var ErrNotFound = errors.New("job not found")

type Job struct {
	ID          string        `json:"id"`
	DatasetID   string        `json:"dataset_id"`
	SnapshotID  string        `json:"snapshot_id,omitempty"`
	State       State         `json:"state"`
	RawStatus   string        `json:"raw_status,omitempty"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Progress    poll.Progress `json:"progress"`
	OutputPath  string        `json:"output_path,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func New(datasetID string, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		DatasetID:   datasetID,
		State:       StatePending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Observe records a status snapshot from the poller.
func (j *Job) Observe(status poll.JobStatus) {
	j.State = StatePolling
	j.RawStatus = status.Raw
	j.Progress = status.Progress
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
}

// Finish moves the job to a terminal state. errMsg may be empty.
func (j *Job) Finish(state State, errMsg string) {
	now := time.Now().UTC()
	j.State = state
	j.Error = errMsg
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type Stats struct {
	Total   int           `json:"total"`
	ByState map[State]int `json:"by_state"`
}

func (s *Stats) count(j *Job) {
	if s.ByState == nil {
		s.ByState = make(map[State]int)
	}
	s.Total++
	s.ByState[j.State]++
}

// paginate sorts jobs newest first, filters by state and returns one page
// plus the filtered total.
func paginate(jobs []*Job, limit, offset int, state string) ([]*Job, int) {
	filtered := jobs[:0]
	for _, j := range jobs {
		if state == "" || string(j.State) == state {
			filtered = append(filtered, j)
		}
	}
	sort.SliceStable(filtered, func(a, b int) bool {
		return filtered[a].CreatedAt.After(filtered[b].CreatedAt)
	})

	total := len(filtered)
	if offset >= total {
		return []*Job{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return filtered[offset:end], total
}

// Store keeps jobs in memory. Stored jobs are copied on the way in and out,
// so callers may keep mutating their own value.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

func (s *Store) Add(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job already exists: %s", j.ID)
	}
	s.jobs[j.ID] = j.clone()
	return nil
}

func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.clone(), nil
}

func (s *Store) Update(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, j.ID)
	}
	s.jobs[j.ID] = j.clone()
	return nil
}

func (s *Store) List(limit, offset int, state string) ([]*Job, int) {
	s.mu.RLock()
	all := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, j.clone())
	}
	s.mu.RUnlock()
	return paginate(all, limit, offset, state)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{ByState: make(map[State]int)}
	for _, j := range s.jobs {
		stats.count(j)
	}
	return stats
}
