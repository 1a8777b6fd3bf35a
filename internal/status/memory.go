package status

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store guarded by a single mutex, making every
// read-then-write sequence atomic with respect to other callers. It backs
// unit tests and single-process deployments that do not need durability.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*JobStatus
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*JobStatus),
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateID
	}

	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *job
	return &clone, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from, to State, upd *Update) (*JobStatus, error) {
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	if job.State != from {
		return nil, &StaleStateError{ID: id, Expected: from, Actual: job.State}
	}

	now := time.Now()
	job.State = to
	job.UpdatedAt = now

	if upd != nil {
		if upd.Result != nil {
			job.Result = upd.Result
		}
		if upd.WorkerID != nil {
			job.WorkerID = upd.WorkerID
		}
	}

	if to == StateRunning {
		job.StartedAt = &now
		job.LastHeartbeatAt = &now
	}
	if to.IsTerminal() {
		job.FinishedAt = &now
	}

	clone := *job
	return &clone, nil
}

func (s *MemoryStore) CountActiveByTarget(ctx context.Context, jobClass, targetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, job := range s.jobs {
		if job.JobClass == jobClass && job.TargetID == targetID && isActive(job.State) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) FindActiveByOwnerAndClass(ctx context.Context, ownerID, jobClass string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *JobStatus
	for _, job := range s.jobs {
		if job.OwnerID != ownerID || job.JobClass != jobClass {
			continue
		}
		switch job.State {
		case StateCreated, StatePending, StateWaiting, StateRunning:
		default:
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) ||
			(job.CreatedAt.Equal(newest.CreatedAt) && job.ID > newest.ID) {
			newest = job
		}
	}

	if newest == nil {
		return nil, nil
	}

	clone := *newest
	return &clone, nil
}

func (s *MemoryStore) FindOldestWaiting(ctx context.Context, ownerID, jobClass string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *JobStatus
	for _, job := range s.jobs {
		if job.OwnerID != ownerID || job.JobClass != jobClass || job.State != StateWaiting {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) ||
			(job.CreatedAt.Equal(oldest.CreatedAt) && job.ID < oldest.ID) {
			oldest = job
		}
	}

	if oldest == nil {
		return nil, nil
	}

	clone := *oldest
	return &clone, nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []JobStatus
	for _, job := range s.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.JobClass != "" && job.JobClass != filter.JobClass {
			continue
		}
		if filter.State != "" && job.State != filter.State {
			continue
		}
		if filter.Cursor != nil {
			if job.CreatedAt.After(filter.Cursor.CreatedAt) {
				continue
			}
			if job.CreatedAt.Equal(filter.Cursor.CreatedAt) && job.ID >= filter.Cursor.JobID {
				continue
			}
		}
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}

	return jobs, nil
}

func (s *MemoryStore) RequestCancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	job.CancelRequested = true
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if job.State == StateRunning {
		now := time.Now()
		job.LastHeartbeatAt = &now
		job.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !job.State.IsTerminal() {
		return ErrNotTerminal
	}

	delete(s.jobs, id)
	return nil
}

func isActive(s State) bool {
	return s == StatePending || s == StateRunning
}
