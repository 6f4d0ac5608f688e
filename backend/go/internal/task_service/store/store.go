package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"Thalos_Prime/backend/go/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a task id is unknown.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change violates the task state machine.
	// It signals a programming error in the caller; the record is left untouched.
	ErrInvalidTransition = errors.New("invalid task transition")
)

// TaskStore defines the operations available on the task record set.
type TaskStore interface {
	Create(intent string, metadata map[string]string) models.Task
	Get(id string) (models.Task, bool)
	List() []models.Task
	Transition(id string, status models.TaskStatus, outcome string) (models.Task, error)
	Summary() models.Summary
}

// record is the stored form of a task plus its insertion sequence.
type record struct {
	task models.Task
	seq  uint64
}

// MemoryTaskStore keeps every task in memory for the lifetime of the process.
// All access goes through a single RWMutex; snapshots handed out are deep copies.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*record
	seq   uint64
	now   func() time.Time
	newID func() string
}

// Option configures a MemoryTaskStore.
type Option func(*MemoryTaskStore)

// WithClock overrides the time source used for created_at / updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryTaskStore) {
		s.now = now
	}
}

// WithIDGenerator overrides the task id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *MemoryTaskStore) {
		s.newID = gen
	}
}

// NewMemoryTaskStore creates an empty store.
func NewMemoryTaskStore(opts ...Option) *MemoryTaskStore {
	s := &MemoryTaskStore{
		tasks: make(map[string]*record),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new pending task and returns a copy of it.
func (s *MemoryTaskStore) Create(intent string, metadata map[string]string) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for {
		if _, exists := s.tasks[id]; !exists {
			break
		}
		id = s.newID()
	}

	now := s.now()
	s.seq++
	rec := &record{
		task: models.Task{
			ID:        id,
			Intent:    intent,
			Status:    models.TaskStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
			Metadata:  models.CopyMetadata(metadata),
		},
		seq: s.seq,
	}
	s.tasks[id] = rec
	return rec.task.Clone()
}

// Get returns a snapshot of the task, or false if the id is unknown.
func (s *MemoryTaskStore) Get(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return rec.task.Clone(), true
}

// List returns every task, newest first. Tasks sharing a created_at are
// ordered by insertion, most recently inserted first.
func (s *MemoryTaskStore) List() []models.Task {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.tasks))
	for _, rec := range s.tasks {
		recs = append(recs, rec)
	}
	out := make([]models.Task, len(recs))
	sort.Slice(recs, func(i, j int) bool {
		ci, cj := recs[i].task.CreatedAt, recs[j].task.CreatedAt
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return recs[i].seq > recs[j].seq
	})
	for i, rec := range recs {
		out[i] = rec.task.Clone()
	}
	s.mu.RUnlock()
	return out
}

// Transition moves a task to status. For Completed the outcome becomes the
// result, for Failed it becomes the error; it is ignored otherwise.
func (s *MemoryTaskStore) Transition(id string, status models.TaskStatus, outcome string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cur := rec.task.Status
	if !cur.CanTransitionTo(status) {
		return rec.task.Clone(), fmt.Errorf("%w: %s -> %s for task %s", ErrInvalidTransition, cur, status, id)
	}

	updated := rec.task
	updated.Status = status
	updated.UpdatedAt = s.now()
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		updated.UpdatedAt = updated.CreatedAt
	}
	switch status {
	case models.TaskStatusCompleted:
		result := outcome
		updated.Result = &result
		updated.Error = nil
	case models.TaskStatusFailed:
		errMsg := outcome
		updated.Error = &errMsg
		updated.Result = nil
	case models.TaskStatusPending, models.TaskStatusRunning:
		updated.Result = nil
		updated.Error = nil
	}
	rec.task = updated
	return updated.Clone(), nil
}

// Summary counts tasks per status by scanning the current record set.
func (s *MemoryTaskStore) Summary() models.Summary {
	sum := models.NewSummary()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.tasks {
		sum.Total++
		sum.ByStatus[rec.task.Status]++
	}
	return sum
}

// Len returns the number of stored tasks.
func (s *MemoryTaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
