package taskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/graph8-com/g8browser/internal/utils"
)

// ErrNotFound is returned when an operation references an unknown task id.
var ErrNotFound = errors.New("task not found")

// MaxTasks caps the number of stored records before retention cleanup runs.
const MaxTasks = 1000

// retainedFraction of MaxTasks survives a cleanup pass.
const retainedFraction = 0.8

// Store is the single source of truth for persisted task state. It keeps the
// full record set in memory guarded by one lock and mirrors every mutation to
// a single JSON document on disk.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*TaskRecord
	path     string
	maxTasks int
	logger   *utils.Logger
}

// New creates a Store persisting to path. Existing records are loaded; a
// corrupt or missing file starts empty.
func New(path string) *Store {
	s := &Store{
		tasks:    make(map[string]*TaskRecord),
		path:     path,
		maxTasks: MaxTasks,
		logger:   utils.NewComponentLogger("TaskStore"),
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read task file %s: %v", s.path, err)
		}
		return
	}
	var tasks map[string]*TaskRecord
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.logger.Error("Failed to decode task file %s: %v", s.path, err)
		return
	}
	s.tasks = tasks
	if s.tasks == nil {
		s.tasks = make(map[string]*TaskRecord)
	}
}

// persistLocked writes the full record set. Callers hold the write lock.
func (s *Store) persistLocked() {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal tasks: %v", err)
		return
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Error("Failed to write task file %s: %v", s.path, err)
	}
}

// Store upserts a record by id, stamping UpdatedAt. Retention cleanup runs
// before the write commits so the new record is never evicted by its own call.
func (s *Store) Store(record *TaskRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("task record requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *record
	rec.UpdatedAt = time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	s.tasks[rec.ID] = &rec

	s.cleanupLocked()
	s.persistLocked()
	return nil
}

// Get returns a copy of the record, or ErrNotFound.
func (s *Store) Get(id string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	out := *rec
	return &out, nil
}

// UpdateStatus transitions a task, attaching an optional result payload and
// error string. Entering a terminal status stamps CompletedAt.
func (s *Store) UpdateStatus(id string, status Status, result json.RawMessage, taskErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}

	now := time.Now()
	rec.Status = status
	rec.UpdatedAt = now
	if result != nil {
		rec.Result = result
	}
	if taskErr != "" {
		rec.Error = taskErr
	}
	if status.IsTerminal() {
		rec.CompletedAt = &now
	} else {
		rec.CompletedAt = nil
	}

	s.persistLocked()
	s.logger.Debug("Task %s status updated to %s", id, status)
	return nil
}

// FindSimilar scans completed tasks in the same context and returns the one
// whose text scores strictly above threshold with the highest similarity.
// Ties break in first-seen order. Returns nil when nothing clears the bar.
func (s *Store) FindSimilar(text, contextID string, threshold float64) *TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*TaskRecord, 0)
	for _, rec := range s.tasks {
		if rec.ContextID == contextID && rec.Status == StatusCompleted && rec.Task != "" {
			candidates = append(candidates, rec)
		}
	}
	// First-seen order so equal scores resolve deterministically.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	var best *TaskRecord
	bestScore := threshold
	for _, candidate := range candidates {
		score := Similarity(text, candidate.Task)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// Search filters by status and context, sorts by the requested timestamp,
// and paginates.
func (s *Store) Search(opts SearchOptions) []*TaskRecord {
	s.mu.RLock()
	results := make([]*TaskRecord, 0, len(s.tasks))
	for _, rec := range s.tasks {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if opts.ContextID != "" && rec.ContextID != opts.ContextID {
			continue
		}
		out := *rec
		results = append(results, &out)
	}
	s.mu.RUnlock()

	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = SortByCreatedAt
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := sortKey(results[i], sortBy), sortKey(results[j], sortBy)
		if opts.Ascending {
			return a.Before(b)
		}
		return b.Before(a)
	})

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(results) {
		offset = len(results)
	}
	results = results[offset:]
	if opts.Limit > 0 && opts.Limit < len(results) {
		results = results[:opts.Limit]
	}
	return results
}

func sortKey(rec *TaskRecord, field SortField) time.Time {
	switch field {
	case SortByUpdatedAt:
		return rec.UpdatedAt
	case SortByCompletedAt:
		if rec.CompletedAt != nil {
			return *rec.CompletedAt
		}
		return time.Time{}
	default:
		return rec.CreatedAt
	}
}

// History returns the most recent tasks for one context, newest first.
func (s *Store) History(contextID string, limit int) []*TaskRecord {
	return s.Search(SearchOptions{
		ContextID: contextID,
		SortBy:    SortByCreatedAt,
		Limit:     limit,
	})
}

// Delete removes one record.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	delete(s.tasks, id)
	s.persistLocked()
	return nil
}

// Clear removes all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*TaskRecord)
	s.persistLocked()
}

// Stats counts tasks per status.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Total: len(s.tasks)}
	for _, rec := range s.tasks {
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// cleanupLocked evicts the oldest terminal records once the total count
// exceeds the cap. Non-terminal records are never evicted.
func (s *Store) cleanupLocked() {
	if len(s.tasks) <= s.maxTasks {
		return
	}

	terminal := make([]*TaskRecord, 0, len(s.tasks))
	for _, rec := range s.tasks {
		if rec.Status.IsTerminal() {
			terminal = append(terminal, rec)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return completionTime(terminal[i]).After(completionTime(terminal[j]))
	})

	keep := int(float64(s.maxTasks) * retainedFraction)
	if keep >= len(terminal) {
		return
	}
	evicted := 0
	for _, rec := range terminal[keep:] {
		delete(s.tasks, rec.ID)
		evicted++
	}
	s.logger.Info("Cleaned up %d old tasks", evicted)
}

func completionTime(rec *TaskRecord) time.Time {
	if rec.CompletedAt != nil {
		return *rec.CompletedAt
	}
	return rec.UpdatedAt
}
