// Package tasks maintains the two task queues backed by editable files.
// The files are the source of truth for content; the store overlays runtime
// status (in_progress, agent back-references) that never started in the file.
package tasks

import (
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/events"
)

// Position controls where Add inserts a task
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
)

// Store holds both queues in memory and mirrors mutations back to disk
type Store struct {
	mu    sync.RWMutex
	bus   *events.Bus
	paths map[Queue]string
	lists map[Queue][]*Task
}

// NewStore creates a store over the two queue files. Call Load before use.
func NewStore(bus *events.Bus, userPath, internalPath string) *Store {
	return &Store{
		bus: bus,
		paths: map[Queue]string{
			QueueUser:     userPath,
			QueueInternal: internalPath,
		},
		lists: map[Queue][]*Task{},
	}
}

// Load reads both queue files. Unreadable files leave the queue empty.
func (s *Store) Load() {
	for queue := range s.paths {
		s.Refresh(queue)
	}
}

// Refresh re-parses one queue file. On parse failure the last good snapshot
// is kept. Publishes tasks:<queue>:changed only when the list differs.
func (s *Store) Refresh(queue Queue) {
	path, ok := s.paths[queue]
	if !ok {
		return
	}

	parsed, err := ParseTaskFile(path)
	if err != nil {
		log.Printf("[TASKS] Re-read of %s queue failed, keeping last snapshot: %v", queue, err)
		return
	}

	s.mu.Lock()
	merged := s.mergeRuntime(queue, parsed)
	changed := !reflect.DeepEqual(s.lists[queue], merged)
	if changed {
		s.lists[queue] = merged
	}
	s.mu.Unlock()

	if changed {
		s.publishChanged(queue)
	}
}

// mergeRuntime overlays in-memory runtime state onto a freshly parsed list.
// Caller holds s.mu. A task that is in_progress in memory keeps that status
// and its agent reference even if the file was hand-edited back to pending;
// an in_progress task deleted from the file is retained as a shadow entry
// until its agent completes.
func (s *Store) mergeRuntime(queue Queue, parsed []*Task) []*Task {
	current := map[string]*Task{}
	for _, t := range s.lists[queue] {
		current[t.ID] = t
	}

	seen := map[string]bool{}
	for _, t := range parsed {
		t.Queue = queue
		seen[t.ID] = true
		old, ok := current[t.ID]
		if !ok {
			continue
		}
		if old.Status == StatusInProgress && t.Status == StatusPending {
			t.Status = StatusInProgress
		}
		t.CurrentAgentID = old.CurrentAgentID
		if !old.CreatedAt.IsZero() {
			t.CreatedAt = old.CreatedAt
		}
	}

	for _, t := range s.lists[queue] {
		if !seen[t.ID] && t.Status == StatusInProgress {
			parsed = append(parsed, t)
		}
	}
	return parsed
}

// List returns a deep-copied snapshot of one queue
func (s *Store) List(queue Queue) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.lists[queue]))
	for _, t := range s.lists[queue] {
		out = append(out, t.Clone())
	}
	return out
}

// Get returns a copy of one task
func (s *Store) Get(queue Queue, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.lists[queue] {
		if t.ID == id {
			return t.Clone(), nil
		}
	}
	return nil, coserr.New(coserr.KindNotFound, "tasks.Get", "no task %q in %s queue", id, queue)
}

// Add validates and inserts a task at the top or bottom of a queue
func (s *Store) Add(queue Queue, task *Task, pos Position) error {
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if task.ID == "" {
		task.ID = NewTask(task.Description, task.Priority).ID
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if err := task.Validate(); err != nil {
		return err
	}
	task.Queue = queue

	s.mu.Lock()
	for _, t := range s.lists[queue] {
		if t.ID == task.ID {
			s.mu.Unlock()
			return coserr.New(coserr.KindConflict, "tasks.Add", "task %q already exists in %s queue", task.ID, queue)
		}
	}
	if pos == PositionTop {
		s.lists[queue] = append([]*Task{task}, s.lists[queue]...)
	} else {
		s.lists[queue] = append(s.lists[queue], task)
	}
	err := s.saveLocked(queue)
	s.mu.Unlock()

	s.publishChanged(queue)
	return err
}

// Update applies a patch to one task
func (s *Store) Update(queue Queue, id string, patch Patch) (*Task, error) {
	s.mu.Lock()
	task := s.findLocked(queue, id)
	if task == nil {
		s.mu.Unlock()
		return nil, coserr.New(coserr.KindNotFound, "tasks.Update", "no task %q in %s queue", id, queue)
	}

	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.ApprovalRequired != nil {
		task.ApprovalRequired = *patch.ApprovalRequired
	}
	if patch.Approved != nil {
		task.Approved = *patch.Approved
	}
	if patch.CurrentAgentID != nil {
		task.CurrentAgentID = *patch.CurrentAgentID
	}
	for k, v := range patch.Metadata {
		if task.Metadata == nil {
			task.Metadata = map[string]interface{}{}
		}
		task.Metadata[k] = v
	}

	if err := task.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	err := s.saveLocked(queue)
	result := task.Clone()
	s.mu.Unlock()

	s.publishChanged(queue)
	return result, err
}

// Delete removes a task from a queue
func (s *Store) Delete(queue Queue, id string) error {
	s.mu.Lock()
	list := s.lists[queue]
	idx := -1
	for i, t := range list {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return coserr.New(coserr.KindNotFound, "tasks.Delete", "no task %q in %s queue", id, queue)
	}
	s.lists[queue] = append(list[:idx], list[idx+1:]...)
	err := s.saveLocked(queue)
	s.mu.Unlock()

	s.publishChanged(queue)
	return err
}

// Reorder rearranges a queue to match ids. IDs not in the queue are ignored;
// tasks missing from ids keep their relative order at the end.
func (s *Store) Reorder(queue Queue, ids []string) error {
	s.mu.Lock()
	byID := map[string]*Task{}
	for _, t := range s.lists[queue] {
		byID[t.ID] = t
	}

	reordered := make([]*Task, 0, len(s.lists[queue]))
	placed := map[string]bool{}
	for _, id := range ids {
		t, ok := byID[id]
		if !ok || placed[id] {
			continue
		}
		reordered = append(reordered, t)
		placed[id] = true
	}
	for _, t := range s.lists[queue] {
		if !placed[t.ID] {
			reordered = append(reordered, t)
		}
	}

	s.lists[queue] = reordered
	err := s.saveLocked(queue)
	s.mu.Unlock()

	s.publishChanged(queue)
	return err
}

// Approve marks an approval-gated task as approved
func (s *Store) Approve(queue Queue, id string) (*Task, error) {
	s.mu.Lock()
	task := s.findLocked(queue, id)
	if task == nil {
		s.mu.Unlock()
		return nil, coserr.New(coserr.KindNotFound, "tasks.Approve", "no task %q in %s queue", id, queue)
	}
	if !task.ApprovalRequired {
		s.mu.Unlock()
		return nil, coserr.New(coserr.KindConflict, "tasks.Approve", "task %q does not require approval", id)
	}
	if task.Approved {
		s.mu.Unlock()
		return nil, coserr.New(coserr.KindConflict, "tasks.Approve", "task %q is already approved", id)
	}

	task.Approved = true
	err := s.saveLocked(queue)
	result := task.Clone()
	s.mu.Unlock()

	s.publishChanged(queue)
	return result, err
}

func (s *Store) findLocked(queue Queue, id string) *Task {
	for _, t := range s.lists[queue] {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// saveLocked writes a queue back to its file. Caller holds s.mu.
func (s *Store) saveLocked(queue Queue) error {
	if err := WriteTaskFile(s.paths[queue], s.lists[queue]); err != nil {
		log.Printf("[TASKS] Write-back of %s queue failed: %v", queue, err)
		return err
	}
	return nil
}

func (s *Store) publishChanged(queue Queue) {
	if s.bus == nil {
		return
	}
	topic := events.TopicUserTasks
	if queue == QueueInternal {
		topic = events.TopicInternalTasks
	}
	s.bus.Publish(topic, map[string]interface{}{"queue": string(queue)})
}

// Counts returns pending task counts per queue for status reports
func (s *Store) Counts() (pendingUser, pendingInternal int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.lists[QueueUser] {
		if t.Status == StatusPending {
			pendingUser++
		}
	}
	for _, t := range s.lists[QueueInternal] {
		if t.Status == StatusPending {
			pendingInternal++
		}
	}
	return
}
