package transcription

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	progressPending    = 0
	progressProcessing = 10
	progressCompleted  = 100

	defaultMaxTasks = 1000
)

// taskRegistry keeps one task record per video. Terminal failures stay until
// cleared so the same session does not call the service again.
type taskRegistry struct {
	maxTasks int

	mu        sync.RWMutex
	tasks     map[string]*Task
	listeners []func(Task)
	now       func() time.Time
}

func newTaskRegistry(now func() time.Time) *taskRegistry {
	return &taskRegistry{
		maxTasks: defaultMaxTasks,
		tasks:    make(map[string]*Task),
		now:      now,
	}
}

func (r *taskRegistry) subscribe(fn func(Task)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// start checks for a remembered terminal failure and inserts a pending task in
// the same critical section.
func (r *taskRegistry) start(videoID string) (Task, *Error) {
	now := r.now()

	r.mu.Lock()
	if existing, ok := r.tasks[videoID]; ok && existing.TerminalFailure() {
		err := existing.Error
		r.mu.Unlock()
		return Task{}, err
	}
	task := &Task{
		ID:        uuid.NewString(),
		VideoID:   videoID,
		Status:    StatusPending,
		Progress:  progressPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tasks[videoID] = task
	snapshot := *task
	r.pruneLocked()
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, snapshot)
	return snapshot, nil
}

func (r *taskRegistry) markProcessing(videoID, taskID string) {
	r.update(videoID, taskID, func(t *Task) {
		t.Status = StatusProcessing
		t.Progress = progressProcessing
	})
}

func (r *taskRegistry) markCompleted(videoID, taskID string) {
	r.update(videoID, taskID, func(t *Task) {
		t.Status = StatusCompleted
		t.Progress = progressCompleted
		t.Error = nil
		t.Retryable = false
	})
}

func (r *taskRegistry) markFailed(videoID, taskID string, err *Error) {
	r.update(videoID, taskID, func(t *Task) {
		t.Status = StatusFailed
		t.Error = err
		t.Retryable = err.Retryable()
	})
}

func (r *taskRegistry) update(videoID, taskID string, mutate func(*Task)) {
	r.mu.Lock()
	task, ok := r.tasks[videoID]
	if !ok || task.ID != taskID {
		// forgotten or replaced while the call was running
		r.mu.Unlock()
		return
	}
	mutate(task)
	task.UpdatedAt = r.now()
	snapshot := *task
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, snapshot)
}

// terminalFailure returns the remembered terminal error for videoID, if any.
func (r *taskRegistry) terminalFailure(videoID string) *Error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if task, ok := r.tasks[videoID]; ok && task.TerminalFailure() {
		return task.Error
	}
	return nil
}

// clearFailure drops a failed task record and reports whether one existed.
func (r *taskRegistry) clearFailure(videoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[videoID]
	if !ok || task.Status != StatusFailed {
		return false
	}
	delete(r.tasks, videoID)
	return true
}

func (r *taskRegistry) forget(videoID string) {
	r.mu.Lock()
	delete(r.tasks, videoID)
	r.mu.Unlock()
}

func (r *taskRegistry) get(videoID string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[videoID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

func (r *taskRegistry) list() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		ret = append(ret, *task)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// pruneLocked evicts the oldest completed or retryable-failed tasks once the
// registry grows past maxTasks. Running tasks and terminal failures are kept.
func (r *taskRegistry) pruneLocked() {
	if r.maxTasks <= 0 || len(r.tasks) <= r.maxTasks {
		return
	}

	type candidate struct {
		videoID   string
		updatedAt time.Time
	}
	candidates := make([]candidate, 0, len(r.tasks))
	for videoID, task := range r.tasks {
		if !task.Done() || task.TerminalFailure() {
			continue
		}
		candidates = append(candidates, candidate{videoID: videoID, updatedAt: task.UpdatedAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].updatedAt.Before(candidates[j].updatedAt)
	})

	toRemove := min(len(r.tasks)-r.maxTasks, len(candidates))
	for i := 0; i < toRemove; i++ {
		delete(r.tasks, candidates[i].videoID)
	}
}

func notify(listeners []func(Task), task Task) {
	for _, fn := range listeners {
		fn(task)
	}
}
