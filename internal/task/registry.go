package task

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is a concurrency-safe mapping from task ID to job state. The
// worker mutates, pollers read; the web caller is the only deleter. All
// operations serialize only around the map access itself.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Create inserts a fresh task in the queued state and returns its ID,
// 128 random bits rendered as hex.
func (r *Registry) Create() string {
	u := uuid.New()
	id := hex.EncodeToString(u[:])

	r.mu.Lock()
	r.tasks[id] = &Task{
		ID:        id,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
	r.mu.Unlock()
	return id
}

// Get returns a snapshot copy of the task.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Apply merges the patch into the task. A patch against a removed task is a
// silent no-op: a worker finishing after its task was already delivered is a
// normal race, not an error.
func (r *Registry) Apply(id string, p Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.Speed != nil {
		t.Speed = *p.Speed
	}
	if p.ETA != nil {
		t.ETA = *p.ETA
	}
	if p.FilePath != nil {
		t.FilePath = *p.FilePath
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
}

// TakeIfDone atomically claims a finished task: when the task exists, is
// done and carries an artifact path, it is removed under the same lock and
// its snapshot returned. Exactly one of any number of concurrent callers
// wins; the rest see ok=false.
func (r *Registry) TakeIfDone(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusDone || t.FilePath == "" {
		return Task{}, false
	}
	snapshot := *t
	delete(r.tasks, id)
	return snapshot, true
}

// Remove deletes the task; idempotent. Once removed the ID is permanently
// invalid.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

// Len reports the number of live tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
