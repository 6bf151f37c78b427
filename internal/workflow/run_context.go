package workflow

import (
	"sync"

	"github.com/pgkeep/pgkeep/internal/container"
)

// RunContext is the scoped state a workflow's stages share, backed by
// the adaptive radix tree so keys can be hierarchical ("backup.label",
// "backup.manifest") without every stage agreeing on a struct shape up
// front,  ("Run context: an adaptive-radix-tree keyed by
// string carrying typed values...").
type RunContext struct {
	mu      sync.Mutex
	tree    *container.Tree
	pending []Stage
}

// NewRunContext builds an empty run context.
func NewRunContext() *RunContext {
	return &RunContext{tree: container.NewTree()}
}

// Set stores value at key, destroying any prior value at that key.
func (rc *RunContext) Set(key string, value container.Value) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.tree.Insert([]byte(key), value)
}

// Get retrieves the value at key.
func (rc *RunContext) Get(key string) (container.Value, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.tree.Search([]byte(key))
}

// Delete removes key, running its value's destructor.
func (rc *RunContext) Delete(key string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.tree.Delete([]byte(key))
}

// AppendStages queues child stages to run immediately after the stage
// currently executing, before whatever stage the engine had already
// queued next. Only meaningful when called from within a Stage's
// Setup; the engine drains the queue right after that Setup returns.
func (rc *RunContext) AppendStages(stages ...Stage) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pending = append(rc.pending, stages...)
}

func (rc *RunContext) drainPending() []Stage {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.pending) == 0 {
		return nil
	}
	out := rc.pending
	rc.pending = nil
	return out
}
