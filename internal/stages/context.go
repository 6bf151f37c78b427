package stages

import (
	"fmt"

	"github.com/pgkeep/pgkeep/internal/container"
	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/workflow"
)

// putObj stores v at key as a KindObject Value with no destructor: run
// context values here are plain Go structs/interfaces owned by the
// stage chain's lifetime, not file handles or other resources that
// need cleanup on overwrite.
func putObj(rc *workflow.RunContext, key string, v any) {
	rc.Set(key, container.NewObject(v, nil, nil))
}

// getObj fetches key and type-asserts it to T, returning a typed
// pgerrors.ConfigInvalid error (a run context holding the wrong shape
// at a well-known key is a programming error in how the workflow was
// assembled, not a runtime data problem) if missing or mismatched.
func getObj[T any](rc *workflow.RunContext, key string) (T, error) {
	var zero T
	v, ok := rc.Get(key)
	if !ok {
		return zero, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("run context missing %q", key))
	}
	t, ok := v.Payload.(T)
	if !ok {
		return zero, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("run context %q has wrong type", key))
	}
	return t, nil
}
