// Package workflow implements the stage engine the design describes:
// "A workflow is a typed list of stages. The engine invokes for each
// stage, in order: setup(ctx), execute(ctx), teardown(ctx)." Stages may
// append children during setup, and on first failure the engine still
// runs every teardown that had a paired setup, in reverse order.
//
// There is no single file elsewhere in the codebase this is ported
// from — the controller (internal/controller/controller.go) runs four
// long-lived loops coordinating shared state, not a scoped, ordered
// stage pipeline, so it contributes the logging and error discipline
// (structured slog fields, wrapped errors) rather than the control flow
// itself. The control flow follows the documented engine description
// directly.
package workflow

import (
	"context"
	"fmt"
)

// Stage is one unit of a workflow: an acquire/run/release triple. Setup
// may call AppendStages on the RunContext it receives to insert stages
// after itself and before the next already-queued stage.
type Stage interface {
	Name() string
	Setup(ctx context.Context, rc *RunContext) error
	Execute(ctx context.Context, rc *RunContext) error
	Teardown(ctx context.Context, rc *RunContext) error
}

// BaseStage gives concrete stages a name and no-op hooks to embed and
// override selectively, mirroring how most stages only care about one
// or two of the three hooks.
type BaseStage struct {
	StageName string
}

func (b BaseStage) Name() string                                        { return b.StageName }
func (b BaseStage) Setup(ctx context.Context, rc *RunContext) error      { return nil }
func (b BaseStage) Execute(ctx context.Context, rc *RunContext) error    { return nil }
func (b BaseStage) Teardown(ctx context.Context, rc *RunContext) error   { return nil }

// FuncStage adapts three plain functions into a Stage, for stages
// simple enough not to warrant their own type.
type FuncStage struct {
	BaseStage
	SetupFn    func(ctx context.Context, rc *RunContext) error
	ExecuteFn  func(ctx context.Context, rc *RunContext) error
	TeardownFn func(ctx context.Context, rc *RunContext) error
}

func (f FuncStage) Setup(ctx context.Context, rc *RunContext) error {
	if f.SetupFn == nil {
		return nil
	}
	return f.SetupFn(ctx, rc)
}

func (f FuncStage) Execute(ctx context.Context, rc *RunContext) error {
	if f.ExecuteFn == nil {
		return nil
	}
	return f.ExecuteFn(ctx, rc)
}

func (f FuncStage) Teardown(ctx context.Context, rc *RunContext) error {
	if f.TeardownFn == nil {
		return nil
	}
	return f.TeardownFn(ctx, rc)
}

// StageError wraps a failure with the stage and hook it occurred in, so
// logs and the supervisor's status reporting can name exactly where a
// workflow broke.
type StageError struct {
	Stage string
	Hook  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Hook, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
