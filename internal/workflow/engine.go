package workflow

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Engine runs a stage list against a RunContext, honoring the
// setup/execute/teardown discipline of the design.
type Engine struct {
	Name string
	Log  *slog.Logger
}

// New builds an Engine identified by name (used only for logging).
func New(name string) *Engine {
	return &Engine{Name: name, Log: slog.Default()}
}

// Run executes stages in order against rc. For each stage it calls
// Setup, then (if Setup succeeded) Execute; any child stages a Setup
// appended via rc.AppendStages are spliced in immediately after that
// stage, before whatever was already queued next. On the first Setup
// or Execute failure, remaining stages are skipped, but Teardown still
// runs for every stage whose Setup succeeded, in reverse order. Run
// returns the first error encountered.
func (e *Engine) Run(ctx context.Context, rc *RunContext, stages []Stage) error {
	log := e.Log.With("workflow", e.Name)

	var setupDone []Stage
	var firstErr error

	queue := append([]Stage{}, stages...)
	for i := 0; i < len(queue); i++ {
		stage := queue[i]

		if firstErr != nil {
			break
		}

		log.Debug("stage setup", "stage", stage.Name())
		if err := stage.Setup(ctx, rc); err != nil {
			firstErr = &StageError{Stage: stage.Name(), Hook: "setup", Err: err}
			log.Error("stage setup failed", "stage", stage.Name(), "error", err)
			break
		}
		setupDone = append(setupDone, stage)

		if children := rc.drainPending(); len(children) > 0 {
			rest := append([]Stage{}, queue[i+1:]...)
			queue = append(queue[:i+1], children...)
			queue = append(queue, rest...)
		}

		log.Debug("stage execute", "stage", stage.Name())
		if err := stage.Execute(ctx, rc); err != nil {
			firstErr = &StageError{Stage: stage.Name(), Hook: "execute", Err: err}
			log.Error("stage execute failed", "stage", stage.Name(), "error", err)
			break
		}
	}

	for i := len(setupDone) - 1; i >= 0; i-- {
		stage := setupDone[i]
		log.Debug("stage teardown", "stage", stage.Name())
		if err := stage.Teardown(ctx, rc); err != nil {
			log.Error("stage teardown failed", "stage", stage.Name(), "error", err)
			if firstErr == nil {
				firstErr = &StageError{Stage: stage.Name(), Hook: "teardown", Err: err}
			}
		}
	}

	return firstErr
}

// NamedRun pairs a label (typically a server name) with the stage list
// and run context to execute for it.
type NamedRun struct {
	Label   string
	Context *RunContext
	Stages  []Stage
}

// RunAll runs every NamedRun concurrently and joins on first error,
// generalizing the prior ad hoc sync.WaitGroup fan-out
// (controller.go's loopWg) into the first-error-wins join
// golang.org/x/sync/errgroup provides — used when a single supervisor
// command (e.g. "backup all configured servers") must fan out across
// servers whose workflows are otherwise independent.
func (e *Engine) RunAll(ctx context.Context, runs []NamedRun) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runs {
		r := r
		g.Go(func() error {
			if err := e.Run(gctx, r.Context, r.Stages); err != nil {
				return &StageError{Stage: r.Label, Hook: "run", Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}
