package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/internal/container"
)

func recordingStage(name string, log *[]string, failHook string) Stage {
	return FuncStage{
		BaseStage: BaseStage{StageName: name},
		SetupFn: func(ctx context.Context, rc *RunContext) error {
			*log = append(*log, name+":setup")
			if failHook == "setup" {
				return errors.New("boom")
			}
			return nil
		},
		ExecuteFn: func(ctx context.Context, rc *RunContext) error {
			*log = append(*log, name+":execute")
			if failHook == "execute" {
				return errors.New("boom")
			}
			return nil
		},
		TeardownFn: func(ctx context.Context, rc *RunContext) error {
			*log = append(*log, name+":teardown")
			return nil
		},
	}
}

func TestEngineRunsStagesInOrder(t *testing.T) {
	var log []string
	e := New("test")
	rc := NewRunContext()
	stages := []Stage{
		recordingStage("a", &log, ""),
		recordingStage("b", &log, ""),
	}

	err := e.Run(context.Background(), rc, stages)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"a:setup", "a:execute",
		"b:setup", "b:execute",
		"b:teardown", "a:teardown",
	}, log)
}

func TestEngineSkipsRemainingExecuteOnSetupFailure(t *testing.T) {
	var log []string
	e := New("test")
	rc := NewRunContext()
	stages := []Stage{
		recordingStage("a", &log, ""),
		recordingStage("b", &log, "setup"),
		recordingStage("c", &log, ""),
	}

	err := e.Run(context.Background(), rc, stages)
	require.Error(t, err)
	assert.Equal(t, []string{
		"a:setup", "a:execute",
		"b:setup",
		"a:teardown",
	}, log)
}

func TestEngineTearsDownEvenTheFailingExecuteStage(t *testing.T) {
	var log []string
	e := New("test")
	rc := NewRunContext()
	stages := []Stage{
		recordingStage("a", &log, ""),
		recordingStage("b", &log, "execute"),
	}

	err := e.Run(context.Background(), rc, stages)
	require.Error(t, err)
	assert.Equal(t, []string{
		"a:setup", "a:execute",
		"b:setup", "b:execute",
		"b:teardown", "a:teardown",
	}, log)
}

func TestSetupCanAppendChildStages(t *testing.T) {
	var log []string
	e := New("test")
	rc := NewRunContext()

	parent := FuncStage{
		BaseStage: BaseStage{StageName: "parent"},
		SetupFn: func(ctx context.Context, rc *RunContext) error {
			log = append(log, "parent:setup")
			rc.AppendStages(recordingStage("child", &log, ""))
			return nil
		},
		ExecuteFn: func(ctx context.Context, rc *RunContext) error {
			log = append(log, "parent:execute")
			return nil
		},
	}

	err := e.Run(context.Background(), rc, []Stage{parent, recordingStage("next", &log, "")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"parent:setup", "parent:execute",
		"child:setup", "child:execute",
		"next:setup", "next:execute",
		"next:teardown", "child:teardown",
	}, log)
}

func TestRunContextSetGetDelete(t *testing.T) {
	rc := NewRunContext()
	rc.Set("label", container.NewString("daily-0001"))

	v, ok := rc.Get("label")
	require.True(t, ok)
	assert.Equal(t, "daily-0001", v.String())

	assert.True(t, rc.Delete("label"))
	_, ok = rc.Get("label")
	assert.False(t, ok)
}

func TestRunAllJoinsOnFirstError(t *testing.T) {
	e := New("fan-out")
	var logA, logB []string

	runs := []NamedRun{
		{Label: "server-a", Context: NewRunContext(), Stages: []Stage{recordingStage("a", &logA, "")}},
		{Label: "server-b", Context: NewRunContext(), Stages: []Stage{recordingStage("b", &logB, "execute")}},
	}

	err := e.RunAll(context.Background(), runs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server-b")
}
