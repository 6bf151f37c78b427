package stages

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/workflow"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// WALSource resolves a WAL segment's bytes so MaterializeHotStandby can
// hard-link or copy it into the standby's WAL directory — the actual
// archive/streaming transport is an external collaborator, this only
// needs the segment's path on whatever local store holds it.
type WALSource interface {
	// SegmentPath returns a local filesystem path to the named segment,
	// or an unexpected_eof pgerrors.Error if it is not (yet) available.
	SegmentPath(ctx context.Context, filename string) (string, error)
}

// MaterializeHotStandbyStage fills in the WAL tail of a hot-standby data
// directory: it places each listed segment under TargetDir/pg_wal. It
// does not copy base backup files into TargetDir.
type MaterializeHotStandbyStage struct {
	workflow.BaseStage
	TargetDir  string
	WALSource  WALSource
	WALFiles   []string // segment filenames to materialize, oldest-first
}

func NewMaterializeHotStandbyStage(targetDir string, walSource WALSource, walFiles []string) *MaterializeHotStandbyStage {
	return &MaterializeHotStandbyStage{
		BaseStage: workflow.BaseStage{StageName: "materialize hot-standby"},
		TargetDir: targetDir, WALSource: walSource, WALFiles: walFiles,
	}
}

func (s *MaterializeHotStandbyStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	// Base backup files are already materialized under TargetDir by
	// RelinkStage when the hot-standby target shares a restore pipeline;
	// this stage's own job is only the WAL tail.
	walDir := filepath.Join(s.TargetDir, "pg_wal")
	if err := os.MkdirAll(walDir, 0o750); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "creating standby WAL directory", err).WithPath(walDir)
	}
	for _, name := range s.WALFiles {
		src, err := s.WALSource.SegmentPath(ctx, name)
		if err != nil {
			return err
		}
		dst := filepath.Join(walDir, name)
		if err := linkOrCopy(src, dst); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "materializing segment "+name, err).WithPath(dst)
		}
	}
	return nil
}

// HotStandbyTargetFor resolves the configured hot-standby path for a
// server, falling back to the engine default when the server has none
// of its own — mirroring the override-or-default resolution every
// other per-server setting in internal/config follows.
func HotStandbyTargetFor(server *types.Server, engineDefault string) string {
	if server.HotStandbyPath != "" {
		return server.HotStandbyPath
	}
	return engineDefault
}
