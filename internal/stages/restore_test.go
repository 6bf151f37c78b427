package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/internal/workflow"
	"github.com/pgkeep/pgkeep/pkg/types"
)

func TestRestorePipelineMaterializesFiles(t *testing.T) {
	tmp := t.TempDir()
	target := LocalTarget{Root: filepath.Join(tmp, "store")}
	ctx := context.Background()

	require.NoError(t, target.Put(ctx, "primary", "full-0001", "base/PG_VERSION", strings.NewReader("16\n")))
	m := &Manifest{ChecksumAlgo: "sha256", Files: []ManifestEntry{{Path: "base/PG_VERSION", Size: 3, Checksum: "irrelevant-for-restore"}}}
	require.NoError(t, PutManifest(ctx, target, "primary", "full-0001", m))

	backup := &types.Backup{Label: "full-0001", EndLSN: types.LSN(0x1600000010)}
	allBackups := map[string]*types.Backup{"full-0001": backup}

	server := &types.Server{Name: "primary"}
	ws := &Workspace{Dir: filepath.Join(tmp, "workspace")}
	require.NoError(t, os.MkdirAll(ws.Dir, 0o750))

	restoreDir := filepath.Join(tmp, "restored")
	require.NoError(t, os.MkdirAll(restoreDir, 0o750))

	rc := workflow.NewRunContext()
	putObj(rc, KeyServer, server)
	putObj(rc, KeyBackup, backup)
	putObj(rc, KeyWorkspace, ws)

	stages := BuildRestoreStages(target, allBackups, nil, nil, restoreDir, 0o750)
	e := workflow.New("restore")
	err := e.Run(context.Background(), rc, stages)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(restoreDir, "base", "PG_VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "16\n", string(data))

	_, err = os.Stat(filepath.Join(restoreDir, "pgkeep.recovery"))
	require.NoError(t, err)
}
