package stages

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/internal/workflow"
	"github.com/pgkeep/pgkeep/pkg/types"
)

type fakeAuth struct{ err error }

func (f fakeAuth) Authenticate(ctx context.Context, server *types.Server) error { return f.err }

type fakeSource struct {
	files map[string]string // relative path -> content
}

func (f fakeSource) Stream(ctx context.Context, server *types.Server, dir string) ([]ManifestEntry, types.LSN, types.LSN, error) {
	var entries []ManifestEntry
	for rel, content := range f.files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			return nil, 0, 0, err
		}
		if err := os.WriteFile(full, []byte(content), 0o640); err != nil {
			return nil, 0, 0, err
		}
		entries = append(entries, ManifestEntry{Path: rel})
	}
	return entries, types.LSN(100), types.LSN(200), nil
}

func TestFullBackupPipelineShipsAllFiles(t *testing.T) {
	tmp := t.TempDir()
	target := LocalTarget{Root: filepath.Join(tmp, "store")}

	server := &types.Server{Name: "primary"}
	backup := &types.Backup{Label: "full-0001", ChecksumAlgo: "sha256"}
	ws := &Workspace{Dir: filepath.Join(tmp, "workspace")}
	require.NoError(t, os.MkdirAll(ws.Dir, 0o750))

	rc := workflow.NewRunContext()
	putObj(rc, KeyServer, server)
	putObj(rc, KeyBackup, backup)
	putObj(rc, KeyWorkspace, ws)

	source := fakeSource{files: map[string]string{"base/PG_VERSION": "16\n", "base/pg_control": "ctrl"}}
	stages := BuildBackupStages(fakeAuth{}, source, nil, nil, nil, target, 0o640)

	e := workflow.New("backup")
	err := e.Run(context.Background(), rc, stages)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(target.Root, "primary", "full-0001", "base", "PG_VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "16\n", string(data))

	manifest, err := ReadManifest(context.Background(), target, "primary", "full-0001")
	require.NoError(t, err)
	assert.Len(t, manifest.Files, 2)
	for _, f := range manifest.Files {
		assert.NotEmpty(t, f.Checksum)
	}

	// workspace must have been removed by cleanup
	_, statErr := os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBackupPipelineFailsAuthenticationBeforeTouchingDisk(t *testing.T) {
	tmp := t.TempDir()
	target := LocalTarget{Root: filepath.Join(tmp, "store")}

	server := &types.Server{Name: "primary"}
	backup := &types.Backup{Label: "full-0001"}
	ws := &Workspace{Dir: filepath.Join(tmp, "workspace")}

	rc := workflow.NewRunContext()
	putObj(rc, KeyServer, server)
	putObj(rc, KeyBackup, backup)
	putObj(rc, KeyWorkspace, ws)

	stages := BuildBackupStages(fakeAuth{err: assertErr}, fakeSource{}, nil, nil, nil, target, 0o640)
	e := workflow.New("backup")
	err := e.Run(context.Background(), rc, stages)
	require.Error(t, err)
}

var assertErr = bytesErr("bad credentials")

type bytesErr string

func (b bytesErr) Error() string { return string(b) }

func TestManifestRoundTripsThroughYAML(t *testing.T) {
	tmp := t.TempDir()
	target := LocalTarget{Root: tmp}
	m := &Manifest{ChecksumAlgo: "sha256", Files: []ManifestEntry{{Path: "a", Size: 3, Checksum: "x"}}}

	require.NoError(t, PutManifest(context.Background(), target, "srv", "lbl", m))
	got, err := ReadManifest(context.Background(), target, "srv", "lbl")
	require.NoError(t, err)
	assert.Equal(t, m.Files, got.Files)
}

func TestLocalTargetPutFetchDelete(t *testing.T) {
	tmp := t.TempDir()
	target := LocalTarget{Root: tmp}
	ctx := context.Background()

	require.NoError(t, target.Put(ctx, "srv", "lbl", "a/b.txt", bytes.NewReader([]byte("hi"))))
	rc, err := target.Fetch(ctx, "srv", "lbl", "a/b.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hi", string(data))

	require.NoError(t, target.Delete(ctx, "srv", "lbl"))
	_, err = target.Fetch(ctx, "srv", "lbl", "a/b.txt")
	assert.Error(t, err)
}
