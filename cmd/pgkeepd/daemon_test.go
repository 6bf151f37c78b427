package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/internal/stages"
	"github.com/pgkeep/pgkeep/pkg/types"
)

func TestNewLabelIsUniqueAndTimestampPrefixed(t *testing.T) {
	a := newLabel()
	b := newLabel()
	assert.NotEqual(t, a, b)

	parts := strings.SplitN(a, "-", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], len("20060102T150405Z"))
	assert.Len(t, parts[1], 8)
}

func TestBackupIndexPutGetRoundTrips(t *testing.T) {
	tmp := t.TempDir()
	idx := newBackupIndex(stages.LocalTarget{Root: tmp})

	b := &types.Backup{Label: "full-0001", StartLSN: types.LSN(100), EndLSN: types.LSN(200)}
	require.NoError(t, idx.Put("primary", b))

	got, err := idx.Get("primary", "full-0001")
	require.NoError(t, err)
	assert.Equal(t, b.StartLSN, got.StartLSN)
	assert.Equal(t, b.EndLSN, got.EndLSN)

	_, err = idx.Get("primary", "never-written")
	require.NoError(t, err)
}

func TestBackupIndexListReflectsBackingStore(t *testing.T) {
	tmp := t.TempDir()
	target := stages.LocalTarget{Root: tmp}
	idx := newBackupIndex(target)

	require.NoError(t, idx.Put("primary", &types.Backup{Label: "full-0001"}))
	require.NoError(t, idx.Put("primary", &types.Backup{Label: "inc-0002", Parent: "full-0001"}))

	backups, err := idx.List("primary")
	require.NoError(t, err)
	labels := make([]string, 0, len(backups))
	for _, b := range backups {
		labels = append(labels, b.Label)
	}
	assert.ElementsMatch(t, []string{"full-0001", "inc-0002"}, labels)

	asMap, err := idx.AsMap("primary")
	require.NoError(t, err)
	assert.Equal(t, "full-0001", asMap["inc-0002"].Parent)

	assert.Equal(t, filepath.Join(tmp, "primary", "full-0001", backupIndexFile), idx.infoPath("primary", "full-0001"))
}
