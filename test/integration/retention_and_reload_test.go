package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/internal/config"
	"github.com/pgkeep/pgkeep/internal/stages"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// TestRetentionBucketsOverlapAtThePresentThenDiverge drives
// ComputeRetentionSurvivors with two buckets active at once. Every
// bucket's newest period always covers "now", so a days-bucket survivor
// also satisfies the weeks bucket's nearest period — the weeks bucket's
// budget is only spent on a genuinely distinct, older period once the
// shared present-day slot is already covered.
func TestRetentionBucketsOverlapAtThePresentThenDiverge(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	day0 := &types.Backup{Label: "day-0", EndedAt: now}
	day1 := &types.Backup{Label: "day-1", EndedAt: now.Add(-24 * time.Hour)}
	week20 := &types.Backup{Label: "week-20", EndedAt: now.Add(-20 * 24 * time.Hour)}
	week27 := &types.Backup{Label: "week-27", EndedAt: now.Add(-27 * 24 * time.Hour)}

	policy := types.RetentionPolicy{Days: 2, Weeks: 2, Months: -1, Years: -1}
	survivors, losers := stages.ComputeRetentionSurvivors(
		[]*types.Backup{day0, day1, week20, week27}, policy, now,
	)

	// days bucket keeps day-0 (period 0) and day-1 (period 1). The weeks
	// bucket's period 0 is already covered by day-0, so its remaining
	// budget of one goes to the next distinct weekly period, week-20;
	// week-27 is never reached and is pruned.
	assert.ElementsMatch(t, []string{"day-0", "day-1", "week-20"}, labelsOf(survivors))
	assert.ElementsMatch(t, []string{"week-27"}, labelsOf(losers))
}

// TestRetentionNeverDeletesKeepFlaggedBackupsEvenOutsideBuckets checks
// the Keep escape hatch survives a policy that would otherwise prune
// every candidate (all counts zero).
func TestRetentionNeverDeletesKeepFlaggedBackupsEvenOutsideBuckets(t *testing.T) {
	now := time.Now().UTC()
	kept := &types.Backup{Label: "archived-0001", EndedAt: now.Add(-365 * 24 * time.Hour), Keep: true}
	pruned := &types.Backup{Label: "full-0002", EndedAt: now.Add(-365 * 24 * time.Hour)}

	survivors, losers := stages.ComputeRetentionSurvivors(
		[]*types.Backup{kept, pruned},
		types.RetentionPolicy{Days: 0, Weeks: 0, Months: 0, Years: 0},
		now,
	)
	assert.ElementsMatch(t, []string{"archived-0001"}, labelsOf(survivors))
	assert.ElementsMatch(t, []string{"full-0002"}, labelsOf(losers))
}

// TestConfigReloadWithRestartRequiredChangeKeepsLiveSnapshot drives a
// real conf-reload round trip against files on disk: the file changes a
// hot key (log_level) and a restart-required key (port). Both changes are
// reported in the Diff, but because a restart is required the live
// snapshot keeps its old values, the hot key included, until the process
// restarts — matching the management protocol's restart_required status.
func TestConfigReloadWithRestartRequiredChangeKeepsLiveSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgkeep.conf")

	require.NoError(t, os.WriteFile(path, []byte(`
[main]
host = localhost
port = 5432
base_dir = /var/lib/pgkeep
log_level = info
`), 0o644))

	initial, err := config.Load(path)
	require.NoError(t, err)
	store := config.NewStore(initial)

	require.NoError(t, os.WriteFile(path, []byte(`
[main]
host = localhost
port = 5433
base_dir = /var/lib/pgkeep
log_level = debug
`), 0o644))

	diff, err := config.Reload(store, path)
	require.NoError(t, err)

	assert.Contains(t, diff.Hot, "main.log_level")
	assert.Contains(t, diff.RestartRequired, "main.port")
	assert.True(t, diff.NeedsRestart())

	assert.Equal(t, config.LogLevel("info"), store.Load().Main.LogLevel)
}

func labelsOf(backups []*types.Backup) []string {
	out := make([]string, 0, len(backups))
	for _, b := range backups {
		out = append(out, b.Label)
	}
	return out
}
