package stages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pgkeep/pgkeep/pkg/types"
)

func TestCombineIncrementalFileGranularity(t *testing.T) {
	full := &types.Backup{Label: "full-0001"}
	inc1 := &types.Backup{Label: "inc-0002", Parent: "full-0001"}
	inc2 := &types.Backup{Label: "inc-0003", Parent: "inc-0002"}
	chainBackups := []*types.Backup{full, inc1, inc2}

	fullManifest := &Manifest{Files: []ManifestEntry{
		{Path: "base/1", Checksum: "a1", Size: 1},
		{Path: "base/2", Checksum: "b1", Size: 1},
	}}
	inc1Manifest := &Manifest{Files: []ManifestEntry{
		{Path: "base/1", Checksum: "a1", Size: 1, FromParent: true},
		{Path: "base/2", Checksum: "b2", Size: 2}, // changed in inc1
	}}
	inc2Manifest := &Manifest{Files: []ManifestEntry{
		{Path: "base/1", Checksum: "a1", Size: 1, FromParent: true},
		{Path: "base/2", Checksum: "b2", Size: 2, FromParent: true},
	}}
	chainManifests := []*Manifest{fullManifest, inc1Manifest, inc2Manifest}

	combined := CombineIncremental(chainBackups, chainManifests)

	owners := map[string]string{}
	for _, f := range combined.Files {
		owners[f.Path] = f.OwnerLabel
	}
	assert.Equal(t, "full-0001", owners["base/1"])
	assert.Equal(t, "inc-0002", owners["base/2"])
}

func TestCombineIncrementalFallsBackWhenNoOwnerFound(t *testing.T) {
	full := &types.Backup{Label: "full-0001"}
	chainBackups := []*types.Backup{full}
	fullManifest := &Manifest{Files: []ManifestEntry{{Path: "orphan", Checksum: "z", Size: 1, FromParent: true}}}

	combined := CombineIncremental(chainBackups, []*Manifest{fullManifest})
	assert.Equal(t, "full-0001", combined.Files[0].OwnerLabel)
}

func TestComputeRetentionSurvivorsKeepsMostRecentPerBucket(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	mk := func(label string, daysAgo int) *types.Backup {
		return &types.Backup{Label: label, EndedAt: now.Add(-time.Duration(daysAgo) * 24 * time.Hour)}
	}
	candidates := []*types.Backup{
		mk("d0", 0), mk("d1", 1), mk("d2", 2), mk("d3", 3),
	}
	policy := types.RetentionPolicy{Days: 2, Weeks: -1, Months: -1, Years: -1}

	survivors, losers := ComputeRetentionSurvivors(candidates, policy, now)
	var survivorLabels []string
	for _, b := range survivors {
		survivorLabels = append(survivorLabels, b.Label)
	}
	assert.ElementsMatch(t, []string{"d0", "d1"}, survivorLabels)
	assert.Len(t, losers, 2)
}

func TestComputeRetentionSurvivorsNeverDeletesKeepFlagged(t *testing.T) {
	now := time.Now()
	old := &types.Backup{Label: "ancient", EndedAt: now.Add(-365 * 24 * time.Hour), Keep: true}
	policy := types.RetentionPolicy{Days: -1, Weeks: -1, Months: -1, Years: -1}

	survivors, losers := ComputeRetentionSurvivors([]*types.Backup{old}, policy, now)
	assert.Len(t, survivors, 1)
	assert.Len(t, losers, 0)
}
