package stages

import (
	"context"
	"sort"
	"time"

	"github.com/pgkeep/pgkeep/internal/workflow"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// RunContext keys private to the retention workflow.
const (
	KeyRetentionCandidates = "retention_candidates"
	KeyRetentionPolicy     = "retention_policy"
	KeyRetentionSurvivors  = "retention_survivors"
	KeyRetentionLosers     = "retention_losers"
	KeyRetentionNow        = "retention_now"
)

// ScanBackupsStage loads the candidate set — every backup for a server
// that isn't already flagged Keep — from the run context (populated by
// the caller from the supervisor's backup index; listing the backing
// store itself is the supervisor's job, not this stage's).
type ScanBackupsStage struct{ workflow.BaseStage }

func NewScanBackupsStage() *ScanBackupsStage {
	return &ScanBackupsStage{BaseStage: workflow.BaseStage{StageName: "scan backups"}}
}

func (s *ScanBackupsStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	_, err := getObj[[]*types.Backup](rc, KeyRetentionCandidates)
	return err
}

// ComputeSurvivorsStage applies the bucket algorithm and
// splits the candidate set into survivors and losers.
type ComputeSurvivorsStage struct{ workflow.BaseStage }

func NewComputeSurvivorsStage() *ComputeSurvivorsStage {
	return &ComputeSurvivorsStage{BaseStage: workflow.BaseStage{StageName: "compute survivors"}}
}

func (s *ComputeSurvivorsStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	candidates, err := getObj[[]*types.Backup](rc, KeyRetentionCandidates)
	if err != nil {
		return err
	}
	policy, err := getObj[types.RetentionPolicy](rc, KeyRetentionPolicy)
	if err != nil {
		return err
	}
	now, err := getObj[time.Time](rc, KeyRetentionNow)
	if err != nil {
		return err
	}

	survivors, losers := ComputeRetentionSurvivors(candidates, policy, now)
	putObj(rc, KeyRetentionSurvivors, survivors)
	putObj(rc, KeyRetentionLosers, losers)
	return nil
}

// DeleteLosersStage removes every loser from the ShipTarget. Per
// the failure table, "retention: per-backup deletion
// failure is isolated; others proceed" — so this stage collects errors
// but never stops partway through the batch.
type DeleteLosersStage struct {
	workflow.BaseStage
	Target ShipTarget
	Server string

	// Errors records per-label deletion failures after Execute runs, for
	// the caller (typically the supervisor) to report without aborting
	// the rest of the batch.
	Errors map[string]error
}

func NewDeleteLosersStage(target ShipTarget, server string) *DeleteLosersStage {
	return &DeleteLosersStage{BaseStage: workflow.BaseStage{StageName: "delete losers"}, Target: target, Server: server}
}

func (s *DeleteLosersStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	losers, err := getObj[[]*types.Backup](rc, KeyRetentionLosers)
	if err != nil {
		return err
	}
	s.Errors = make(map[string]error)
	for _, b := range losers {
		if b.Keep {
			continue
		}
		if err := s.Target.Delete(ctx, s.Server, b.Label); err != nil {
			s.Errors[b.Label] = err
		}
	}
	return nil
}

// RewriteManifestStage updates the FromParent linkage of every
// surviving incremental whose parent was just deleted, so the combine
// algorithm never tries to chase a link into a backup that no longer
// exists: each orphaned survivor's manifest entries that were
// FromParent against a deleted parent are re-pointed to materialize
// their own copy (FromParent cleared) the next time they participate
// in a restore. The stage does not re-fetch or re-hash bytes: it clears
// the flags and writes each changed manifest back with PutManifest.
type RewriteManifestStage struct {
	workflow.BaseStage
	Target ShipTarget
	Server string
}

func NewRewriteManifestStage(target ShipTarget, server string) *RewriteManifestStage {
	return &RewriteManifestStage{BaseStage: workflow.BaseStage{StageName: "rewrite manifest"}, Target: target, Server: server}
}

func (s *RewriteManifestStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	survivors, err := getObj[[]*types.Backup](rc, KeyRetentionSurvivors)
	if err != nil {
		return err
	}
	losers, err := getObj[[]*types.Backup](rc, KeyRetentionLosers)
	if err != nil {
		return err
	}
	deletedLabels := make(map[string]bool, len(losers))
	for _, l := range losers {
		deletedLabels[l.Label] = true
	}

	for _, b := range survivors {
		if !deletedLabels[b.Parent] {
			continue
		}
		m, err := ReadManifest(ctx, s.Target, s.Server, b.Label)
		if err != nil {
			return err
		}
		changed := false
		for i := range m.Files {
			if m.Files[i].FromParent {
				m.Files[i].FromParent = false
				changed = true
			}
		}
		if changed {
			if err := PutManifest(ctx, s.Target, s.Server, b.Label, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildRetentionStages assembles the retention composition:
// scan backups -> compute survivors -> delete losers -> rewrite manifest.
func BuildRetentionStages(target ShipTarget, server string) []workflow.Stage {
	return []workflow.Stage{
		NewScanBackupsStage(),
		NewComputeSurvivorsStage(),
		NewDeleteLosersStage(target, server),
		NewRewriteManifestStage(target, server),
	}
}

// retentionBucket identifies one of the four period granularities a
// policy's counts apply to.
type retentionBucket struct {
	name  string
	count int
	// periodKey buckets t into a comparable period identifier: two
	// backups fall in the same period iff periodKey returns equal values.
	periodKey func(t time.Time) (year, period int)
}

// ComputeRetentionSurvivors implements the retention
// algorithm: "buckets are {days, weeks, months, years}. For each
// bucket with positive count k, keep the most recent k non-overlapping
// backups whose end times fall in distinct bucket periods from the
// present, walking from newest to oldest. A backup flagged keep is
// never deleted."
func ComputeRetentionSurvivors(candidates []*types.Backup, policy types.RetentionPolicy, now time.Time) (survivors, losers []*types.Backup) {
	sorted := append([]*types.Backup{}, candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EndedAt.After(sorted[j].EndedAt) })

	// periodKey measures each bucket's period as a count of whole periods
	// back from now,  ("distinct bucket periods from the
	// present"), rather than absolute calendar fields — this way a
	// "days" bucket's period boundary is always 24h from now, not
	// midnight-to-midnight, matching "walking from newest to oldest".
	buckets := []retentionBucket{
		{"days", policy.Days, func(t time.Time) (int, int) { return 0, int(now.Sub(t).Hours() / 24) }},
		{"weeks", policy.Weeks, func(t time.Time) (int, int) { return 0, int(now.Sub(t).Hours() / (24 * 7)) }},
		{"months", policy.Months, func(t time.Time) (int, int) { return 0, int(now.Sub(t).Hours() / (24 * 30)) }},
		{"years", policy.Years, func(t time.Time) (int, int) { return 0, int(now.Sub(t).Hours() / (24 * 365)) }},
	}

	keep := make(map[string]bool, len(sorted))
	for _, bucket := range buckets {
		if bucket.count <= 0 {
			continue
		}
		seenPeriods := make(map[[2]int]bool)
		kept := 0
		for _, b := range sorted {
			if kept >= bucket.count {
				break
			}
			y, p := bucket.periodKey(b.EndedAt)
			key := [2]int{y, p}
			if seenPeriods[key] {
				continue
			}
			seenPeriods[key] = true
			keep[b.Label] = true
			kept++
		}
	}

	for _, b := range sorted {
		if b.Keep || keep[b.Label] {
			survivors = append(survivors, b)
		} else {
			losers = append(losers, b)
		}
	}
	return survivors, losers
}
