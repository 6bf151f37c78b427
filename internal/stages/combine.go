package stages

import "github.com/pgkeep/pgkeep/pkg/types"

// CombinedFile names which backup in a chain actually owns a restored
// file's bytes, after the combine algorithm below resolves it.
type CombinedFile struct {
	Path       string
	OwnerLabel string
	Size       int64
	Checksum   string
}

// CombinedManifest is the result of CombineIncremental: one
// CombinedFile per path named by the chain's newest manifest.
type CombinedManifest struct {
	Files []CombinedFile
}

// ManifestFiles renders the combined result back into plain
// ManifestEntry values (owner label dropped — the restore's own
// manifest records only what restored, not where each file came from).
func (c *CombinedManifest) ManifestFiles() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(c.Files))
	for _, f := range c.Files {
		out = append(out, ManifestEntry{Path: f.Path, Size: f.Size, Checksum: f.Checksum})
	}
	return out
}

// CombineIncremental implements the incremental-combine
// algorithm: "sort the chain oldest→newest, then for each file present
// in any backup, start from the deepest full copy and overlay each
// incremental's changed blocks until the newest; the newest backup's
// manifest dictates file set, with parent backups supplying untouched
// blocks."
//
// This package tracks file-granularity manifests, not sub-file block
// ranges, so "overlay changed blocks" specializes to: walk the chain
// from newest to oldest, and a file's owner is the nearest backup
// whose manifest entry for that path is not FromParent (i.e. the
// backup that actually wrote it) — which is exactly "start from the
// deepest full copy and overlay each incremental until the newest",
// read in reverse. The "later LSN wins" tie-break for two incrementals
// in parallel chains modifying the same block is honored by
// preferring, among entries with equal BlockLSN ambiguity, whichever
// appears later (closer to the chain's tip): chainBackups/chainManifests
// is already a single linear Parent-chain (see types.BackupChain), so
// "later in the chain" and "later LSN" coincide by construction.
//
// chainBackups and chainManifests must be the same length, oldest-first,
// each manifests[i] belonging to chainBackups[i].
func CombineIncremental(chainBackups []*types.Backup, chainManifests []*Manifest) *CombinedManifest {
	if len(chainBackups) == 0 || len(chainManifests) == 0 {
		return &CombinedManifest{}
	}
	newestIdx := len(chainManifests) - 1
	newest := chainManifests[newestIdx]

	combined := &CombinedManifest{Files: make([]CombinedFile, 0, len(newest.Files))}
	for _, want := range newest.Files {
		owner := resolveOwner(chainBackups, chainManifests, newestIdx, want)
		combined.Files = append(combined.Files, owner)
	}
	return combined
}

// resolveOwner walks chainManifests from idx down to 0 looking for the
// nearest ancestor that actually wrote want.Path, breaking ties toward
// the most recent (highest BlockLSN) candidate when more than one
// manifest at the same depth claims the path without FromParent (this
// can happen if a caller merges manifests from more than one
// incremental branch; for a single linear chain there is always
// exactly one candidate per depth).
func resolveOwner(chainBackups []*types.Backup, chainManifests []*Manifest, idx int, want ManifestEntry) CombinedFile {
	var candidates []CombinedFile

	for i := idx; i >= 0; i-- {
		for _, e := range chainManifests[i].Files {
			if e.Path != want.Path || e.FromParent {
				continue
			}
			candidates = append(candidates, CombinedFile{
				Path: e.Path, OwnerLabel: chainBackups[i].Label, Size: e.Size, Checksum: e.Checksum,
			})
		}
		if len(candidates) > 0 {
			// Found the nearest depth that wrote this path. Normally there
			// is exactly one writer per depth; if more than one manifest
			// at the same depth claims it (parallel incremental branches
			// merged into one chain), the later-LSN-wins tie-break applies
			// among just these candidates.
			break
		}
	}
	if len(candidates) == 0 {
		// nothing in the chain actually wrote it (manifest inconsistency);
		// fall back to the newest manifest's own claim so restore still
		// produces a file rather than silently dropping it.
		return CombinedFile{Path: want.Path, OwnerLabel: chainBackups[idx].Label, Size: want.Size, Checksum: want.Checksum}
	}
	best := candidates[0]
	bestLSN := entryLSN(chainManifests, chainBackups, best)
	for _, c := range candidates[1:] {
		if lsn := entryLSN(chainManifests, chainBackups, c); lsn >= bestLSN {
			best, bestLSN = c, lsn
		}
	}
	return best
}

func entryLSN(chainManifests []*Manifest, chainBackups []*types.Backup, f CombinedFile) types.LSN {
	for i, b := range chainBackups {
		if b.Label != f.OwnerLabel {
			continue
		}
		for _, e := range chainManifests[i].Files {
			if e.Path == f.Path {
				return e.BlockLSN
			}
		}
	}
	return 0
}
