// Package stages implements the concrete workflow.Stage values the design
// names for the four storage-engine backup/restore/retention
// workflows: authenticate, manifest read/verify, basebackup,
// extra-files copy, checksum, compress, encrypt, link, remote-ship,
// permissions, cleanup for backup; manifest read, fetch, decrypt,
// decompress, relink, recovery-info, permissions for restore; scan
// backups, compute survivors, delete losers, rewrite manifest for
// retention.
//
// Compression and encryption codec *bindings* are out of scope
// (the design: "AES/zstd/lz4/gz/bzip2 codec library bindings" are
// external collaborators) — Compressor and Encryptor below are the
// seams a real binding plugs into; stage logic only orchestrates them.
// The same holds for SSH/S3/Azure transport primitives: ShipTarget is
// the seam, and only the local-disk implementation is concrete here.
package stages

import (
	"context"
	"io"

	"github.com/pgkeep/pgkeep/internal/config"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// Compressor and Encryptor are the external-collaborator seams the design
// carves out. A stage calls Stream and does not know or care which
// concrete codec library backs it.
type Compressor interface {
	Algo() config.Compression
	Stream(ctx context.Context, dst io.Writer, src io.Reader) error
}

type Encryptor interface {
	Algo() config.Encryption
	Stream(ctx context.Context, dst io.Writer, src io.Reader) error
}

// ShipTarget is the remote-ship seam: local, SSH, S3, and Azure storage
// engines all implement it; only local is concrete in this package, the
// others are external collaborators .
type ShipTarget interface {
	Engine() types.StorageEngine
	// Put copies src (workspace path) to label under the target's backup
	// root for server. Idempotent by label: calling Put twice with the
	// same label and identical content must not duplicate or corrupt the
	// remote artifact (the ship failure-isolation rule).
	Put(ctx context.Context, server, label, relPath string, src io.Reader) error
	// Fetch opens relPath under label for reading, for restore's fetch stage.
	Fetch(ctx context.Context, server, label, relPath string) (io.ReadCloser, error)
	// Delete removes label entirely, for retention's delete-losers stage.
	Delete(ctx context.Context, server, label string) error
}

// ManifestEntry describes one file tracked by a backup's manifest.
type ManifestEntry struct {
	Path     string `json:"path" yaml:"path"`
	Size     int64  `json:"size" yaml:"size"`
	Checksum string `json:"checksum" yaml:"checksum"`
	// FromParent is true when this file's bytes were not touched by this
	// backup's basebackup run and are supplied by an ancestor in the
	// incremental chain (the design incremental combine).
	FromParent bool `json:"from_parent,omitempty" yaml:"from_parent,omitempty"`
	// BlockLSN records the LSN at which this entry was last written to,
	// used by the combine algorithm's "later LSN wins" tie-break.
	BlockLSN types.LSN `json:"block_lsn,omitempty" yaml:"block_lsn,omitempty"`
}

// Manifest is a backup's file inventory plus checksum algorithm,
// rewritten by retention after losers are deleted from a chain.
type Manifest struct {
	ChecksumAlgo string          `json:"checksum_algo" yaml:"checksum_algo"`
	Files        []ManifestEntry `json:"files" yaml:"files"`
}

// RunContext keys shared across stages within one workflow run. Using
// named constants instead of ad hoc strings keeps every stage's Get/Set
// pair compiling against the same key even though RunContext itself is
// stringly keyed by design (the ART run context).
const (
	KeyServer      = "server"
	KeyBackup      = "backup"
	KeyManifest    = "manifest"
	KeyWorkspace   = "workspace"
	KeyShipTarget  = "ship_target"
	KeyCompressor  = "compressor"
	KeyEncryptor   = "encryptor"
	KeyParentChain = "parent_chain"
	KeyRecoveryLSN = "recovery_lsn"
)
