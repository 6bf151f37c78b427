package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/workflow"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// Authenticator is the auth handshake seam: TLS/password/SCRAM
// negotiation with the upstream server is an external collaborator
// , this package only needs to know whether it succeeded.
type Authenticator interface {
	Authenticate(ctx context.Context, server *types.Server) error
}

// BaseBackupSource streams a base backup into dir, returning the
// manifest of files it wrote plus the start/checkpoint LSNs the
// upstream reported — the actual streaming replication protocol client
// is an external collaborator (the design names "HTTP/Prometheus...
// TLS and SSH transport primitives" as out of scope; the base backup
// protocol itself sits at the same layer).
type BaseBackupSource interface {
	Stream(ctx context.Context, server *types.Server, dir string) (files []ManifestEntry, startLSN, checkpointLSN types.LSN, err error)
}

// AuthenticateStage runs Authenticator.Authenticate against the
// server named by the run context.
type AuthenticateStage struct {
	workflow.BaseStage
	Auth Authenticator
}

func NewAuthenticateStage(auth Authenticator) *AuthenticateStage {
	return &AuthenticateStage{BaseStage: workflow.BaseStage{StageName: "authenticate"}, Auth: auth}
}

func (s *AuthenticateStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	server, err := getObj[*types.Server](rc, KeyServer)
	if err != nil {
		return err
	}
	if err := s.Auth.Authenticate(ctx, server); err != nil {
		return pgerrors.Wrap(pgerrors.AuthFailure, "authenticating to "+server.Name, err)
	}
	return nil
}

// ManifestReadStage loads the parent backup's manifest (for an
// incremental backup) into the run context, so later stages can diff
// against it. A no-op (Manifest left empty) for full backups.
type ManifestReadStage struct {
	workflow.BaseStage
	Target ShipTarget
}

func NewManifestReadStage(target ShipTarget) *ManifestReadStage {
	return &ManifestReadStage{BaseStage: workflow.BaseStage{StageName: "manifest read"}, Target: target}
}

func (s *ManifestReadStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	backup, err := getObj[*types.Backup](rc, KeyBackup)
	if err != nil {
		return err
	}
	if backup.Parent == "" {
		putObj(rc, KeyParentChain, []*Manifest(nil))
		return nil
	}
	server, err := getObj[*types.Server](rc, KeyServer)
	if err != nil {
		return err
	}
	parentManifest, err := ReadManifest(ctx, s.Target, server.Name, backup.Parent)
	if err != nil {
		return err
	}
	putObj(rc, KeyParentChain, []*Manifest{parentManifest})
	return nil
}

// BaseBackupStage streams the base backup into the run's workspace
// directory and records the resulting manifest and LSN bounds onto the
// run's *types.Backup.
type BaseBackupStage struct {
	workflow.BaseStage
	Source BaseBackupSource
}

func NewBaseBackupStage(source BaseBackupSource) *BaseBackupStage {
	return &BaseBackupStage{BaseStage: workflow.BaseStage{StageName: "basebackup"}, Source: source}
}

func (s *BaseBackupStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	server, err := getObj[*types.Server](rc, KeyServer)
	if err != nil {
		return err
	}
	backup, err := getObj[*types.Backup](rc, KeyBackup)
	if err != nil {
		return err
	}
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}

	files, startLSN, checkpointLSN, err := s.Source.Stream(ctx, server, ws.Dir)
	if err != nil {
		ws.Failed = true
		return pgerrors.Wrap(pgerrors.IOError, "streaming base backup", err)
	}
	backup.StartLSN = startLSN
	backup.CheckpointLSN = checkpointLSN
	putObj(rc, KeyManifest, &Manifest{ChecksumAlgo: backup.ChecksumAlgo, Files: files})
	return nil
}

// Teardown deletes the workspace when the stream itself failed, so a
// failed base backup leaves no partial files behind. It does not remove
// the workspace after a failure in a later stage.
func (s *BaseBackupStage) Teardown(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return nil
	}
	if ws.Failed {
		return os.RemoveAll(ws.Dir)
	}
	return nil
}

// ExtraFilesStage copies additional configured files (e.g. a
// pg_hba.conf override) into the workspace alongside the base backup.
type ExtraFilesStage struct {
	workflow.BaseStage
	Files map[string]string // destination relative path -> source absolute path
}

func NewExtraFilesStage(files map[string]string) *ExtraFilesStage {
	return &ExtraFilesStage{BaseStage: workflow.BaseStage{StageName: "extra-files copy"}, Files: files}
}

func (s *ExtraFilesStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for rel, src := range s.Files {
		dst := filepath.Join(ws.Dir, rel)
		if err := copyFile(src, dst); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "copying extra file", err).WithPath(src)
		}
		size, sum, err := hashFile(dst)
		if err != nil {
			return err
		}
		manifest.Files = append(manifest.Files, ManifestEntry{Path: rel, Size: size, Checksum: sum})
	}
	return nil
}

// ChecksumStage recomputes and fills in the checksum/size of every
// manifest entry that does not already carry one (the base backup
// source may have already hashed its own files; extra-files entries
// were hashed at copy time above, so this mainly covers sources that
// leave Checksum empty).
type ChecksumStage struct{ workflow.BaseStage }

func NewChecksumStage() *ChecksumStage {
	return &ChecksumStage{BaseStage: workflow.BaseStage{StageName: "checksum"}}
}

func (s *ChecksumStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for i := range manifest.Files {
		e := &manifest.Files[i]
		if e.Checksum != "" || e.FromParent {
			continue
		}
		size, sum, err := hashFile(filepath.Join(ws.Dir, e.Path))
		if err != nil {
			return pgerrors.Wrap(pgerrors.Corruption, "hashing "+e.Path, err)
		}
		e.Size = size
		e.Checksum = sum
	}
	return nil
}

// ManifestVerifyStage re-hashes every non-from-parent file on disk and
// confirms it matches the manifest, surfacing a corruption error kind
// on mismatch per the failure table.
type ManifestVerifyStage struct{ workflow.BaseStage }

func NewManifestVerifyStage() *ManifestVerifyStage {
	return &ManifestVerifyStage{BaseStage: workflow.BaseStage{StageName: "manifest verify"}}
}

func (s *ManifestVerifyStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for _, e := range manifest.Files {
		if e.FromParent {
			continue
		}
		_, sum, err := hashFile(filepath.Join(ws.Dir, e.Path))
		if err != nil {
			return pgerrors.Wrap(pgerrors.Corruption, "re-hashing "+e.Path, err)
		}
		if sum != e.Checksum {
			return pgerrors.New(pgerrors.Corruption, "manifest checksum mismatch for "+e.Path)
		}
	}
	return nil
}

// CompressStage streams every manifest file through the configured
// Compressor, replacing it in place under the same path; manifest paths
// do not change.
type CompressStage struct {
	workflow.BaseStage
	Compressor Compressor
}

func NewCompressStage(c Compressor) *CompressStage {
	return &CompressStage{BaseStage: workflow.BaseStage{StageName: "compress"}, Compressor: c}
}

func (s *CompressStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	if s.Compressor == nil {
		return nil
	}
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for i := range manifest.Files {
		e := &manifest.Files[i]
		if e.FromParent {
			continue
		}
		if err := streamTransform(filepath.Join(ws.Dir, e.Path), func(dst io.Writer, src io.Reader) error {
			return s.Compressor.Stream(ctx, dst, src)
		}); err != nil {
			// run fails; any already-written output removed (the design)
			os.Remove(filepath.Join(ws.Dir, e.Path) + ".tmp")
			return pgerrors.Wrap(pgerrors.IOError, "compressing "+e.Path, err)
		}
	}
	return nil
}

// EncryptStage mirrors CompressStage for the configured Encryptor, run
// after compression per the stage-inventory ordering in the design.
type EncryptStage struct {
	workflow.BaseStage
	Encryptor Encryptor
}

func NewEncryptStage(e Encryptor) *EncryptStage {
	return &EncryptStage{BaseStage: workflow.BaseStage{StageName: "encrypt"}, Encryptor: e}
}

func (s *EncryptStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	if s.Encryptor == nil {
		return nil
	}
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for i := range manifest.Files {
		e := &manifest.Files[i]
		if e.FromParent {
			continue
		}
		if err := streamTransform(filepath.Join(ws.Dir, e.Path), func(dst io.Writer, src io.Reader) error {
			return s.Encryptor.Stream(ctx, dst, src)
		}); err != nil {
			os.Remove(filepath.Join(ws.Dir, e.Path) + ".tmp")
			return pgerrors.Wrap(pgerrors.IOError, "encrypting "+e.Path, err)
		}
	}
	return nil
}

// LinkStage deduplicates against the parent chain: any file whose
// checksum matches the parent manifest's entry for the same path is
// marked FromParent, so the ship stage does not re-ship it; nothing is
// hard-linked. With no parent chain the stage does nothing. A missing
// manifest fails the run. The stage logs nothing.
type LinkStage struct {
	workflow.BaseStage
	Target ShipTarget
}

func NewLinkStage(target ShipTarget) *LinkStage {
	return &LinkStage{BaseStage: workflow.BaseStage{StageName: "link"}, Target: target}
}

func (s *LinkStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	parents, err := getObj[[]*Manifest](rc, KeyParentChain)
	if err != nil || len(parents) == 0 {
		return nil
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	parentByPath := make(map[string]ManifestEntry, len(parents[0].Files))
	for _, pe := range parents[0].Files {
		parentByPath[pe.Path] = pe
	}
	for i := range manifest.Files {
		e := &manifest.Files[i]
		if pe, ok := parentByPath[e.Path]; ok && pe.Checksum == e.Checksum {
			e.FromParent = true
		}
	}
	return nil
}

// ShipStage pushes every non-from-parent manifest file to the
// configured ShipTarget. Idempotent by label: calling it twice for the
// same backup overwrites the same destination path rather than
// appending, so a retried run after a partial failure converges.
type ShipStage struct {
	workflow.BaseStage
	Target ShipTarget
}

func NewShipStage(target ShipTarget) *ShipStage {
	return &ShipStage{BaseStage: workflow.BaseStage{StageName: "remote-ship"}, Target: target}
}

func (s *ShipStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	server, err := getObj[*types.Server](rc, KeyServer)
	if err != nil {
		return err
	}
	backup, err := getObj[*types.Backup](rc, KeyBackup)
	if err != nil {
		return err
	}
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for _, e := range manifest.Files {
		if e.FromParent {
			continue
		}
		f, err := os.Open(filepath.Join(ws.Dir, e.Path))
		if err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "opening "+e.Path+" for ship", err)
		}
		err = s.Target.Put(ctx, server.Name, backup.Label, e.Path, f)
		f.Close()
		if err != nil {
			// left for next attempt (idempotent by label), per failure table
			return pgerrors.Wrap(pgerrors.TransportError, "shipping "+e.Path, err)
		}
	}
	return PutManifest(ctx, s.Target, server.Name, backup.Label, manifest)
}

// PermissionsStage restores the configured file mode on every shipped
// artifact, the last content-touching step before cleanup.
type PermissionsStage struct {
	workflow.BaseStage
	FileMode os.FileMode
}

func NewPermissionsStage(mode os.FileMode) *PermissionsStage {
	return &PermissionsStage{BaseStage: workflow.BaseStage{StageName: "permissions"}, FileMode: mode}
}

func (s *PermissionsStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for _, e := range manifest.Files {
		if e.FromParent {
			continue
		}
		path := filepath.Join(ws.Dir, e.Path)
		if _, err := os.Stat(path); err != nil {
			continue // already shipped and removed from workspace by a prior run
		}
		if err := os.Chmod(path, s.FileMode); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "chmod "+e.Path, err).WithPath(path)
		}
	}
	return nil
}

// CleanupStage removes the workspace directory; it is the last stage in
// the backup pipeline, so like every stage it runs only when all earlier
// stages succeeded (its Teardown is the no-op default).
type CleanupStage struct{ workflow.BaseStage }

func NewCleanupStage() *CleanupStage {
	return &CleanupStage{BaseStage: workflow.BaseStage{StageName: "cleanup"}}
}

func (s *CleanupStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return nil
	}
	return os.RemoveAll(ws.Dir)
}

// BuildBackupStages assembles the stage-inventory order from the design
// authenticate -> manifest read -> basebackup -> extra-files copy
// -> checksum -> manifest verify -> compress -> encrypt -> link ->
// remote-ship -> permissions -> cleanup.
func BuildBackupStages(auth Authenticator, source BaseBackupSource, extraFiles map[string]string, compressor Compressor, encryptor Encryptor, target ShipTarget, fileMode os.FileMode) []workflow.Stage {
	return []workflow.Stage{
		NewAuthenticateStage(auth),
		NewManifestReadStage(target),
		NewBaseBackupStage(source),
		NewExtraFilesStage(extraFiles),
		NewChecksumStage(),
		NewManifestVerifyStage(),
		NewCompressStage(compressor),
		NewEncryptStage(encryptor),
		NewLinkStage(target),
		NewShipStage(target),
		NewPermissionsStage(fileMode),
		NewCleanupStage(),
	}
}

// Workspace is the per-run scratch directory stages read from and
// write to before final artifacts are shipped and the directory is
// discarded.
type Workspace struct {
	Dir    string
	Failed bool
}

func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", pgerrors.Wrap(pgerrors.IOError, "opening for hash", err).WithPath(path)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", pgerrors.Wrap(pgerrors.IOError, "reading for hash", err).WithPath(path)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// streamTransform runs fn(dst, src) over path, then atomically replaces
// path with the transformed output, removing the .tmp file on failure.
func streamTransform(path string, fn func(dst io.Writer, src io.Reader) error) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		src.Close()
		return err
	}
	err = fn(dst, src)
	src.Close()
	dst.Close()
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
