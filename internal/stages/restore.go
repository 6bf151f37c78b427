package stages

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/workflow"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// RestoreManifestReadStage loads the target backup's manifest plus,
// when it is incremental, every ancestor's manifest in oldest-first
// order, ready for CombineIncremental.
type RestoreManifestReadStage struct {
	workflow.BaseStage
	Target ShipTarget
	// AllBackups is the full label->Backup index, used to walk Parent
	// links; supplied by the caller (the supervisor's in-memory registry).
	AllBackups map[string]*types.Backup
}

func NewRestoreManifestReadStage(target ShipTarget, allBackups map[string]*types.Backup) *RestoreManifestReadStage {
	return &RestoreManifestReadStage{BaseStage: workflow.BaseStage{StageName: "manifest read"}, Target: target, AllBackups: allBackups}
}

func (s *RestoreManifestReadStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	backup, err := getObj[*types.Backup](rc, KeyBackup)
	if err != nil {
		return err
	}
	server, err := getObj[*types.Server](rc, KeyServer)
	if err != nil {
		return err
	}
	chainBackups := types.BackupChain(s.AllBackups, backup.Label)
	if len(chainBackups) == 0 {
		chainBackups = []*types.Backup{backup}
	}

	chain := make([]*Manifest, 0, len(chainBackups))
	for _, b := range chainBackups {
		m, err := ReadManifest(ctx, s.Target, server.Name, b.Label)
		if err != nil {
			return err
		}
		chain = append(chain, m)
	}
	putObj(rc, KeyParentChain, chain)
	return nil
}

// FetchStage downloads every file the combined manifest names from
// whichever backup in the chain actually owns it, into the workspace.
type FetchStage struct {
	workflow.BaseStage
	Target ShipTarget
	// AllBackups lets Fetch resolve which label on the chain owns a
	// given combined file (CombinedFile.OwnerLabel).
	AllBackups map[string]*types.Backup
}

func NewFetchStage(target ShipTarget, allBackups map[string]*types.Backup) *FetchStage {
	return &FetchStage{BaseStage: workflow.BaseStage{StageName: "fetch"}, Target: target, AllBackups: allBackups}
}

func (s *FetchStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	chain, err := getObj[[]*Manifest](rc, KeyParentChain)
	if err != nil {
		return err
	}
	backup, err := getObj[*types.Backup](rc, KeyBackup)
	if err != nil {
		return err
	}
	server, err := getObj[*types.Server](rc, KeyServer)
	if err != nil {
		return err
	}
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}

	chainBackups := types.BackupChain(s.AllBackups, backup.Label)
	combined := CombineIncremental(chainBackups, chain)
	putObj(rc, KeyManifest, &Manifest{ChecksumAlgo: backup.ChecksumAlgo, Files: combined.ManifestFiles()})

	ws.Failed = true
	for _, cf := range combined.Files {
		rc2, err := s.Target.Fetch(ctx, server.Name, cf.OwnerLabel, cf.Path)
		if err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "fetching "+cf.Path+" from "+cf.OwnerLabel, err)
		}
		dst := filepath.Join(ws.Dir, cf.Path)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			rc2.Close()
			return pgerrors.Wrap(pgerrors.IOError, "creating restore directory", err).WithPath(filepath.Dir(dst))
		}
		out, err := os.Create(dst)
		if err != nil {
			rc2.Close()
			return pgerrors.Wrap(pgerrors.IOError, "creating restored file", err).WithPath(dst)
		}
		_, err = io.Copy(out, rc2)
		out.Close()
		rc2.Close()
		if err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "writing restored file", err).WithPath(dst)
		}
	}
	ws.Failed = false
	return nil
}

// Teardown mirrors BaseBackupStage's: a fetch that fails removes the
// workspace it was filling, so no partial restore is left behind.
func (s *FetchStage) Teardown(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return nil
	}
	if ws.Failed {
		return os.RemoveAll(ws.Dir)
	}
	return nil
}

// DecryptStage reverses EncryptStage for every fetched file.
type DecryptStage struct {
	workflow.BaseStage
	Encryptor Encryptor
}

func NewDecryptStage(e Encryptor) *DecryptStage {
	return &DecryptStage{BaseStage: workflow.BaseStage{StageName: "decrypt"}, Encryptor: e}
}

func (s *DecryptStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
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
	for _, e := range manifest.Files {
		if err := streamTransform(filepath.Join(ws.Dir, e.Path), func(dst io.Writer, src io.Reader) error {
			return s.Encryptor.Stream(ctx, dst, src)
		}); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "decrypting "+e.Path, err)
		}
	}
	return nil
}

// DecompressStage reverses CompressStage for every fetched file.
type DecompressStage struct {
	workflow.BaseStage
	Compressor Compressor
}

func NewDecompressStage(c Compressor) *DecompressStage {
	return &DecompressStage{BaseStage: workflow.BaseStage{StageName: "decompress"}, Compressor: c}
}

func (s *DecompressStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
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
	for _, e := range manifest.Files {
		if err := streamTransform(filepath.Join(ws.Dir, e.Path), func(dst io.Writer, src io.Reader) error {
			return s.Compressor.Stream(ctx, dst, src)
		}); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "decompressing "+e.Path, err)
		}
	}
	return nil
}

// RelinkStage moves restored files from the workspace into the final
// restore target directory, hard-linking where possible to avoid a
// second copy, falling back to a copy across filesystem boundaries.
type RelinkStage struct {
	workflow.BaseStage
	TargetDir string
}

func NewRelinkStage(targetDir string) *RelinkStage {
	return &RelinkStage{BaseStage: workflow.BaseStage{StageName: "relink"}, TargetDir: targetDir}
}

func (s *RelinkStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	ws, err := getObj[*Workspace](rc, KeyWorkspace)
	if err != nil {
		return err
	}
	manifest, err := getObj[*Manifest](rc, KeyManifest)
	if err != nil {
		return err
	}
	for _, e := range manifest.Files {
		src := filepath.Join(ws.Dir, e.Path)
		dst := filepath.Join(s.TargetDir, e.Path)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "creating restore target directory", err).WithPath(filepath.Dir(dst))
		}
		if err := linkOrCopy(src, dst); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "materializing "+e.Path, err).WithPath(dst)
		}
	}
	return nil
}

// RecoveryInfoStage writes the recovery signal/configuration the
// restored data directory needs to begin recovery from the chain's
// recorded recovery target LSN (a `standby.signal`-equivalent marker
// plus a minimal recovery config file; the upstream's exact recovery
// configuration grammar is an external collaborator concern, this
// writes only the coordinates pgkeep itself is responsible for).
type RecoveryInfoStage struct {
	workflow.BaseStage
	TargetDir string
}

func NewRecoveryInfoStage(targetDir string) *RecoveryInfoStage {
	return &RecoveryInfoStage{BaseStage: workflow.BaseStage{StageName: "recovery-info"}, TargetDir: targetDir}
}

func (s *RecoveryInfoStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	backup, err := getObj[*types.Backup](rc, KeyBackup)
	if err != nil {
		return err
	}
	path := filepath.Join(s.TargetDir, "pgkeep.recovery")
	body := "recovery_target_lsn = '" + backup.EndLSN.String() + "'\n" +
		"recovery_target_timeline = '" + itoa(uint64(backup.EndTimeline)) + "'\n"
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "writing recovery info", err).WithPath(path)
	}
	putObj(rc, KeyRecoveryLSN, backup.EndLSN)
	return nil
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// RestorePermissionsStage sets the final data directory's permissions
// to the restrictive mode the upstream requires before it will start.
type RestorePermissionsStage struct {
	workflow.BaseStage
	TargetDir string
	DirMode   os.FileMode
}

func NewRestorePermissionsStage(targetDir string, dirMode os.FileMode) *RestorePermissionsStage {
	return &RestorePermissionsStage{BaseStage: workflow.BaseStage{StageName: "permissions"}, TargetDir: targetDir, DirMode: dirMode}
}

func (s *RestorePermissionsStage) Execute(ctx context.Context, rc *workflow.RunContext) error {
	if err := os.Chmod(s.TargetDir, s.DirMode); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "chmod restore target", err).WithPath(s.TargetDir)
	}
	return nil
}

// BuildRestoreStages assembles the restore composition:
// manifest read -> fetch -> decrypt -> decompress -> relink ->
// recovery-info -> permissions.
func BuildRestoreStages(target ShipTarget, allBackups map[string]*types.Backup, encryptor Encryptor, compressor Compressor, targetDir string, dirMode os.FileMode) []workflow.Stage {
	return []workflow.Stage{
		NewRestoreManifestReadStage(target, allBackups),
		NewFetchStage(target, allBackups),
		NewDecryptStage(encryptor),
		NewDecompressStage(compressor),
		NewRelinkStage(targetDir),
		NewRecoveryInfoStage(targetDir),
		NewRestorePermissionsStage(targetDir, dirMode),
	}
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}
