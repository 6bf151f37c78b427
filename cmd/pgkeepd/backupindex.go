package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/stages"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// backupIndexFile is the sidecar file this daemon writes into each
// backup's directory, alongside the manifest the stage pipeline
// already produces. Nothing under internal/stages persists a
// *types.Backup's LSNs, sizes, or timelines anywhere on disk — only its
// file manifest — so list-backup and retention's candidate scan need a
// record of their own to reconstruct that metadata from the backing
// store.
const backupIndexFile = "backup.info.json"

// backupIndex tracks *types.Backup metadata for every label ShipTarget
// stores, using target.List (directory enumeration) for discovery and
// a small JSON file per label for everything List can't tell us.
type backupIndex struct {
	target stages.LocalTarget
}

func newBackupIndex(target stages.LocalTarget) *backupIndex {
	return &backupIndex{target: target}
}

func (bi *backupIndex) infoPath(server, label string) string {
	return filepath.Join(bi.target.Root, server, label, backupIndexFile)
}

// Put writes b's metadata next to its backup artifacts.
func (bi *backupIndex) Put(server string, b *types.Backup) error {
	path := bi.infoPath(server, b.Label)
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return pgerrors.Wrap(pgerrors.FormatError, "encoding backup index entry", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "creating backup directory", err).WithPath(filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "writing backup index entry", err).WithPath(path)
	}
	return nil
}

// Get reads one label's metadata, falling back to a bare Backup
// carrying only the label when no index file exists yet (e.g. an
// artifact shipped by a tool that predates this daemon).
func (bi *backupIndex) Get(server, label string) (*types.Backup, error) {
	path := bi.infoPath(server, label)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &types.Backup{Label: label}, nil
		}
		return nil, pgerrors.Wrap(pgerrors.IOError, "reading backup index entry", err).WithPath(path)
	}
	var b types.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, pgerrors.Wrap(pgerrors.FormatError, "decoding backup index entry", err).WithPath(path)
	}
	return &b, nil
}

// List returns every backup currently stored for server, reconstructed
// from the backing store's directory listing plus each label's index
// entry.
func (bi *backupIndex) List(server string) ([]*types.Backup, error) {
	labels, err := bi.target.List(server)
	if err != nil {
		return nil, err
	}
	backups := make([]*types.Backup, 0, len(labels))
	for _, label := range labels {
		b, err := bi.Get(server, label)
		if err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	return backups, nil
}

// AsMap adapts List to the map[label]*Backup shape
// internal/stages' restore stages expect.
func (bi *backupIndex) AsMap(server string) (map[string]*types.Backup, error) {
	backups, err := bi.List(server)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.Backup, len(backups))
	for _, b := range backups {
		out[b.Label] = b
	}
	return out, nil
}
