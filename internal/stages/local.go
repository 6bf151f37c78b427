package stages

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// LocalTarget ships artifacts to a plain directory tree, the only
// ShipTarget with a concrete implementation in this package: SSH, S3,
// and Azure are external collaborators , plugged in via
// the same interface by a caller this package does not construct.
type LocalTarget struct {
	// Root is the base directory under which every server's backups live,
	// one subdirectory per server then per label.
	Root string
}

func (LocalTarget) Engine() types.StorageEngine { return types.EngineLocal }

func (t LocalTarget) backupDir(server, label string) string {
	return filepath.Join(t.Root, server, label)
}

func (t LocalTarget) Put(ctx context.Context, server, label, relPath string, src io.Reader) error {
	dst := filepath.Join(t.backupDir(server, label), relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "creating backup directory", err).WithPath(filepath.Dir(dst))
	}
	f, err := os.Create(dst)
	if err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "creating backup artifact", err).WithPath(dst)
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "writing backup artifact", err).WithPath(dst)
	}
	return nil
}

func (t LocalTarget) Fetch(ctx context.Context, server, label, relPath string) (io.ReadCloser, error) {
	src := filepath.Join(t.backupDir(server, label), relPath)
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pgerrors.Wrap(pgerrors.UnexpectedEOF, "backup artifact missing", err).WithPath(src)
		}
		return nil, pgerrors.Wrap(pgerrors.IOError, "opening backup artifact", err).WithPath(src)
	}
	return f, nil
}

func (t LocalTarget) Delete(ctx context.Context, server, label string) error {
	dir := t.backupDir(server, label)
	if err := os.RemoveAll(dir); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "deleting backup", err).WithPath(dir)
	}
	return nil
}

// List enumerates the backup labels stored for server, oldest label
// names first by simple lexicographic sort (labels are the
// "opaque, lexicographically sortable" strings). Listing is a local-
// filesystem-only convenience: ShipTarget itself has no List method
// since SSH/S3/Azure enumeration is an external collaborator concern.
func (t LocalTarget) List(server string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(t.Root, server))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pgerrors.Wrap(pgerrors.IOError, "listing backups", err).WithPath(filepath.Join(t.Root, server))
	}
	labels := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			labels = append(labels, e.Name())
		}
	}
	return labels, nil
}
