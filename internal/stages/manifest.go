package stages

import (
	"bytes"
	"context"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
)

// manifestRelPath is the conventional name every storage engine stores
// a backup's manifest under, alongside its data files.
const manifestRelPath = "backup.manifest.yaml"

// ReadManifest fetches and decodes label's manifest from target.
func ReadManifest(ctx context.Context, target ShipTarget, server, label string) (*Manifest, error) {
	rc, err := target.Fetch(ctx, server, label, manifestRelPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.IOError, "reading manifest for "+label, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, pgerrors.Wrap(pgerrors.FormatError, "decoding manifest for "+label, err)
	}
	return &m, nil
}

// PutManifest encodes and ships m to target under label.
func PutManifest(ctx context.Context, target ShipTarget, server, label string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return pgerrors.Wrap(pgerrors.FormatError, "encoding manifest for "+label, err)
	}
	if err := target.Put(ctx, server, label, manifestRelPath, bytes.NewReader(data)); err != nil {
		return err
	}
	return nil
}
