package main

import (
	"context"
	"io"

	"github.com/pgkeep/pgkeep/internal/config"
	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/stages"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// passthroughAuthenticator accepts every connection without performing
// a handshake. Real TLS/password/SCRAM negotiation against the
// upstream server is an external collaborator this daemon does not
// implement; wiring one in means swapping this value for a concrete
// stages.Authenticator, not changing any stage.
type passthroughAuthenticator struct{}

func (passthroughAuthenticator) Authenticate(ctx context.Context, server *types.Server) error {
	return nil
}

// unconfiguredBaseBackupSource reports a clear error rather than
// silently producing an empty backup: streaming a real base backup
// requires the wire protocol client this daemon leaves as a seam.
type unconfiguredBaseBackupSource struct{}

func (unconfiguredBaseBackupSource) Stream(ctx context.Context, server *types.Server, dir string) ([]stages.ManifestEntry, types.LSN, types.LSN, error) {
	return nil, 0, 0, pgerrors.New(pgerrors.ConfigInvalid, "no base backup source configured for "+server.Name)
}

// unconfiguredWALSource reports a clear error for the same reason:
// resolving a WAL segment's bytes from streaming replication or an
// archive_command spool is left to a caller-supplied implementation.
type unconfiguredWALSource struct{}

func (unconfiguredWALSource) SegmentPath(ctx context.Context, filename string) (string, error) {
	return "", pgerrors.New(pgerrors.UnexpectedEOF, "no WAL source configured for segment "+filename)
}

// identityCompressor is the Compressor for config.CompressionNone: it
// copies bytes through unchanged. Real zstd/lz4/gz/bzip2 bindings are
// external collaborators plugged in behind the same interface.
type identityCompressor struct{}

func (identityCompressor) Algo() config.Compression { return config.CompressionNone }
func (identityCompressor) Stream(ctx context.Context, dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

// identityEncryptor is the Encryptor for config.EncryptionNone.
type identityEncryptor struct{}

func (identityEncryptor) Algo() config.Encryption { return config.EncryptionNone }
func (identityEncryptor) Stream(ctx context.Context, dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}
