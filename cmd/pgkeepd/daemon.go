package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/pgkeep/pgkeep/internal/config"
	"github.com/pgkeep/pgkeep/internal/container"
	"github.com/pgkeep/pgkeep/internal/metrics"
	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/replication"
	"github.com/pgkeep/pgkeep/internal/stages"
	"github.com/pgkeep/pgkeep/internal/supervisor"
	"github.com/pgkeep/pgkeep/internal/workflow"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// daemon wires every already-built package into one running process:
// configuration, the per-server registry, the workflow stage
// compositions, the backup index, the management-protocol reactor, and
// the replication-slot-control gRPC service.
type daemon struct {
	store    *config.Store
	registry *supervisor.Registry
	target   stages.LocalTarget
	index    *backupIndex
	metrics  *metrics.Collector
	catalog  *replication.Catalog

	reactor    *supervisor.Reactor
	grpcServer *grpc.Server

	listener     net.Listener
	grpcListener net.Listener
}

// effectiveServer merges a [server <name>] section's overrides onto
// [main], the way a zero-valued ServerConfig field means "inherit".
// internal/config has no Effective() helper of its own, so the merge
// happens here, once, at daemon construction.
func effectiveServer(main config.Main, sc *config.ServerConfig) *types.Server {
	s := &types.Server{
		Name:           sc.Name,
		Host:           sc.Host,
		Port:           sc.Port,
		User:           sc.User,
		SlotName:       "pgkeep_" + sc.Name,
		Busy:           make(map[types.OperationKind]bool, len(types.AllOperationKinds)),
		Workers:        sc.Workers,
		BackupMaxRate:  sc.BackupMaxRate,
		NetworkMaxRate: sc.NetworkMaxRate,
		Retention:      sc.Retention,
		HotStandbyPath: sc.HotStandby,
	}
	if s.Host == "" {
		s.Host = main.Host
	}
	if s.Port == 0 {
		s.Port = main.Port
	}
	if s.Workers == 0 {
		s.Workers = main.Workers
	}
	if s.BackupMaxRate == 0 {
		s.BackupMaxRate = main.BackupMaxRate
	}
	if s.NetworkMaxRate == 0 {
		s.NetworkMaxRate = main.NetworkMaxRate
	}
	if s.Retention == (types.RetentionPolicy{}) {
		s.Retention = main.Retention
	}
	if s.HotStandbyPath == "" {
		s.HotStandbyPath = main.HotStandby
	}
	return s
}

// setupLogging installs slog's default logger per [main]'s log_type/
// log_level/log_path, matching cfg.Main.LogType's three-way split
// (console, file, syslog — syslog is an external collaborator this
// daemon does not bind, so it falls back to console). --foreground
// additionally forces console output regardless of log_type, the way
// a process run under a supervisor still wants its own stderr during
// interactive debugging.
func setupLogging(main config.Main, foreground bool) error {
	level := slog.LevelInfo
	switch config.LogLevel(main.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "fatal", "panic":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	out := os.Stderr
	if main.LogType == config.LogFile && main.LogPath != "" && !foreground {
		f, err := os.OpenFile(main.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "opening log file", err).WithPath(main.LogPath)
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(f, opts)))
		return nil
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, opts)))
	return nil
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	store := config.NewStore(cfg)

	registry := supervisor.NewRegistry()
	for name, sc := range cfg.Servers {
		sc.Name = name
		registry.Add(effectiveServer(cfg.Main, sc))
	}

	root := cfg.Main.BaseDir
	if root == "" {
		root = cfg.Main.Workspace
	}
	target := stages.LocalTarget{Root: root}

	d := &daemon{
		store:    store,
		registry: registry,
		target:   target,
		index:    newBackupIndex(target),
		metrics:  metrics.NewCollector(),
		catalog:  replication.NewCatalog(),
	}
	return d, nil
}

// workspaceFor creates and returns a fresh scratch directory for one
// run, rooted under the configured workspace rather than the
// already-shipped backup store.
func (d *daemon) workspaceFor(server, label string) (*stages.Workspace, error) {
	cfg := d.store.Load()
	base := cfg.Main.Workspace
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, server, label)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, pgerrors.Wrap(pgerrors.IOError, "creating run workspace", err).WithPath(dir)
	}
	return &stages.Workspace{Dir: dir}, nil
}

// newLabel builds a backup label from the current time plus a short
// run-id suffix, so two backups kicked off within the same second (a
// manual "backup" request racing a scheduled one) never collide on the
// same ShipTarget directory.
func newLabel() string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.New().String()[:8]
}

// runBackup builds a full, non-incremental backup for server and ships
// it via the local target, recording its metadata in the backup index
// on success.
func (d *daemon) runBackup(ctx context.Context, server *types.Server) error {
	label := newLabel()
	ws, err := d.workspaceFor(server.Name, label)
	if err != nil {
		return err
	}
	defer os.RemoveAll(ws.Dir)

	backup := &types.Backup{
		Label:        label,
		ChecksumAlgo: "sha256",
		CreatedAt:    time.Now().UTC(),
	}

	rc := workflow.NewRunContext()
	rc.Set(stages.KeyServer, container.NewObject(server, nil, nil))
	rc.Set(stages.KeyBackup, container.NewObject(backup, nil, nil))
	rc.Set(stages.KeyWorkspace, container.NewObject(ws, nil, nil))

	runStages := stages.BuildBackupStages(
		passthroughAuthenticator{},
		unconfiguredBaseBackupSource{},
		nil,
		identityCompressor{},
		identityEncryptor{},
		d.target,
		0o640,
	)

	d.metrics.RecordBackupStart()
	start := time.Now()
	engine := workflow.New("backup")
	if err := engine.Run(ctx, rc, runStages); err != nil {
		d.metrics.RecordBackupEnd(false, time.Since(start).Seconds(), 0)
		return err
	}
	backup.EndedAt = time.Now().UTC()
	d.metrics.RecordBackupEnd(true, time.Since(start).Seconds(), backup.BackupSize)
	return d.index.Put(server.Name, backup)
}

// latestBackup picks the most recently created backup for a server,
// the restore target when no specific label is given — restore's own
// WorkflowRunner signature, shared with every other operation kind,
// carries no per-request payload.
func (d *daemon) latestBackup(server string) (*types.Backup, error) {
	backups, err := d.index.List(server)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, pgerrors.New(pgerrors.ConfigInvalid, "no backups available to restore for "+server)
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Label > backups[j].Label })
	return backups[0], nil
}

// runRestore materializes the most recent backup for server into its
// configured hot-standby path.
func (d *daemon) runRestore(ctx context.Context, server *types.Server) error {
	target, err := d.latestBackup(server.Name)
	if err != nil {
		return err
	}
	allBackups, err := d.index.AsMap(server.Name)
	if err != nil {
		return err
	}
	if server.HotStandbyPath == "" {
		return pgerrors.New(pgerrors.ConfigInvalid, "no hot-standby path configured for "+server.Name)
	}
	if err := os.MkdirAll(server.HotStandbyPath, 0o750); err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "creating restore target", err).WithPath(server.HotStandbyPath)
	}

	rc := workflow.NewRunContext()
	rc.Set(stages.KeyServer, container.NewObject(server, nil, nil))
	rc.Set(stages.KeyBackup, container.NewObject(target, nil, nil))

	runStages := stages.BuildRestoreStages(d.target, allBackups, identityEncryptor{}, identityCompressor{}, server.HotStandbyPath, 0o750)

	d.metrics.RecordRestoreStart()
	start := time.Now()
	engine := workflow.New("restore")
	if err := engine.Run(ctx, rc, runStages); err != nil {
		d.metrics.RecordRestoreEnd(false, time.Since(start).Seconds())
		return err
	}
	d.metrics.RecordRestoreEnd(true, time.Since(start).Seconds())
	return nil
}

// runRetention computes survivors from the backup index and deletes
// everything else.
func (d *daemon) runRetention(ctx context.Context, server *types.Server) error {
	candidates, err := d.index.List(server.Name)
	if err != nil {
		return err
	}

	rc := workflow.NewRunContext()
	rc.Set(stages.KeyServer, container.NewObject(server, nil, nil))
	rc.Set(stages.KeyRetentionCandidates, container.NewObject(candidates, nil, nil))
	rc.Set(stages.KeyRetentionPolicy, container.NewObject(server.Retention, nil, nil))
	rc.Set(stages.KeyRetentionNow, container.NewObject(time.Now().UTC(), nil, nil))

	runStages := stages.BuildRetentionStages(d.target, server.Name)
	engine := workflow.New("retention")
	if err := engine.Run(ctx, rc, runStages); err != nil {
		return err
	}

	losers, ok := rc.Get(stages.KeyRetentionLosers)
	if !ok {
		return nil
	}
	if payload, ok := losers.Payload.([]*types.Backup); ok && len(payload) > 0 {
		d.metrics.RecordRetentionDeleted(len(payload))
	}
	return nil
}

// runDelete reuses the retention pipeline: a bare "delete" category has
// no per-request label to act on (WorkflowRunner carries none), so it
// is interpreted as "apply the retention policy now", deleting every
// current loser immediately rather than waiting for the next scheduled
// run.
func (d *daemon) runDelete(ctx context.Context, server *types.Server) error {
	return d.runRetention(ctx, server)
}

// runArchive sweeps server's WAL shipping spool and ships every
// segment found there to the local target under the "wal" pseudo-label,
// the same local-disk storage engine backups use. archive_command-style
// spooling (a file appearing locally once the database closes a
// segment) is assumed upstream; this only forwards what is already on
// disk.
func (d *daemon) runArchive(ctx context.Context, server *types.Server) error {
	cfg := d.store.Load()
	spool := cfg.Main.WALShipping
	if spool == "" {
		return pgerrors.New(pgerrors.ConfigInvalid, "no wal_shipping spool directory configured")
	}
	entries, err := os.ReadDir(spool)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pgerrors.Wrap(pgerrors.IOError, "scanning wal shipping spool", err).WithPath(spool)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(spool, name)
		f, err := os.Open(path)
		if err != nil {
			d.metrics.RecordWALShippingFailure()
			return pgerrors.Wrap(pgerrors.IOError, "opening wal segment", err).WithPath(path)
		}
		err = d.target.Put(ctx, server.Name, "wal", name, f)
		f.Close()
		if err != nil {
			d.metrics.RecordWALShippingFailure()
			return err
		}
		d.metrics.RecordWALSegmentShipped()
		if err := os.Remove(path); err != nil {
			return pgerrors.Wrap(pgerrors.IOError, "clearing shipped wal segment", err).WithPath(path)
		}
	}
	return nil
}

// runVerify re-fetches and re-hashes every file in every stored
// backup's manifest for server, failing on the first checksum
// mismatch. It is the only category that reads back what backup/ship
// already wrote rather than producing new state.
func (d *daemon) runVerify(ctx context.Context, server *types.Server) error {
	labels, err := d.target.List(server.Name)
	if err != nil {
		return err
	}
	for _, label := range labels {
		m, err := stages.ReadManifest(ctx, d.target, server.Name, label)
		if err != nil {
			return err
		}
		for _, entry := range m.Files {
			rc, err := d.target.Fetch(ctx, server.Name, label, entry.Path)
			if err != nil {
				return err
			}
			err = verifyChecksum(rc, entry.Checksum)
			rc.Close()
			if err != nil {
				return pgerrors.Wrap(pgerrors.Corruption, fmt.Sprintf("checksum mismatch for %s/%s/%s", server.Name, label, entry.Path), err)
			}
		}
	}
	return nil
}

// runExpunge permanently removes every backup stored for server,
// bypassing the retention policy entirely.
func (d *daemon) runExpunge(ctx context.Context, server *types.Server) error {
	labels, err := d.target.List(server.Name)
	if err != nil {
		return err
	}
	for _, label := range labels {
		if err := d.target.Delete(ctx, server.Name, label); err != nil {
			return err
		}
	}
	return nil
}

// listBackups implements supervisor.BackupLister.
func (d *daemon) listBackups(ctx context.Context, server string) ([]*types.Backup, error) {
	return d.index.List(server)
}

// annotate implements supervisor.AnnotateFunc. types.Backup carries no
// free-form metadata bag, only the recognized Keep flag, so "keep" is
// the only key this currently accepts.
func (d *daemon) annotate(ctx context.Context, server, label, key, value string) error {
	b, err := d.index.Get(server, label)
	if err != nil {
		return err
	}
	if key != "keep" {
		return pgerrors.New(pgerrors.ConfigInvalid, "unsupported annotation key: "+key)
	}
	b.Keep = value == "true" || value == "1"
	return d.index.Put(server, b)
}

func (d *daemon) dispatcher() *supervisor.Dispatcher {
	return &supervisor.Dispatcher{
		Registry:    d.registry,
		Store:       d.store,
		Backup:      d.runBackup,
		Restore:     d.runRestore,
		Archive:     d.runArchive,
		Delete:      d.runDelete,
		Retain:      d.runRetention,
		Verify:      d.runVerify,
		Expunge:     d.runExpunge,
		ListBackups: d.listBackups,
		Annotate:    d.annotate,
	}
}

// verifyChecksum hashes r and compares it against want, the hex sha256
// digest stages.hashFile produces when a backup is first written.
func verifyChecksum(r io.Reader, want string) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("got %s, want %s", got, want)
	}
	return nil
}

// listen opens the management-protocol listener: a unix socket under
// UnixSocketDir when configured, otherwise a plain TCP listener on
// Host:Port.
func listen(main config.Main) (net.Listener, error) {
	if main.UnixSocketDir != "" {
		path := filepath.Join(main.UnixSocketDir, ".s.pgkeepd")
		os.Remove(path)
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, pgerrors.Wrap(pgerrors.TransportError, "binding management socket", err).WithPath(path)
		}
		return ln, nil
	}
	addr := fmt.Sprintf("%s:%d", main.Host, main.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, pgerrors.Wrap(pgerrors.TransportError, "binding management listener", err)
	}
	return ln, nil
}

// replicationAddr derives the slot-control gRPC listener address from
// the management port: the configuration format has no dedicated key
// for it yet, so this daemon reserves port+1 on the same host.
func replicationAddr(main config.Main) string {
	if main.Host == "" {
		return fmt.Sprintf("127.0.0.1:%d", main.Port+1)
	}
	return fmt.Sprintf("%s:%d", main.Host, main.Port+1)
}

// Start binds both listeners and runs the reactor and gRPC server each
// in their own goroutine. It does not block.
func (d *daemon) Start(ctx context.Context) error {
	cfg := d.store.Load()

	ln, err := listen(cfg.Main)
	if err != nil {
		return err
	}
	d.listener = ln

	disp := d.dispatcher()
	d.reactor = supervisor.NewReactor(ln, disp)
	if cfg.Main.BlockingTimeout > 0 {
		d.reactor.BlockingTimeout = cfg.Main.BlockingTimeout
	}

	grpcLn, err := net.Listen("tcp", replicationAddr(cfg.Main))
	if err != nil {
		ln.Close()
		return pgerrors.Wrap(pgerrors.TransportError, "binding replication listener", err)
	}
	d.grpcListener = grpcLn
	d.grpcServer = grpc.NewServer()
	replication.RegisterSlotServer(d.grpcServer, d.catalog)

	go func() {
		if err := d.reactor.Serve(ctx); err != nil {
			slog.Error("management reactor stopped", "error", err)
		}
	}()
	go func() {
		if err := d.grpcServer.Serve(grpcLn); err != nil {
			slog.Error("replication server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts both servers down, waiting for in-flight connections.
func (d *daemon) Stop() {
	if d.reactor != nil {
		d.reactor.Stop()
	}
	if d.grpcServer != nil {
		d.grpcServer.GracefulStop()
	}
}
