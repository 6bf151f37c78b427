package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pgkeep/pgkeep/internal/config"
	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/pkg/types"
)

var log = slog.Default()

// WorkflowRunner runs one workflow composition (backup, restore,
// retention, ...) for server to completion. Dispatcher never builds
// stages itself — the concrete workflow.Engine.Run call, with its
// ShipTarget/Compressor/Encryptor wiring, is assembled by the caller
// that constructs the Dispatcher (typically cmd/pgkeepd), the same
// external-collaborator seam internal/stages already uses.
type WorkflowRunner func(ctx context.Context, server *types.Server) error

// BackupLister enumerates known backups for server, for the
// list-backup category.
type BackupLister func(ctx context.Context, server string) ([]*types.Backup, error)

// AnnotateFunc attaches a free-form key/value annotation to a backup,
// for the annotate category.
type AnnotateFunc func(ctx context.Context, server, label, key, value string) error

// Dispatcher implements the category dispatch. Every
// long-running category acquires its operation-kind's busy flag on the
// target ServerState before running, and releases it regardless of
// outcome — the goroutine-per-request equivalent of "forks a child
// process per long-running command" (the design).
type Dispatcher struct {
	Registry *Registry
	Store    *config.Store

	Backup   WorkflowRunner
	Restore  WorkflowRunner
	Archive  WorkflowRunner
	Delete   WorkflowRunner
	Retain   WorkflowRunner
	Verify   WorkflowRunner
	Expunge  WorkflowRunner

	ListBackups BackupLister
	Annotate    AnnotateFunc
	Shutdown    func()
}

var categoryOpKind = map[string]types.OperationKind{
	"backup":  types.OpBackup,
	"restore": types.OpRestore,
	"archive": types.OpArchive,
	"delete":  types.OpDelete,
	"retain":  types.OpRetention,
}

// Dispatch routes req to its category's handler and always returns a
// Response rather than an error — transport-level failures are the
// caller's concern (reading/writing the frame), everything else
// becomes a typed {status, code, message}.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	switch req.Category {
	case "backup", "restore", "archive", "delete", "retain":
		return d.runOperation(ctx, req)
	case "verify":
		return d.runUnlocked(ctx, req, d.Verify)
	case "expunge":
		return d.runUnlocked(ctx, req, d.Expunge)
	case "list-backup":
		return d.listBackup(ctx, req)
	case "info":
		return d.info(req)
	case "status":
		return d.status()
	case "ping":
		return Response{Status: StatusSuccess, Category: req.Category}
	case "conf-get":
		return d.confGet(req)
	case "conf-ls":
		return d.confLs(req)
	case "conf-set":
		return d.confSet(req)
	case "conf-reload":
		return d.confReload(req)
	case "reset":
		return d.reset(req)
	case "mode":
		return d.mode(req)
	case "annotate":
		return d.annotate(ctx, req)
	case "shutdown":
		if d.Shutdown != nil {
			d.Shutdown()
		}
		return Response{Status: StatusSuccess, Category: req.Category}
	default:
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "unknown request category: "+req.Category))
	}
}

func (d *Dispatcher) runOperation(ctx context.Context, req Request) Response {
	kind := categoryOpKind[req.Category]
	st, ok := d.Registry.Get(req.Server)
	if !ok {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "unknown server: "+req.Server))
	}
	if err := st.TryAcquire(kind); err != nil {
		return ErrorResponse(req.Category, err)
	}

	runner := d.runnerFor(req.Category)
	success := false
	defer func() { st.Release(kind, success) }()

	if runner == nil {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "no runner configured for category: "+req.Category))
	}
	if err := runner(ctx, st.Server); err != nil {
		log.Error("operation failed", "category", req.Category, "server", req.Server, "error", err)
		return ErrorResponse(req.Category, err)
	}
	success = true
	log.Info("operation completed", "category", req.Category, "server", req.Server)
	return Response{Status: StatusSuccess, Category: req.Category}
}

func (d *Dispatcher) runnerFor(category string) WorkflowRunner {
	switch category {
	case "backup":
		return d.Backup
	case "restore":
		return d.Restore
	case "archive":
		return d.Archive
	case "delete":
		return d.Delete
	case "retain":
		return d.Retain
	}
	return nil
}

// runUnlocked runs categories that are not among the five mutually
// exclusive operation kinds (verify, expunge): they may proceed
// concurrently with anything else, per the busy-flag set
// naming only backup/restore/archive/delete/retention.
func (d *Dispatcher) runUnlocked(ctx context.Context, req Request, runner WorkflowRunner) Response {
	st, ok := d.Registry.Get(req.Server)
	if !ok {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "unknown server: "+req.Server))
	}
	if runner == nil {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "no runner configured for category: "+req.Category))
	}
	if err := runner(ctx, st.Server); err != nil {
		return ErrorResponse(req.Category, err)
	}
	return Response{Status: StatusSuccess, Category: req.Category}
}

func (d *Dispatcher) listBackup(ctx context.Context, req Request) Response {
	if d.ListBackups == nil {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "no backup lister configured"))
	}
	backups, err := d.ListBackups(ctx, req.Server)
	if err != nil {
		return ErrorResponse(req.Category, err)
	}
	data, _ := json.Marshal(backups)
	return Response{Status: StatusSuccess, Category: req.Category, Data: data}
}

// serverInfo is the info/status category's per-server payload shape.
type serverInfo struct {
	Name          string    `json:"name"`
	CurrentState  map[string]bool `json:"busy"`
	LastOperation time.Time `json:"last_operation"`
	LastFailedOp  time.Time `json:"last_failed_operation"`
}

func (d *Dispatcher) info(req Request) Response {
	st, ok := d.Registry.Get(req.Server)
	if !ok {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "unknown server: "+req.Server))
	}
	busy := make(map[string]bool, len(types.AllOperationKinds))
	for _, k := range types.AllOperationKinds {
		busy[string(k)] = st.Busy(k)
	}
	info := serverInfo{
		Name:          st.Server.Name,
		CurrentState:  busy,
		LastOperation: st.Server.LastOperation,
		LastFailedOp:  st.Server.LastFailedOp,
	}
	data, _ := json.Marshal(info)
	return Response{Status: StatusSuccess, Category: req.Category, Data: data}
}

func (d *Dispatcher) status() Response {
	names := d.Registry.Names()
	data, _ := json.Marshal(map[string]any{"servers": names})
	return Response{Status: StatusSuccess, Category: "status", Data: data}
}

// confPayload is the shared request/response shape for conf-get/
// conf-set/conf-ls.
type confPayload struct {
	Section string `json:"section,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
}

func (d *Dispatcher) confGet(req Request) Response {
	var p confPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return ErrorResponse(req.Category, pgerrors.Wrap(pgerrors.FormatError, "decoding conf-get payload", err))
	}
	section := p.Section
	if section == "" {
		section = "main"
	}
	cfg := d.Store.Load()
	value, ok := cfg.Source[section][p.Key]
	if !ok {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "unknown key: "+section+"."+p.Key))
	}
	data, _ := json.Marshal(confPayload{Section: section, Key: p.Key, Value: value})
	return Response{Status: StatusSuccess, Category: req.Category, Data: data}
}

func (d *Dispatcher) confLs(req Request) Response {
	cfg := d.Store.Load()
	data, _ := json.Marshal(cfg.Source)
	return Response{Status: StatusSuccess, Category: req.Category, Data: data}
}

// confSetResult distinguishes current_value from requested_value for a
// restart-required conf-set, per the user-visible behavior.
type confSetResult struct {
	Section       string `json:"section"`
	Key           string `json:"key"`
	CurrentValue  string `json:"current_value"`
	RequestedValue string `json:"requested_value"`
}

func (d *Dispatcher) confSet(req Request) Response {
	var p confPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return ErrorResponse(req.Category, pgerrors.Wrap(pgerrors.FormatError, "decoding conf-set payload", err))
	}
	section := p.Section
	if section == "" {
		section = "main"
	}

	current := d.Store.Load()
	currentValue := current.Source[section][p.Key]

	staged := cloneConfig(current)
	if staged.Source[section] == nil {
		staged.Source[section] = map[string]string{}
	}
	staged.Source[section][p.Key] = p.Value

	hot := section == "main" && config.IsHotReloadable(p.Key)
	if hot {
		if err := applyHotMainField(&staged.Main, p.Key, p.Value); err != nil {
			return ErrorResponse(req.Category, err)
		}
	}

	if !hot {
		data, _ := json.Marshal(confSetResult{Section: section, Key: p.Key, CurrentValue: currentValue, RequestedValue: p.Value})
		return Response{Status: StatusRestartRequired, Category: req.Category, Data: data}
	}

	d.Store.Swap(staged)
	data, _ := json.Marshal(confSetResult{Section: section, Key: p.Key, CurrentValue: p.Value, RequestedValue: p.Value})
	return Response{Status: StatusSuccess, Category: req.Category, Data: data}
}

func cloneConfig(c *config.Config) *config.Config {
	next := &config.Config{Main: c.Main, Servers: c.Servers, Source: make(map[string]map[string]string, len(c.Source))}
	for section, kv := range c.Source {
		cloned := make(map[string]string, len(kv))
		for k, v := range kv {
			cloned[k] = v
		}
		next.Source[section] = cloned
	}
	return next
}

// applyHotMainField sets the typed config.Main field matching key,
// restricted to the keys config.IsHotReloadable already allows through
// conf-reload without a restart.
func applyHotMainField(m *config.Main, key, value string) error {
	switch key {
	case "log_level":
		m.LogLevel = config.LogLevel(value)
	case "log_line_prefix":
		m.LogLinePrefix = value
	case "backup_max_rate":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return pgerrors.Wrap(pgerrors.ConfigInvalid, "parsing backup_max_rate", err)
		}
		m.BackupMaxRate = n
	case "network_max_rate":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return pgerrors.Wrap(pgerrors.ConfigInvalid, "parsing network_max_rate", err)
		}
		m.NetworkMaxRate = n
	case "blocking_timeout":
		dur, err := time.ParseDuration(value)
		if err != nil {
			return pgerrors.Wrap(pgerrors.ConfigInvalid, "parsing blocking_timeout", err)
		}
		m.BlockingTimeout = dur
	case "compression_level":
		n, err := strconv.Atoi(value)
		if err != nil {
			return pgerrors.Wrap(pgerrors.ConfigInvalid, "parsing compression_level", err)
		}
		m.CompressionLevel = n
	case "retention_interval":
		dur, err := time.ParseDuration(value)
		if err != nil {
			return pgerrors.Wrap(pgerrors.ConfigInvalid, "parsing retention_interval", err)
		}
		m.RetentionInterval = dur
	case "retention":
		// left to the operator's next conf-reload from file: the
		// days/weeks/months/years quadruple isn't expressible as a
		// single string value over this protocol's conf-set.
	}
	return nil
}

func (d *Dispatcher) confReload(req Request) Response {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return ErrorResponse(req.Category, pgerrors.Wrap(pgerrors.FormatError, "decoding conf-reload payload", err))
	}
	diff, err := config.Reload(d.Store, p.Path)
	if err != nil {
		return ErrorResponse(req.Category, err)
	}
	data, _ := json.Marshal(diff)
	if diff.NeedsRestart() {
		return Response{Status: StatusRestartRequired, Category: req.Category, Data: data}
	}
	return Response{Status: StatusSuccess, Category: req.Category, Data: data}
}

func (d *Dispatcher) reset(req Request) Response {
	st, ok := d.Registry.Get(req.Server)
	if !ok {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "unknown server: "+req.Server))
	}
	for _, k := range types.AllOperationKinds {
		st.Release(k, true)
	}
	log.Warn("operation flags force-reset", "server", req.Server)
	return Response{Status: StatusSuccess, Category: req.Category}
}

func (d *Dispatcher) mode(req Request) Response {
	st, ok := d.Registry.Get(req.Server)
	if !ok {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "unknown server: "+req.Server))
	}
	data, _ := json.Marshal(map[string]string{"hot_standby": st.Server.HotStandbyPath})
	return Response{Status: StatusSuccess, Category: req.Category, Data: data}
}

func (d *Dispatcher) annotate(ctx context.Context, req Request) Response {
	var p struct {
		Label string `json:"label"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return ErrorResponse(req.Category, pgerrors.Wrap(pgerrors.FormatError, "decoding annotate payload", err))
	}
	if d.Annotate == nil {
		return ErrorResponse(req.Category, pgerrors.New(pgerrors.ConfigInvalid, "no annotate function configured"))
	}
	if err := d.Annotate(ctx, req.Server, p.Label, p.Key, p.Value); err != nil {
		return ErrorResponse(req.Category, err)
	}
	return Response{Status: StatusSuccess, Category: req.Category}
}
