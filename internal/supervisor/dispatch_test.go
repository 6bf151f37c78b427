package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/internal/config"
	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/pkg/types"
)

func writeTestConf(t *testing.T, body string) *config.Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pgkeep.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return config.NewStore(cfg)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	reg := NewRegistry()
	reg.Add(&types.Server{Name: "primary"})
	store := writeTestConf(t, `
[main]
host = localhost
port = 5432
base_dir = /var/lib/pgkeep
log_level = info
`)
	return &Dispatcher{Registry: reg, Store: store}, reg
}

func TestDispatchBackupRunsAndReleasesLock(t *testing.T) {
	d, reg := newTestDispatcher(t)
	called := false
	d.Backup = func(ctx context.Context, server *types.Server) error {
		called = true
		return nil
	}

	resp := d.Dispatch(context.Background(), Request{Category: "backup", Server: "primary"})
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.True(t, called)

	st, _ := reg.Get("primary")
	assert.False(t, st.Busy(types.OpBackup))
}

func TestDispatchBackupRejectsConcurrentSecondCall(t *testing.T) {
	d, reg := newTestDispatcher(t)
	st, _ := reg.Get("primary")
	require.NoError(t, st.TryAcquire(types.OpBackup))

	resp := d.Dispatch(context.Background(), Request{Category: "backup", Server: "primary"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "already_in_progress", resp.Code)
}

func TestDispatchBackupFailureStillReleasesLock(t *testing.T) {
	d, reg := newTestDispatcher(t)
	d.Backup = func(ctx context.Context, server *types.Server) error {
		return errors.New("disk full")
	}

	resp := d.Dispatch(context.Background(), Request{Category: "backup", Server: "primary"})
	assert.Equal(t, StatusError, resp.Status)

	st, _ := reg.Get("primary")
	assert.False(t, st.Busy(types.OpBackup))

	// a second attempt must be allowed to proceed now that the flag cleared
	d.Backup = func(ctx context.Context, server *types.Server) error { return nil }
	resp2 := d.Dispatch(context.Background(), Request{Category: "backup", Server: "primary"})
	assert.Equal(t, StatusSuccess, resp2.Status)
}

func TestDispatchPing(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Category: "ping"})
	assert.Equal(t, StatusSuccess, resp.Status)
}

func TestDispatchConfGetReturnsCurrentValue(t *testing.T) {
	d, _ := newTestDispatcher(t)
	payload, _ := json.Marshal(confPayload{Key: "log_level"})
	resp := d.Dispatch(context.Background(), Request{Category: "conf-get", Payload: payload})
	require.Equal(t, StatusSuccess, resp.Status)

	var got confPayload
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "info", got.Value)
}

func TestDispatchConfSetHotKeyAppliesImmediately(t *testing.T) {
	d, _ := newTestDispatcher(t)
	payload, _ := json.Marshal(confPayload{Key: "log_level", Value: "debug1"})
	resp := d.Dispatch(context.Background(), Request{Category: "conf-set", Payload: payload})
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, config.LogLevel("debug1"), d.Store.Load().Main.LogLevel)
}

func TestDispatchConfSetRestartRequiredKeyIsStagedNotApplied(t *testing.T) {
	d, _ := newTestDispatcher(t)
	oldBaseDir := d.Store.Load().Main.BaseDir
	payload, _ := json.Marshal(confPayload{Key: "base_dir", Value: "/new/path"})
	resp := d.Dispatch(context.Background(), Request{Category: "conf-set", Payload: payload})
	assert.Equal(t, StatusRestartRequired, resp.Status)
	assert.Equal(t, oldBaseDir, d.Store.Load().Main.BaseDir)

	var got confSetResult
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "/new/path", got.RequestedValue)
}

func TestDispatchUnknownServerErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Category: "backup", Server: "nonexistent"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, string(pgerrors.ConfigInvalid), resp.Code)
}

func TestDispatchUnknownCategoryErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Category: "not-a-real-category"})
	assert.Equal(t, StatusError, resp.Status)
}
