package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foxq/internal/config"
	"foxq/internal/control"
	"foxq/internal/task/queue"
)

func writeConfig(t *testing.T, onConcluded string) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	cfg := fmt.Sprintf(`{
  "logging": {"level": "error", "console": false},
  "queue": {"concurrency": 2, "scheduler_interval": "10ms", "on_all_concluded": %q},
  "storage": {"driver": "file", "path": %q},
  "processor": {"kind": "simulate", "min_delay": "0s", "max_delay": "0s", "success_rate": 1},
  "dashboard": {"enabled": false},
  "jobs": {"checkpoint": "off"}
}`, onConcluded, dataDir)
	cfgPath = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, dataDir
}

func readStatuses(t *testing.T, dataDir string) map[string]queue.Status {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dataDir, "tasks.json"))
	require.NoError(t, err)
	var tasks []queue.Task[Payload]
	require.NoError(t, json.Unmarshal(b, &tasks))
	out := map[string]queue.Status{}
	for _, tk := range tasks {
		out[tk.ID] = tk.Status
	}
	return out
}

func TestAppRunsAndPersistsTasks(t *testing.T) {
	cfgPath, dataDir := writeConfig(t, config.OnAllConcludedLog)
	a, err := New(cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	ids := a.Control().Add(ctx, control.Actor{Source: "test"}, Payload{"id": "a"}, Payload{"id": "b"}, Payload{"n": 3})
	require.Len(t, ids, 3)
	assert.Equal(t, "a", ids[0])

	require.Eventually(t, func() bool {
		return a.Control().Stats().Completed == 3
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))

	statuses := readStatuses(t, dataDir)
	require.Len(t, statuses, 3)
	for id, st := range statuses {
		assert.Equal(t, queue.StatusCompleted, st, id)
	}

	audit, err := os.ReadFile(filepath.Join(dataDir, "audit.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), `"add"`)
}

func TestAppReloadsQueueFromStorage(t *testing.T) {
	cfgPath, dataDir := writeConfig(t, config.OnAllConcludedLog)
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	doc := `[{"id":"old","data":{"id":"old"},"status":"error","scheduledAt":"2024-01-01T00:00:00Z","finishedAt":"2024-01-01T00:00:01Z"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "tasks.json"), []byte(doc), 0o644))

	a, err := New(cfgPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx, StopUnknown)

	assert.Equal(t, 1, a.Control().Stats().Error)
	assert.Equal(t, 1, a.Control().RestartErrors(ctx, control.Actor{Source: "test"}))
	require.Eventually(t, func() bool {
		return a.Control().Stats().Completed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAppExposesJobsAndRuntime(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := fmt.Sprintf(`{
  "logging": {"level": "error", "console": false},
  "queue": {"autostart": false},
  "storage": {"driver": "file", "path": %q},
  "processor": {"kind": "simulate", "min_delay": "0s", "max_delay": "0s", "success_rate": 1},
  "dashboard": {"enabled": false},
  "jobs": {"checkpoint": "@every 1h"}
}`, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	a, err := New(cfgPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx, StopUnknown)

	op := control.Actor{Source: "test"}
	a.Control().Add(ctx, op, Payload{"id": "kept"})
	require.NoError(t, a.Control().RunJob(ctx, op, "checkpoint"))
	jobs := a.Control().Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "checkpoint", jobs[0].Name)
	assert.Equal(t, uint64(1), jobs[0].Runs)
	assert.Contains(t, readStatuses(t, filepath.Join(dir, "data")), "kept")

	info := a.Runtime()
	assert.Equal(t, "file", info.Storage)
	assert.Nil(t, info.Telegram)
	assert.Positive(t, info.App.Active)
}

func TestAppExitsWhenAllConcluded(t *testing.T) {
	cfgPath, _ := writeConfig(t, config.OnAllConcludedExit)
	a, err := New(cfgPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	a.Control().Add(ctx, control.Actor{Source: "test"}, Payload{"id": "x"})

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after all tasks concluded")
	}
	assert.Equal(t, StopAllConcluded, a.Reason())
	assert.False(t, a.Reason().Failed())
	require.NoError(t, a.Stop(ctx, a.Reason()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"queue": {"on_all_concluded": "explode"}}`), 0o644))
	_, err := New(p)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(p, []byte(`{"jobs": {"checkpoint": "every now and then"}}`), 0o644))
	_, err = New(p)
	require.Error(t, err)
}

func TestApplyConfigUpdatesHotSections(t *testing.T) {
	cfgPath, _ := writeConfig(t, config.OnAllConcludedLog)
	a, err := New(cfgPath)
	require.NoError(t, err)
	defer a.Stop(context.Background(), StopUnknown)

	prev := a.cfgm.Get()
	next := *prev
	next.Queue.Concurrency = 5
	next.Queue.FireOnce = true
	next.Queue.OnAllConcluded = config.OnAllConcludedExit

	a.applyConfig(prev, &next)
	tun := a.queue.Tunables()
	assert.Equal(t, 5, tun.Concurrency)
	assert.True(t, tun.FireOnce)
	assert.True(t, a.exitOnConcluded.Load())
}

func TestTunablesMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.DelayAfterBatch = "20ms"
	tun, err := tunables(cfg)
	require.NoError(t, err)
	require.NotNil(t, tun.DelayAfterBatch)
	assert.Equal(t, 20*time.Millisecond, tun.DelayAfterBatch())

	cfg.Queue.DelayAfterBatchMax = "40ms"
	tun, err = tunables(cfg)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		d := tun.DelayAfterBatch()
		assert.GreaterOrEqual(t, d, 20*time.Millisecond)
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}

	cfg = config.Default()
	tun, err = tunables(cfg)
	require.NoError(t, err)
	assert.Nil(t, tun.DelayAfterBatch)
	assert.Equal(t, time.Second, tun.SchedulerInterval)
}

func TestReasonForSignal(t *testing.T) {
	assert.Equal(t, StopSIGINT, ReasonForSignal(os.Interrupt))
	assert.True(t, StopFatalError.Failed())
}
