package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foxq/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, 2, cfg.Queue.Concurrency)
	assert.Equal(t, "1s", cfg.Queue.SchedulerInterval)
	assert.Equal(t, OnAllConcludedLog, cfg.Queue.OnAllConcluded)
	assert.True(t, *cfg.Queue.Autostart)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, DefaultStoragePath, cfg.Storage.Path)
	assert.Equal(t, ProcessorSimulate, cfg.Processor.Kind)
	assert.Equal(t, DefaultSuccessRate, *cfg.Processor.SuccessRate)
	assert.Equal(t, DefaultDashboardAddr, cfg.Dashboard.Addr)
	assert.Equal(t, DefaultCheckpoint, cfg.Jobs.Checkpoint)
	assert.Equal(t, JobOff, cfg.Jobs.RestartErrors)
}

func TestParseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
		"queue": {"concurrency": 4, "scheduler_interval": "10s", "delay_after_batch": "30s", "delay_after_batch_max": "60s", "on_all_concluded": "exit"},
		"storage": {"driver": "sqlite", "path": "/var/lib/foxq"},
		"logging": {"level": "debug", "file": {"enabled": true}}
	}`)

	cfg, err := NewConfigManager(path).Parse()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.Equal(t, 10*time.Second, MustDuration(cfg.Queue.SchedulerInterval))
	assert.Equal(t, OnAllConcludedExit, cfg.Queue.OnAllConcluded)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join("/var/lib/foxq", "log.txt"), cfg.Logging.File.Path)
}

func TestParseYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
queue:
  concurrency: 3
  fire_once: true
processor:
  kind: exec
  command: ["./worker.sh", "--fast"]
telegram:
  enabled: true
  token: "123:abc"
  owner_user_ids: [42]
`)
	cfg, err := NewConfigManager(path).Parse()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.True(t, cfg.Queue.FireOnce)
	assert.Equal(t, []string{"./worker.sh", "--fast"}, cfg.Processor.Command)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.Nil(t, cfg.Processor.SuccessRate)
}

func TestParseYAMLMergeAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	writeFile(t, path, `
defaults: &q
  concurrency: 3
  scheduler_interval: 2s
queue:
  <<: *q
  concurrency: 5
`)
	_, err := NewConfigManager(path).Parse()
	require.Error(t, err, "defaults is not a config field")

	writeFile(t, path, `
queue: &q
  concurrency: 3
  scheduler_interval: 2s
jobs:
  timezone: UTC
`)
	cfg, err := NewConfigManager(path).Parse()
	require.NoError(t, err)
	assert.Equal(t, "2s", cfg.Queue.SchedulerInterval)

	out, err := yamlToJSON([]byte("base: &b {a: 1, b: 2}\nover:\n  <<: *b\n  b: 3\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"base":{"a":1,"b":2},"over":{"a":1,"b":3}}`, string(out))

	writeFile(t, path, "queue:\n  concurrency: 3\n  concurrency: 4\n")
	_, err = NewConfigManager(path).Parse()
	require.ErrorContains(t, err, "duplicate key queue.concurrency")

	out, err = yamlToJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}

func TestParseDurationFieldErrors(t *testing.T) {
	d, err := ParseDurationField("queue.scheduler_interval", " ")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("queue.delay_after_batch", "-1s")
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "queue.delay_after_batch", fe.Field)
	assert.ErrorIs(t, err, ErrNegativeDuration)

	_, err = ParseDurationField("telegram.poll_timeout", "soon")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, `telegram.poll_timeout: "soon": time: invalid duration "soon"`, err.Error())
	assert.Zero(t, MustDuration("soon"))
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvTelegramToken: "123:env",
		EnvRedisPassword: "hunter2",
		EnvStoragePath:   " /srv/foxq ",
		EnvDashboardAddr: "",
	}
	var cfg Config
	cfg.Dashboard.Addr = "0.0.0.0:1"
	used := applyEnv(&cfg, func(k string) string { return env[k] })
	assert.ElementsMatch(t, []string{EnvTelegramToken, EnvRedisPassword, EnvStoragePath}, used)
	assert.Equal(t, "123:env", cfg.Telegram.Token)
	assert.Equal(t, "hunter2", cfg.Storage.Redis.Password)
	assert.Equal(t, "/srv/foxq", cfg.Storage.Path)
	assert.Equal(t, "0.0.0.0:1", cfg.Dashboard.Addr)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv(EnvStoragePath, "/srv/foxq")
	t.Setenv(EnvLogLevel, "loud")
	dir := t.TempDir()

	_, err := NewConfigManager(filepath.Join(dir, "missing.json")).Load()
	require.Error(t, err, "an invalid override fails validation like the file would")

	t.Setenv(EnvLogLevel, "debug")
	cfg, err := NewConfigManager(filepath.Join(dir, "missing.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/foxq", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"logging": {"level": "warn"}, "storage": {"path": "./data"}}`)
	cfg, err = NewConfigManager(path).Parse()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/srv/foxq", cfg.Storage.Path)
}

func TestParseRejectsBadConfigs(t *testing.T) {
	cases := map[string]string{
		"unknown field":   `{"queue": {"workers": 3}}`,
		"trailing data":   `{} {}`,
		"bad duration":    `{"queue": {"scheduler_interval": "soon"}}`,
		"negative":        `{"queue": {"delay_after_batch": "-1s"}}`,
		"max below min":   `{"queue": {"delay_after_batch": "10s", "delay_after_batch_max": "5s"}}`,
		"on concluded":    `{"queue": {"on_all_concluded": "panic"}}`,
		"driver":          `{"storage": {"driver": "etcd"}}`,
		"redis addr":      `{"storage": {"driver": "redis"}}`,
		"exec no command": `{"processor": {"kind": "exec"}}`,
		"success rate":    `{"processor": {"success_rate": 1.5}}`,
		"telegram token":  `{"telegram": {"enabled": true, "owner_user_ids": [1]}}`,
		"logging level":   `{"logging": {"level": "loud"}}`,
	}
	dir := t.TempDir()
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "c.json")
			writeFile(t, path, body)
			_, err := NewConfigManager(path).Parse()
			require.Error(t, err)
		})
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"queue": {"concurrency": 2}}`)

	m := NewConfigManager(path)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	writeFile(t, path, `{"queue": {"concurrency": 5}}`)
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, 5, (<-ch).Queue.Concurrency)
	assert.Equal(t, 5, m.Get().Queue.Concurrency)
}

func TestReloadValidatorRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{}`)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Storage.Driver != "file" {
			return assert.AnError
		}
		return nil
	})

	writeFile(t, path, `{"storage": {"driver": "none"}}`)
	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "file", m.Get().Storage.Driver)
}

func TestWatchPicksUpEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"queue": {"concurrency": 1}}`)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before editing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"queue": {"concurrency": 7}}`)

	select {
	case cfg := <-ch:
		assert.Equal(t, 7, cfg.Queue.Concurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after edit")
	}
}

func TestChangedAndSplitHot(t *testing.T) {
	a := Default()
	b := Default()
	b.Queue.Concurrency = 9
	b.Storage.Driver = "sqlite"

	changed := Changed(a, b)
	assert.Equal(t, []string{"queue", "storage"}, changed)
	hot, restart := SplitHot(changed)
	assert.Equal(t, []string{"queue"}, hot)
	assert.Equal(t, []string{"storage"}, restart)
	assert.Empty(t, Changed(a, Default()))
}
