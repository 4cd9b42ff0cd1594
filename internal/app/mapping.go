package app

import (
	"fmt"
	"strings"
	"time"

	"foxq/internal/config"
	"foxq/internal/storage"
	"foxq/internal/task/periodic"
	"foxq/internal/task/processor"
	"foxq/internal/task/queue"
	"foxq/internal/transport/httpapi"
	"foxq/internal/transport/telegram"
	"foxq/pkg/logx"
)

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        sc.Path,
		AtomicWrite: sc.AtomicWrite,
		BusyTimeout: busy,
		Redis: storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Key:      sc.Redis.Key,
		},
	}, nil
}

// tunables maps the queue section. A max delay turns the fixed pause after a
// batch into a random one.
func tunables(cfg *config.Config) (queue.Tunables, error) {
	qc := cfg.Queue
	interval, err := config.ParseDurationField("queue.scheduler_interval", qc.SchedulerInterval)
	if err != nil {
		return queue.Tunables{}, err
	}
	lo, err := config.ParseDurationField("queue.delay_after_batch", qc.DelayAfterBatch)
	if err != nil {
		return queue.Tunables{}, err
	}
	hi, err := config.ParseDurationField("queue.delay_after_batch_max", qc.DelayAfterBatchMax)
	if err != nil {
		return queue.Tunables{}, err
	}

	t := queue.Tunables{
		Concurrency:       qc.Concurrency,
		SchedulerInterval: interval,
		FireOnce:          qc.FireOnce,
	}
	switch {
	case hi > 0:
		t.DelayAfterBatch = queue.RandomDelay(lo, hi)
	case lo > 0:
		t.DelayAfterBatch = queue.FixedDelay(lo)
	}
	return t, nil
}

func processFunc(cfg *config.Config, log logx.Logger) (queue.ProcessFunc[Payload], error) {
	pc := cfg.Processor
	switch pc.Kind {
	case config.ProcessorExec:
		return processor.Exec[Payload](processor.ExecConfig{
			Command: pc.Command,
			Dir:     pc.Dir,
			Env:     pc.Env,
		}, log)
	case config.ProcessorSimulate, "":
		rate := config.DefaultSuccessRate
		if pc.SuccessRate != nil {
			rate = *pc.SuccessRate
		}
		return processor.Simulate[Payload](processor.SimulateConfig{
			MinDelay:    config.MustDuration(pc.MinDelay),
			MaxDelay:    config.MustDuration(pc.MaxDelay),
			SuccessRate: rate,
		}, log), nil
	default:
		return nil, fmt.Errorf("processor.kind: unknown kind %q", pc.Kind)
	}
}

func dashboardConfig(cfg *config.Config) (httpapi.Config, bool) {
	dc := cfg.Dashboard
	return httpapi.Config{
		Addr:              dc.Addr,
		BroadcastInterval: config.MustDuration(dc.BroadcastInterval),
		AllowOrigin:       dc.AllowOrigin,
		Pprof:             dc.Pprof,
	}, dc.Enabled == nil || *dc.Enabled
}

func telegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	poll, err := config.ParseDurationField("telegram.poll_timeout", tc.PollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          tc.Token,
		PollTimeout:    poll,
		OwnerUserIDs:   append([]int64(nil), tc.OwnerUserIDs...),
		NotifyChatID:   tc.NotifyChatID,
		NotifyFailures: tc.NotifyFailures,
	}, nil
}

// validate runs the checks config.Validate cannot do on its own; it guards
// hot reloads.
func validate(cfg *config.Config) error {
	if _, err := tunables(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Jobs.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("jobs.timezone: invalid %q: %w", tz, err)
		}
	}
	for name, spec := range map[string]string{
		"jobs.checkpoint":     cfg.Jobs.Checkpoint,
		"jobs.restart_errors": cfg.Jobs.RestartErrors,
	} {
		if spec == config.JobOff {
			continue
		}
		if _, err := periodic.ParseSchedule(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
