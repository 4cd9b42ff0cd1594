package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"foxq/pkg/logx"
)

const (
	DefaultStoragePath   = "./data"
	DefaultDashboardAddr = "127.0.0.1:9674"
	DefaultCheckpoint    = "@every 1m"
	DefaultSuccessRate   = 0.4
	OnAllConcludedLog    = "log"
	OnAllConcludedExit   = "exit"
	JobOff               = "off"
	ProcessorSimulate    = "simulate"
	ProcessorExec        = "exec"
)

func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func boolPtr(v bool) *bool { return &v }

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if c.Logging.Console == nil {
		c.Logging.Console = boolPtr(true)
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 2
	}
	if strings.TrimSpace(c.Queue.SchedulerInterval) == "" {
		c.Queue.SchedulerInterval = "1s"
	}
	if strings.TrimSpace(c.Queue.OnAllConcluded) == "" {
		c.Queue.OnAllConcluded = OnAllConcludedLog
	}
	if c.Queue.Autostart == nil {
		c.Queue.Autostart = boolPtr(true)
	}

	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = filepath.Join(c.Storage.Path, "log.txt")
	}

	if strings.TrimSpace(c.Processor.Kind) == "" {
		c.Processor.Kind = ProcessorSimulate
	}
	if c.Processor.Kind == ProcessorSimulate {
		if strings.TrimSpace(c.Processor.MinDelay) == "" {
			c.Processor.MinDelay = "5s"
		}
		if strings.TrimSpace(c.Processor.MaxDelay) == "" {
			c.Processor.MaxDelay = "15s"
		}
		if c.Processor.SuccessRate == nil {
			r := DefaultSuccessRate
			c.Processor.SuccessRate = &r
		}
	}

	if c.Dashboard.Enabled == nil {
		c.Dashboard.Enabled = boolPtr(true)
	}
	if strings.TrimSpace(c.Dashboard.Addr) == "" {
		c.Dashboard.Addr = DefaultDashboardAddr
	}
	if strings.TrimSpace(c.Dashboard.BroadcastInterval) == "" {
		c.Dashboard.BroadcastInterval = "1s"
	}
	if strings.TrimSpace(c.Dashboard.AllowOrigin) == "" {
		c.Dashboard.AllowOrigin = "*"
	}

	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}

	if strings.TrimSpace(c.Jobs.Checkpoint) == "" {
		c.Jobs.Checkpoint = DefaultCheckpoint
	}
	if strings.TrimSpace(c.Jobs.RestartErrors) == "" {
		c.Jobs.RestartErrors = JobOff
	}
}

// Validate checks values that cannot be defaulted. It expects ApplyDefaults
// to have run.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	_, err := ParseDurationField("queue.scheduler_interval", c.Queue.SchedulerInterval)
	add(err)
	minDelay, err := ParseDurationField("queue.delay_after_batch", c.Queue.DelayAfterBatch)
	add(err)
	maxDelay, err := ParseDurationField("queue.delay_after_batch_max", c.Queue.DelayAfterBatchMax)
	add(err)
	if maxDelay > 0 && maxDelay < minDelay {
		add(errors.New("queue.delay_after_batch_max must be >= queue.delay_after_batch"))
	}
	switch c.Queue.OnAllConcluded {
	case OnAllConcludedLog, OnAllConcludedExit:
	default:
		add(fmt.Errorf("queue.on_all_concluded: want %q or %q, got %q", OnAllConcludedLog, OnAllConcludedExit, c.Queue.OnAllConcluded))
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "file", "sqlite", "sqlite3", "none":
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required for the redis driver"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	switch c.Processor.Kind {
	case ProcessorSimulate:
		lo, err := ParseDurationField("processor.min_delay", c.Processor.MinDelay)
		add(err)
		hi, err := ParseDurationField("processor.max_delay", c.Processor.MaxDelay)
		add(err)
		if hi < lo {
			add(errors.New("processor.max_delay must be >= processor.min_delay"))
		}
		if r := c.Processor.SuccessRate; r != nil && (*r < 0 || *r > 1) {
			add(fmt.Errorf("processor.success_rate must be within [0, 1], got %v", *r))
		}
	case ProcessorExec:
		if len(c.Processor.Command) == 0 {
			add(errors.New("processor.command is required for kind exec"))
		}
	default:
		add(fmt.Errorf("processor.kind: unknown kind %q", c.Processor.Kind))
	}

	_, err = ParseDurationField("dashboard.broadcast_interval", c.Dashboard.BroadcastInterval)
	add(err)

	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add(errors.New("telegram.token is required when telegram is enabled"))
		}
		if len(c.Telegram.OwnerUserIDs) == 0 {
			add(errors.New("telegram.owner_user_ids is required when telegram is enabled"))
		}
	}
	_, err = ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)

	return errors.Join(errs...)
}
