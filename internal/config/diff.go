package config

import (
	"reflect"

	"foxq/pkg/logx"
)

// Sections applied live on reload. Everything else needs a restart.
var hotSections = map[string]bool{
	"logging": true,
	"queue":   true,
}

// Changed lists the top-level sections that differ between two configs, in
// declaration order.
func Changed(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	pairs := []struct {
		name     string
		old, new any
	}{
		{"logging", oldCfg.Logging, newCfg.Logging},
		{"queue", oldCfg.Queue, newCfg.Queue},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"processor", oldCfg.Processor, newCfg.Processor},
		{"dashboard", oldCfg.Dashboard, newCfg.Dashboard},
		{"console", oldCfg.Console, newCfg.Console},
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"jobs", oldCfg.Jobs, newCfg.Jobs},
	}
	var out []string
	for _, p := range pairs {
		if !reflect.DeepEqual(p.old, p.new) {
			out = append(out, p.name)
		}
	}
	return out
}

// SplitHot separates sections applied live from those needing a restart.
func SplitHot(sections []string) (hot, restart []string) {
	for _, s := range sections {
		if hotSections[s] {
			hot = append(hot, s)
		} else {
			restart = append(restart, s)
		}
	}
	return hot, restart
}

// SummaryFields describes cfg for logs. Secrets (telegram token, redis
// password) are reported only as set/unset.
func SummaryFields(cfg *Config) []logx.Field {
	if cfg == nil {
		return nil
	}
	return []logx.Field{
		logx.String("logging.level", cfg.Logging.Level),
		logx.Int("queue.concurrency", cfg.Queue.Concurrency),
		logx.String("queue.scheduler_interval", cfg.Queue.SchedulerInterval),
		logx.Bool("queue.fire_once", cfg.Queue.FireOnce),
		logx.String("queue.on_all_concluded", cfg.Queue.OnAllConcluded),
		logx.String("storage.driver", cfg.Storage.Driver),
		logx.String("storage.path", cfg.Storage.Path),
		logx.Bool("storage.redis.password_set", cfg.Storage.Redis.Password != ""),
		logx.String("processor.kind", cfg.Processor.Kind),
		logx.Bool("dashboard.enabled", cfg.Dashboard.Enabled != nil && *cfg.Dashboard.Enabled),
		logx.String("dashboard.addr", cfg.Dashboard.Addr),
		logx.Bool("console.enabled", cfg.Console.Enabled),
		logx.Bool("telegram.enabled", cfg.Telegram.Enabled),
		logx.Bool("telegram.token_set", cfg.Telegram.Token != ""),
		logx.Int("telegram.owner_count", len(cfg.Telegram.OwnerUserIDs)),
	}
}
