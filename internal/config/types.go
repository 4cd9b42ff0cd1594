package config

// Config is foxq's file configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
// Zero values mean "use the default"; see ApplyDefaults.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Queue     QueueConfig     `json:"queue"`
	Storage   StorageConfig   `json:"storage"`
	Processor ProcessorConfig `json:"processor"`
	Dashboard DashboardConfig `json:"dashboard"`
	Console   ConsoleConfig   `json:"console"`
	Telegram  TelegramConfig  `json:"telegram"`
	Jobs      JobsConfig      `json:"jobs"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console *bool             `json:"console,omitempty"` // default true
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // default <storage.path>/log.txt
}

// QueueConfig holds the scheduler settings.
//
// delay_after_batch is a fixed pause taken after a tick that dispatched
// work; with delay_after_batch_max set the pause is random in
// [delay_after_batch, delay_after_batch_max].
type QueueConfig struct {
	Concurrency        int    `json:"concurrency,omitempty"`        // default 2
	SchedulerInterval  string `json:"scheduler_interval,omitempty"` // default 1s
	DelayAfterBatch    string `json:"delay_after_batch,omitempty"`
	DelayAfterBatchMax string `json:"delay_after_batch_max,omitempty"`
	FireOnce           bool   `json:"fire_once,omitempty"`
	// OnAllConcluded is "log" (default) or "exit".
	OnAllConcluded string `json:"on_all_concluded,omitempty"`
	Autostart      *bool  `json:"autostart,omitempty"` // default true
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string      `json:"driver,omitempty"` // file (default) | sqlite | redis | none
	Path        string      `json:"path,omitempty"`   // default ./data
	AtomicWrite bool        `json:"atomic_write,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

// ProcessorConfig chooses how tasks are processed.
//
// kind "simulate" (default) sleeps a random time in [min_delay, max_delay]
// and succeeds with probability success_rate. kind "exec" runs command with
// the task JSON on stdin.
type ProcessorConfig struct {
	Kind        string   `json:"kind,omitempty"`
	MinDelay    string   `json:"min_delay,omitempty"`    // default 5s
	MaxDelay    string   `json:"max_delay,omitempty"`    // default 15s
	SuccessRate *float64 `json:"success_rate,omitempty"` // default 0.4
	Command     []string `json:"command,omitempty"`
	Dir         string   `json:"dir,omitempty"`
	Env         []string `json:"env,omitempty"`
}

type DashboardConfig struct {
	Enabled           *bool  `json:"enabled,omitempty"`            // default true
	Addr              string `json:"addr,omitempty"`               // default 127.0.0.1:9674
	BroadcastInterval string `json:"broadcast_interval,omitempty"` // default 1s
	AllowOrigin       string `json:"allow_origin,omitempty"`       // default *
	Pprof             bool   `json:"pprof,omitempty"`
}

type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	NotifyChatID int64   `json:"notify_chat_id,omitempty"`
	// NotifyFailures also reports individual task failures.
	NotifyFailures bool   `json:"notify_failures,omitempty"`
	PollTimeout    string `json:"poll_timeout,omitempty"` // default 10s
}

// JobsConfig schedules housekeeping. An empty schedule keeps the default;
// "off" disables the job.
type JobsConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	Checkpoint    string `json:"checkpoint,omitempty"`     // default @every 1m
	RestartErrors string `json:"restart_errors,omitempty"` // default off
}
