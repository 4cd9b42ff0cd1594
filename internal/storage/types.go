package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// emptyDocument is what a fresh store holds: an empty task list.
var emptyDocument = []byte("[]")

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "redis", "none".
type Config struct {
	Driver string
	// Path is the data directory for file and sqlite.
	Path string
	// AtomicWrite makes the file driver write via temp file + rename.
	AtomicWrite bool
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// AuditEntry records an operator action against the queue.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Actor  string    `json:"actor,omitempty"`
	Action string    `json:"action"`
	Count  int       `json:"count,omitempty"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms,omitempty"`
}
