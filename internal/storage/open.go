package storage

import (
	"context"
	"fmt"
	"strings"

	"foxq/pkg/logx"
)

// Store holds the queue document and the audit trail.
type Store interface {
	// Load returns the current document. A fresh store returns "[]".
	Load(ctx context.Context) ([]byte, error)
	// Save overwrites the document.
	Save(ctx context.Context, doc []byte) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Driver() string
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
