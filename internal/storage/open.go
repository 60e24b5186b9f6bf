package storage

import (
	"context"
	"errors"
	"strings"

	logx "dealbot/pkg/logx"
)

// Store is the persistence API used by the control panel and the cycle.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	AppendSend(ctx context.Context, r SendRecord) error
	// RecentSends returns up to limit records, newest first.
	RecentSends(ctx context.Context, limit int) ([]SendRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
