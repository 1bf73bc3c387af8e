package storage

import (
	"context"
	"errors"
	"strings"

	logx "wprecur/pkg/logx"
)

// Journal is the persistence API used by the runner and the history command.
type Journal interface {
	AppendRun(ctx context.Context, r RunRecord) error
	AppendClone(ctx context.Context, c CloneRecord) error
	// RecentRuns returns up to limit runs, newest first, with their clones.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured journal.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("component", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
