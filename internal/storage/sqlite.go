package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "wprecur/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db       *sql.DB
	log      logx.Logger
	keepRuns int
}

func openSQLite(cfg Config, log logx.Logger) (Journal, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keepRuns: cfg.KeepRuns}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, started, took_ms, today, dry_run, templates, clones, updates, failures, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Started.UTC().Format(time.RFC3339Nano), r.TookMS, r.Today, r.DryRun,
		r.Templates, r.Clones, r.Updates, r.Failures, nullStr(r.Error),
	)
	if err != nil {
		return err
	}
	if s.keepRuns > 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Debug("journal prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) AppendClone(ctx context.Context, c CloneRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clones(run_id, at, template_id, work_package_id, project_id, project, subject, due, policy)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		c.RunID, c.At.UTC().Format(time.RFC3339Nano), c.TemplateID, c.WorkPackageID, c.ProjectID,
		nullStr(c.Project), nullStr(c.Subject), nullStr(c.Due), nullStr(c.Policy),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started, took_ms, today, dry_run, templates, clones, updates, failures, COALESCE(err, '')
		 FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	idx := map[string]int{}
	for rows.Next() {
		var r RunRecord
		var started string
		if err := rows.Scan(&r.ID, &started, &r.TookMS, &r.Today, &r.DryRun, &r.Templates, &r.Clones, &r.Updates, &r.Failures, &r.Error); err != nil {
			return nil, err
		}
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		idx[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	args := make([]any, 0, len(out))
	for _, r := range out {
		ids = append(ids, "?")
		args = append(args, r.ID)
	}
	crows, err := s.db.QueryContext(ctx,
		`SELECT run_id, at, template_id, work_package_id, project_id,
		        COALESCE(project, ''), COALESCE(subject, ''), COALESCE(due, ''), COALESCE(policy, '')
		 FROM clones WHERE run_id IN (`+strings.Join(ids, ",")+`) ORDER BY at`, args...)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var c CloneRecord
		var at string
		if err := crows.Scan(&c.RunID, &at, &c.TemplateID, &c.WorkPackageID, &c.ProjectID, &c.Project, &c.Subject, &c.Due, &c.Policy); err != nil {
			return nil, err
		}
		c.At, _ = time.Parse(time.RFC3339Nano, at)
		if i, ok := idx[c.RunID]; ok {
			out[i].Created = append(out[i].Created, c)
		}
	}
	return out, crows.Err()
}

// prune drops runs (and their clones) beyond the newest keepRuns.
func (s *sqliteStore) prune(ctx context.Context) error {
	const cutoff = `SELECT id FROM runs ORDER BY started DESC LIMIT -1 OFFSET ?`
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clones WHERE run_id IN (`+cutoff+`)`, s.keepRuns); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+cutoff+`)`, s.keepRuns)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
