package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "topicwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	retention  time.Duration
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
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

	st := &sqliteStore{db: db, log: log, retention: cfg.Retention, pruneEvery: 200}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	if err := st.pruneExpired(context.Background()); err != nil {
		log.Debug("sqlite prune failed", logx.Err(err))
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, d Delivery) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, source, source_id, destination, post_id, posts, status, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		d.At.UnixMilli(), d.Source, nullStr(d.SourceID), d.Destination, nullStr(d.PostID), d.Posts, d.Status, nullStr(d.Error),
	)
	s.maybePrune(ctx)
	return err
}

func (s *sqliteStore) AppendCycle(ctx context.Context, c Cycle) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if c.Started.IsZero() {
		c.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(started, took_ms, channels, notified, deduped, skipped, failed, err, outcomes)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		c.Started.UnixMilli(), c.TookMS, c.Channels, c.Notified, c.Deduped, c.Skipped, c.Failed, nullStr(c.Error), nullStr(c.OutcomesJSON),
	)
	s.maybePrune(ctx)
	return err
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, source, source_id, destination, post_id, posts, status, err
		 FROM deliveries ORDER BY at DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d                     Delivery
			at                    int64
			sourceID, postID, msg sql.NullString
		)
		if err := rows.Scan(&at, &d.Source, &sourceID, &d.Destination, &postID, &d.Posts, &d.Status, &msg); err != nil {
			return nil, err
		}
		d.At = time.UnixMilli(at)
		d.SourceID, d.PostID, d.Error = sourceID.String, postID.String, msg.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT started, took_ms, channels, notified, deduped, skipped, failed, err, outcomes
		 FROM cycles ORDER BY started DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var (
			c             Cycle
			started       int64
			msg, outcomes sql.NullString
		)
		if err := rows.Scan(&started, &c.TookMS, &c.Channels, &c.Notified, &c.Deduped, &c.Skipped, &c.Failed, &msg, &outcomes); err != nil {
			return nil, err
		}
		c.Started = time.UnixMilli(started)
		c.Error, c.OutcomesJSON = msg.String, outcomes.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) maybePrune(ctx context.Context) {
	if s.retention <= 0 || s.pruneEvery == 0 {
		return
	}
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	if err := s.pruneExpired(ctx); err != nil {
		s.log.Debug("sqlite prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil || s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE at < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started < ?`, cutoff)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
