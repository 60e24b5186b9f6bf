package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "dealbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit (
	id             TEXT PRIMARY KEY,
	at             TEXT NOT NULL,
	actor_id       INTEGER NOT NULL,
	actor_username TEXT,
	chat_id        INTEGER NOT NULL,
	action         TEXT NOT NULL,
	target         TEXT,
	ok             INTEGER NOT NULL,
	err            TEXT,
	meta           TEXT
);
CREATE TABLE IF NOT EXISTS sends (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	at          TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	channel     TEXT NOT NULL,
	destination TEXT NOT NULL,
	product_id  TEXT NOT NULL,
	title       TEXT,
	price       REAL,
	link        TEXT,
	message_id  INTEGER
);
CREATE INDEX IF NOT EXISTS sends_channel_at ON sends(channel, at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, actor_id, actor_username, chat_id, action, target, ok, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) AppendSend(ctx context.Context, r SendRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sends(at, run_id, channel, destination, product_id, title, price, link, message_id)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.RunID, r.Channel, r.Destination, r.ProductID,
		r.Title, r.Price, r.Link, r.MessageID,
	)
	return err
}

func (s *sqliteStore) RecentSends(ctx context.Context, limit int) ([]SendRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = recentCap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, run_id, channel, destination, product_id, COALESCE(title,''), COALESCE(price,0), COALESCE(link,''), COALESCE(message_id,0)
		 FROM sends ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SendRecord
	for rows.Next() {
		var (
			r  SendRecord
			at string
		)
		if err := rows.Scan(&at, &r.RunID, &r.Channel, &r.Destination, &r.ProductID, &r.Title, &r.Price, &r.Link, &r.MessageID); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
