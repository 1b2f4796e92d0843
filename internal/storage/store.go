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
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "peillute/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite ledger. All mutations are serialized through a
// single connection plus s.mu, which also keeps the logical clock and the
// balance checks race-free.
type Store struct {
	db   *sql.DB
	log  logx.Logger
	node string
	path string

	mu  sync.Mutex
	seq int64 // last issued logical clock value
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	node := strings.TrimSpace(cfg.Node)
	if node == "" {
		node = "local"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, log: log, node: node, path: cfg.Path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadClock(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug("ledger opened", logx.String("path", cfg.Path), logx.String("node", node), logx.Int64("seq", s.seq))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// loadClock resumes the logical clock from the highest seq this node has
// already issued.
func (s *Store) loadClock(ctx context.Context) error {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM transactions WHERE node = ?`, s.node).Scan(&seq)
	if err != nil {
		return err
	}
	if seq.Valid {
		s.seq = seq.Int64
	}
	return nil
}

// nextSeq issues the next logical clock value. Call with s.mu held.
func (s *Store) nextSeqLocked() int64 {
	s.seq++
	return s.seq
}

func (s *Store) Node() string { return s.node }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PruneBefore deletes transactions older than cutoff and reports how many
// rows went away. Used by the maintenance job. Timestamps are stored as
// UTC RFC3339Nano, so the string comparison is time-ordered.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE created_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func strOrEmpty(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
