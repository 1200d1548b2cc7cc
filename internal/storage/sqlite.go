package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "naps/pkg/logx"

	_ "modernc.org/sqlite"
)

const (
	sentTable    = "sent_assets"
	sentTableSQL = "CREATE TABLE sent_assets(id TEXT PRIMARY KEY)"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	log.Debug("opening database", logx.String("path", path))
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also serializes
	// Contains/Insert from the same process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// ensureSchema creates the sent table when it is missing. An existing table is
// reused as-is, even if it was created with a different definition.
func (s *sqliteStore) ensureSchema(ctx context.Context) error {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_schema WHERE type = 'table' AND name = ?`, sentTable,
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.log.Info("initialising table", logx.String("table", sentTable), logx.String("sql", sentTableSQL))
		if _, err := s.db.ExecContext(ctx, sentTableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", sentTable, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("inspect schema: %w", err)
	}
	if existing != sentTableSQL {
		s.log.Info("reusing existing table", logx.String("table", sentTable), logx.String("sql", existing))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Contains(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sent_assets WHERE id = ? LIMIT 1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert adds ids in one transaction. The NOT EXISTS guard keeps set
// semantics on legacy tables that were created without a key.
func (s *sqliteStore) Insert(ctx context.Context, ids ...string) (err error) {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sent_assets(id) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM sent_assets WHERE id = ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err = stmt.ExecContext(ctx, id, id); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("recorded sent assets", logx.Strings("ids", ids))
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sent_assets ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
