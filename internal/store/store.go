package store

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

	"github.com/Isaries/RCSL-SQL-Client/internal/apperr"
)

// Store is the SQLite-backed persistence layer for run history, quick-access
// items, and saved connection profiles.
//
// Notes:
// - The database file lives beside the running program so the whole tool stays portable.
// - WAL is enabled so reads stay responsive while a write commits.
// - A single local caller is assumed; concurrent writers are not supported.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type HistoryEntry struct {
	ID              int64  `json:"id"`
	SQL             string `json:"sql"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

type QuickAccessItem struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	SQL             string `json:"sql"`
	SortOrder       int64  `json:"sort_order"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

type ConnectionProfile struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	APIURL          string `json:"api_url"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

// historyReadLimit caps ListHistory. Writes are not pruned; the log grows
// unboundedly and only reads are bounded.
const historyReadLimit = 50

// ListHistory returns up to 50 most recent entries, newest first.
func (s *Store) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, sql_query, created_at_unix_ms
FROM local_history
ORDER BY id DESC
LIMIT ?
`, historyReadLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0, historyReadLimit)
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.SQL, &e.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendHistory inserts a history entry unless it equals the most recently
// stored statement, in which case the append is ignored. It reports whether
// the entry was ignored as a sequential duplicate.
func (s *Store) AppendHistory(ctx context.Context, sqlText string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var last string
	err = tx.QueryRowContext(ctx, `
SELECT sql_query
FROM local_history
ORDER BY id DESC
LIMIT 1
`).Scan(&last)
	switch {
	case err == nil:
		if last == sqlText {
			return true, nil
		}
	case errors.Is(err, sql.ErrNoRows):
		// Empty log: nothing to dedup against.
	default:
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO local_history(sql_query, created_at_unix_ms) VALUES(?, ?)
`, sqlText, time.Now().UnixMilli()); err != nil {
		return false, err
	}
	return false, tx.Commit()
}

// DeleteHistory deletes by id. Deleting an absent id is a no-op, not an error.
func (s *Store) DeleteHistory(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM local_history WHERE id = ?`, id)
	return err
}

// ListQuickAccess returns all items in user order. created_at breaks ties for
// items sharing a sort_order, which can only happen before the first reorder.
func (s *Store) ListQuickAccess(ctx context.Context) ([]QuickAccessItem, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, sql_query, sort_order, created_at_unix_ms
FROM local_quick_access
ORDER BY sort_order ASC, created_at_unix_ms ASC, id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]QuickAccessItem, 0, 16)
	for rows.Next() {
		var it QuickAccessItem
		if err := rows.Scan(&it.ID, &it.Name, &it.SQL, &it.SortOrder, &it.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// AddQuickAccess inserts a new item at the end of the current order
// (max(sort_order)+1, or 0 for an empty table). A duplicate name fails with a
// conflict and leaves the table unchanged.
func (s *Store) AddQuickAccess(ctx context.Context, name string, sqlText string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(sort_order), -1) + 1 FROM local_quick_access
`).Scan(&next); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO local_quick_access(name, sql_query, sort_order, created_at_unix_ms)
VALUES(?, ?, ?, ?)
`, name, sqlText, next, time.Now().UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperr.Wrap(apperr.Conflict, "name already exists", err)
		}
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, tx.Commit()
}

// UpdateQuickAccess rewrites name and sql only; sort_order is untouched.
func (s *Store) UpdateQuickAccess(ctx context.Context, id int64, name string, sqlText string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.db.ExecContext(ctx, `
UPDATE local_quick_access SET name = ?, sql_query = ? WHERE id = ?
`, name, sqlText, id)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.Conflict, "name already exists", err)
		}
		return err
	}
	return nil
}

// ReorderQuickAccess assigns sort_order = position for each listed id, in one
// committed unit. Ids absent from the input keep their prior sort_order; the
// caller is expected to pass the full current set.
func (s *Store) ReorderQuickAccess(ctx context.Context, ids []int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for idx, id := range ids {
		if _, err := tx.ExecContext(ctx, `
UPDATE local_quick_access SET sort_order = ? WHERE id = ?
`, idx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteQuickAccess deletes by id. Absent ids are a no-op.
func (s *Store) DeleteQuickAccess(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM local_quick_access WHERE id = ?`, id)
	return err
}

// ListConnections returns all saved profiles, oldest first.
func (s *Store) ListConnections(ctx context.Context) ([]ConnectionProfile, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, api_url, username, password, created_at_unix_ms
FROM local_connections
ORDER BY created_at_unix_ms ASC, id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ConnectionProfile, 0, 8)
	for rows.Next() {
		var p ConnectionProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.APIURL, &p.Username, &p.Password, &p.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveConnection upserts a profile by name: a new name inserts, an existing
// name rewrites url/user/pass in place, keeping id and created_at.
func (s *Store) SaveConnection(ctx context.Context, name, apiURL, username, password string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO local_connections(name, api_url, username, password, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  api_url = excluded.api_url,
  username = excluded.username,
  password = excluded.password
`, name, apiURL, username, password, time.Now().UnixMilli())
	return err
}

// DeleteConnection deletes by id. Absent ids are a no-op.
func (s *Store) DeleteConnection(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM local_connections WHERE id = ?`, id)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

// migrateSchema is idempotent: table creation is a no-op when tables exist,
// and the sort_order column add is guarded so startup never fails on a
// database created by an older build.
func migrateSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS local_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  sql_query TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS local_quick_access (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL,
  sql_query TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS local_connections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL,
  api_url TEXT NOT NULL,
  username TEXT NOT NULL DEFAULT '',
  password TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	if has, err := columnExists(tx, "local_quick_access", "sort_order"); err != nil {
		return err
	} else if !has {
		if _, err := tx.Exec(`ALTER TABLE local_quick_access ADD COLUMN sort_order INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func columnExists(tx *sql.Tx, tableName string, colName string) (bool, error) {
	tableName = strings.TrimSpace(tableName)
	colName = strings.TrimSpace(colName)
	if tableName == "" || colName == "" {
		return false, errors.New("invalid table/column")
	}

	rows, err := tx.Query(`PRAGMA table_info(` + tableName + `)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notNull int
		var defaultValue sql.NullString
		var primaryKey int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &primaryKey); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), colName) {
			return true, nil
		}
	}
	return false, rows.Err()
}
