package cache

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSlot keeps the blob in one row of a key/value table.
type SQLiteSlot struct {
	db  *sql.DB
	key string
	now func() time.Time
}

func OpenSQLiteSlot(path, key string) (*SQLiteSlot, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	if key == "" {
		key = DefaultKey
	}

	s := &SQLiteSlot{db: db, key: key, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSlot) Close() error { return s.db.Close() }

func (s *SQLiteSlot) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  key        TEXT PRIMARY KEY,
  value      BLOB NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	return err
}

func (s *SQLiteSlot) Get() ([]byte, bool, error) {
	var b []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, s.key).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *SQLiteSlot) Set(b []byte) error {
	_, err := s.db.Exec(`
INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, s.key, b, s.now().UnixMilli())
	return err
}
