package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/outline"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

// ChangeChannel is the NOTIFY channel; the payload is the owner id whose memos changed.
const ChangeChannel = "memo_changes"

const schema = `
CREATE TABLE IF NOT EXISTS memos (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	items      JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS memos_owner_updated_idx ON memos (owner_id, updated_at DESC);
`

type PostgresStore struct {
	DB  *sql.DB
	dsn string
}

// NewPostgresStore wraps db. dsn is only used by Watch, which needs its own LISTEN connection.
func NewPostgresStore(db *sql.DB, dsn string) *PostgresStore {
	return &PostgresStore{DB: db, dsn: dsn}
}

func (r *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schema); err != nil {
		logger.Sugar.Errorf("Failed to migrate memos schema: %v", err)
		return err
	}
	return nil
}

func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func (r *PostgresStore) List(ctx context.Context, owner string) ([]model.Memo, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, title, items, created_at, updated_at FROM memos WHERE owner_id = $1 ORDER BY updated_at DESC, id ASC`, owner)
	if err != nil {
		logger.Sugar.Errorf("Failed to list memos for %s: %v", owner, err)
		return nil, err
	}
	defer rows.Close()

	memos := []model.Memo{}
	for rows.Next() {
		var m model.Memo
		var items []byte
		if err := rows.Scan(&m.ID, &m.Title, &items, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &m.Items); err != nil {
			logger.Sugar.Warnf("Memo %s has unreadable items, treating as empty: %v", m.ID, err)
			m.Items = nil
		}
		if m.Items == nil {
			m.Items = []outline.Item{}
		}
		m.Origin = model.OriginRemote
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

func (r *PostgresStore) Create(ctx context.Context, owner string, m model.Memo) (string, error) {
	m = prepare(m)
	items, err := json.Marshal(m.Items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO memos (id, owner_id, title, items, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, owner, m.Title, string(items), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create memo for %s: %v", owner, err)
		return "", err
	}
	r.notify(ctx, owner)
	return m.ID, nil
}

func (r *PostgresStore) Update(ctx context.Context, owner, id string, p model.Patch) error {
	var title sql.NullString
	if p.Title != nil {
		title = sql.NullString{String: *p.Title, Valid: true}
	}
	var items sql.NullString
	if p.Items != nil {
		b, err := json.Marshal(*p.Items)
		if err != nil {
			return fmt.Errorf("encode items: %w", err)
		}
		items = sql.NullString{String: string(b), Valid: true}
	}
	var updatedAt sql.NullInt64
	if p.UpdatedAt != 0 {
		updatedAt = sql.NullInt64{Int64: p.UpdatedAt, Valid: true}
	}

	result, err := r.DB.ExecContext(ctx, `UPDATE memos SET
		title = COALESCE($1, title),
		items = COALESCE($2::jsonb, items),
		updated_at = COALESCE($3, updated_at)
		WHERE id = $4 AND owner_id = $5`,
		title, items, updatedAt, id, owner)
	if err != nil {
		logger.Sugar.Errorf("Failed to update memo %s: %v", id, err)
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil
	}
	r.notify(ctx, owner)
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, owner, id string) error {
	result, err := r.DB.ExecContext(ctx, "DELETE FROM memos WHERE id = $1 AND owner_id = $2", id, owner)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete memo %s: %v", id, err)
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil
	}
	r.notify(ctx, owner)
	return nil
}

func (r *PostgresStore) notify(ctx context.Context, owner string) {
	if _, err := r.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", ChangeChannel, owner); err != nil {
		logger.Sugar.Warnf("Failed to notify change for %s: %v", owner, err)
	}
}

// Watch listens on ChangeChannel and reloads the owner's memos on every matching notification
// and after every reconnect.
func (r *PostgresStore) Watch(owner string, onSnapshot func([]model.Memo), onError func(error)) func() {
	listener := pq.NewListener(r.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Sugar.Warnf("Memo listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(ChangeChannel); err != nil {
		_ = listener.Close()
		if onError != nil {
			onError(err)
		}
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go r.watchLoop(ctx, listener, owner, onSnapshot, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = listener.Close()
		})
	}
}

func (r *PostgresStore) watchLoop(ctx context.Context, listener *pq.Listener, owner string, onSnapshot func([]model.Memo), onError func(error)) {
	reload := func() {
		memos, err := r.List(ctx, owner)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onSnapshot != nil {
			onSnapshot(memos)
		}
	}

	reload()
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect: notifications may have been missed.
			if n == nil || n.Extra == owner {
				reload()
			}
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				logger.Sugar.Warnf("Memo listener ping failed: %v", err)
			}
		}
	}
}
