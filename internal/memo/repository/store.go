package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/outline"
)

// ErrUnavailable is returned by stores that are switched off or cannot be reached.
var ErrUnavailable = errors.New("memo store unavailable")

// Store persists memos per owner. Updating a memo that does not exist is a no-op.
type Store interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, owner string) ([]model.Memo, error)
	Create(ctx context.Context, owner string, m model.Memo) (string, error)
	Update(ctx context.Context, owner, id string, p model.Patch) error
	Delete(ctx context.Context, owner, id string) error
}

// Watcher pushes a fresh snapshot of an owner's memos on attach and after every change.
type Watcher interface {
	Watch(owner string, onSnapshot func([]model.Memo), onError func(error)) (stop func())
}

// prepare fills in the fields a store assigns on insert.
func prepare(m model.Memo) model.Memo {
	m = model.Clone(m)
	m.ID = uuid.NewString()
	if m.Items == nil {
		m.Items = []outline.Item{}
	}
	m.Title = model.NormalizeTitle(m.Title)
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	m.Origin = model.OriginRemote
	return m
}
