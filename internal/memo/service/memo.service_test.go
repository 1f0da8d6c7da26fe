package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/memo/repository"
	"github.com/iamyasumichi/only-one/internal/metrics"
)

type publishRecorder struct {
	mu        sync.Mutex
	owners    []string
	snapshots [][]model.Memo
}

func (p *publishRecorder) Publish(owner string, memos []model.Memo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners = append(p.owners, owner)
	p.snapshots = append(p.snapshots, memos)
}

func newService(t *testing.T) (*MemoService, *repository.MemoryStore, *publishRecorder) {
	t.Helper()
	store := repository.NewMemoryStore()
	pub := &publishRecorder{}
	s := NewMemoService(store, pub, metrics.New())
	s.now = func() time.Time { return time.UnixMilli(1000) }
	return s, store, pub
}

func TestCreateMemoStampsAndPublishes(t *testing.T) {
	s, _, pub := newService(t)
	ctx := context.Background()

	id, err := s.CreateMemo(ctx, "u1", model.CreateMemoRequest{Title: "  "})
	require.NoError(t, err)

	memos, err := s.GetMemos(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, memos, 1)
	assert.Equal(t, id, memos[0].ID)
	assert.Equal(t, model.DefaultTitle, memos[0].Title)
	assert.Equal(t, int64(1000), memos[0].CreatedAt)
	assert.Equal(t, int64(1000), memos[0].UpdatedAt)

	require.Len(t, pub.snapshots, 1)
	assert.Equal(t, "u1", pub.owners[0])
	assert.Len(t, pub.snapshots[0], 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.Metrics.MemoWrites.WithLabelValues("create", "ok")))
}

func TestCreateMemoKeepsClientTimestamps(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.CreateMemo(ctx, "u1", model.CreateMemoRequest{Title: "a", CreatedAt: 5})
	require.NoError(t, err)
	memos, _ := s.GetMemos(ctx, "u1")
	assert.Equal(t, int64(5), memos[0].CreatedAt)
	assert.Equal(t, int64(5), memos[0].UpdatedAt)
}

func TestUpdateMemo(t *testing.T) {
	s, _, pub := newService(t)
	ctx := context.Background()
	id, err := s.CreateMemo(ctx, "u1", model.CreateMemoRequest{Title: "a", CreatedAt: 5})
	require.NoError(t, err)

	require.NoError(t, s.UpdateMemo(ctx, "u1", id, model.TitlePatch("b")))
	memos, _ := s.GetMemos(ctx, "u1")
	assert.Equal(t, "b", memos[0].Title)
	assert.Equal(t, int64(1000), memos[0].UpdatedAt, "missing timestamps use the server clock")
	assert.Len(t, pub.snapshots, 2)

	assert.ErrorIs(t, s.UpdateMemo(ctx, "u1", "", model.TitlePatch("c")), ErrMissingID)
}

func TestDeleteMemo(t *testing.T) {
	s, _, pub := newService(t)
	ctx := context.Background()
	id, err := s.CreateMemo(ctx, "u1", model.CreateMemoRequest{Title: "a"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteMemo(ctx, "u1", id))
	memos, _ := s.GetMemos(ctx, "u1")
	assert.Empty(t, memos)
	require.Len(t, pub.snapshots, 2)
	assert.Empty(t, pub.snapshots[1])

	assert.ErrorIs(t, s.DeleteMemo(ctx, "u1", ""), ErrMissingID)
}

func TestFailedWritesAreCountedAndNotPublished(t *testing.T) {
	s, store, pub := newService(t)
	store.SetFailure(errors.New("down"))

	_, err := s.CreateMemo(context.Background(), "u1", model.CreateMemoRequest{Title: "a"})
	assert.Error(t, err)
	assert.Empty(t, pub.snapshots)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.Metrics.MemoWrites.WithLabelValues("create", "error")))
	assert.Error(t, s.Ping(context.Background()))
}
