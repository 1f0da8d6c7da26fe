package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamyasumichi/only-one/internal/cache"
	"github.com/iamyasumichi/only-one/internal/memo/coordinator"
	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/outline"
)

type write struct {
	id    string
	patch model.Patch
}

type fakeMemos struct {
	mu      sync.Mutex
	writes  []write
	deletes []string
}

func (f *fakeMemos) Update(ctx context.Context, id string, p model.Patch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{id: id, patch: p})
}

func (f *fakeMemos) Delete(ctx context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
}

func (f *fakeMemos) snapshot() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]write(nil), f.writes...)
}

func sequentialIDs() outline.Option {
	n := 0
	return outline.WithIDGenerator(func() string {
		n++
		return "n" + string(rune('0'+n))
	})
}

func TestOpenLoadsItemsWithoutWriting(t *testing.T) {
	memos := &fakeMemos{}
	engine := outline.New()
	m := model.Memo{ID: "m1", Items: []outline.Item{{ID: "a", Content: "milk"}}}

	s := Open(context.Background(), memos, engine, m)
	defer s.Close()

	assert.Equal(t, "m1", s.ID())
	assert.Same(t, engine, s.Engine())
	require.Len(t, engine.Items(), 1)
	assert.Equal(t, "milk", engine.Items()[0].Content)
	assert.Empty(t, memos.snapshot(), "loading is not an edit")
}

func TestEngineChangesBecomeItemPatches(t *testing.T) {
	memos := &fakeMemos{}
	engine := outline.New(sequentialIDs())
	s := Open(context.Background(), memos, engine, model.Memo{ID: "m1", Items: []outline.Item{}})
	defer s.Close()

	id, ok := engine.AddItem()
	require.True(t, ok)
	require.True(t, engine.UpdateContent(id, "eggs"))

	writes := memos.snapshot()
	require.Len(t, writes, 2)
	for _, w := range writes {
		assert.Equal(t, "m1", w.id)
		assert.Nil(t, w.patch.Title)
		require.NotNil(t, w.patch.Items)
	}
	last := *writes[1].patch.Items
	require.Len(t, last, 1)
	assert.Equal(t, "eggs", last[0].Content)
}

func TestSetTitleIsDebounced(t *testing.T) {
	memos := &fakeMemos{}
	s := Open(context.Background(), memos, outline.New(), model.Memo{ID: "m1"}, WithTitleDelay(30*time.Millisecond))
	defer s.Close()

	s.SetTitle("G")
	s.SetTitle("Gr")
	s.SetTitle("Groceries")
	assert.Empty(t, memos.snapshot())

	assert.Eventually(t, func() bool { return len(memos.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	writes := memos.snapshot()
	require.Len(t, writes, 1, "one write for a burst of edits")
	require.NotNil(t, writes[0].patch.Title)
	assert.Equal(t, "Groceries", *writes[0].patch.Title)
	assert.Nil(t, writes[0].patch.Items)
}

func TestFlushAndCloseWritePendingTitle(t *testing.T) {
	memos := &fakeMemos{}
	s := Open(context.Background(), memos, outline.New(), model.Memo{ID: "m1"}, WithTitleDelay(time.Hour))

	s.SetTitle("now")
	s.Flush()
	require.Len(t, memos.snapshot(), 1)
	s.Flush()
	assert.Len(t, memos.snapshot(), 1, "nothing pending")

	s.SetTitle("on close")
	s.Close()
	writes := memos.snapshot()
	require.Len(t, writes, 2)
	assert.Equal(t, "on close", *writes[1].patch.Title)

	s.SetTitle("after close")
	s.Flush()
	assert.Len(t, memos.snapshot(), 2)
}

func TestCloseDetachesFromEngine(t *testing.T) {
	memos := &fakeMemos{}
	engine := outline.New()
	s := Open(context.Background(), memos, engine, model.Memo{ID: "m1"})
	s.Close()
	s.Close()

	_, ok := engine.AddItem()
	require.True(t, ok)
	assert.Empty(t, memos.snapshot())
}

func TestDeleteDropsPendingTitle(t *testing.T) {
	memos := &fakeMemos{}
	s := Open(context.Background(), memos, outline.New(), model.Memo{ID: "m1"}, WithTitleDelay(time.Hour))

	s.SetTitle("never written")
	s.Delete(context.Background())

	assert.Empty(t, memos.snapshot())
	assert.Equal(t, []string{"m1"}, memos.deletes)
}

func TestSessionOverOfflineCoordinator(t *testing.T) {
	ctx := context.Background()
	co := coordinator.New(nil, cache.New(cache.NewMemorySlot()))
	defer co.Close()

	m := co.Create(ctx, "Trip")
	engine := outline.New()
	s := Open(ctx, co, engine, m, WithTitleDelay(time.Hour))

	id, ok := engine.AddItem()
	require.True(t, ok)
	engine.UpdateContent(id, "passport")
	s.SetTitle("Trip to Kyoto")
	s.Close()

	got, ok := co.Find(m.ID)
	require.True(t, ok)
	assert.Equal(t, "Trip to Kyoto", got.Title)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "passport", got.Items[0].Content)
}
