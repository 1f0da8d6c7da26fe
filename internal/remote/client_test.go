package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamyasumichi/only-one/internal/cache"
	"github.com/iamyasumichi/only-one/internal/memo/coordinator"
	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/memo/repository"
	"github.com/iamyasumichi/only-one/internal/memo/service"
	"github.com/iamyasumichi/only-one/middleware"
	"github.com/iamyasumichi/only-one/router"
	"github.com/iamyasumichi/only-one/socket"
)

type syncServer struct {
	url   string
	store *repository.MemoryStore
	close func()
}

func newSyncServer(t *testing.T) *syncServer {
	t.Helper()
	store := repository.NewMemoryStore()
	hub := socket.NewHub(store.List, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	svc := service.NewMemoService(store, hub, nil)
	auth := middleware.NewAuth("test-secret", time.Hour)
	srv := httptest.NewServer(router.Setup(svc, hub, auth, nil, "*"))

	s := &syncServer{url: srv.URL, store: store}
	var once sync.Once
	s.close = func() {
		once.Do(func() {
			cancel()
			srv.Close()
		})
	}
	t.Cleanup(s.close)
	return s
}

func signedIn(t *testing.T, s *syncServer) (*Client, string) {
	t.Helper()
	c, err := New(s.url, "")
	require.NoError(t, err)
	resp, err := c.SignInAnonymously(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, resp.Token, c.Token())
	return c, resp.UserID
}

type snapshotLog struct {
	mu     sync.Mutex
	latest []model.Memo
	count  int
	errs   []error
}

func (l *snapshotLog) onSnapshot(memos []model.Memo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latest = memos
	l.count++
}

func (l *snapshotLog) onError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *snapshotLog) titles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, m := range l.latest {
		out = append(out, m.Title)
	}
	return out
}

func (l *snapshotLog) errCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", "")
	assert.Error(t, err)
	_, err = New("://nope", "")
	assert.Error(t, err)
}

func TestRESTRoundTrip(t *testing.T) {
	s := newSyncServer(t)
	c, owner := signedIn(t, s)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	id, err := c.Create(ctx, owner, model.Memo{Title: "Groceries", CreatedAt: 3, UpdatedAt: 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, c.Update(ctx, owner, id, model.TitlePatch("Shopping")))
	memos, err := c.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, memos, 1)
	assert.Equal(t, "Shopping", memos[0].Title)
	assert.Equal(t, int64(3), memos[0].CreatedAt)

	stored, _ := s.store.List(ctx, owner)
	assert.Len(t, stored, 1, "writes land under the token's owner")

	require.NoError(t, c.Delete(ctx, owner, id))
	memos, err = c.List(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, memos)
}

func TestRequestsNeedToken(t *testing.T) {
	s := newSyncServer(t)
	c, err := New(s.url, "")
	require.NoError(t, err)

	_, err = c.Create(context.Background(), "u1", model.Memo{Title: "x"})
	assert.ErrorIs(t, err, ErrNoToken)

	c.SetToken("forged")
	_, err = c.Create(context.Background(), "u1", model.Memo{Title: "x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
}

func TestPingFailsWhenServerIsGone(t *testing.T) {
	s := newSyncServer(t)
	c, err := New(s.url, "")
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))

	s.store.SetFailure(errors.New("down"))
	assert.Error(t, c.Ping(context.Background()))

	s.close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestWatchStreamsSnapshots(t *testing.T) {
	s := newSyncServer(t)
	c, owner := signedIn(t, s)
	ctx := context.Background()

	log := &snapshotLog{}
	stop := c.Watch(owner, log.onSnapshot, log.onError)
	defer stop()

	// The initial snapshot arrives on connect.
	assert.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.count >= 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := c.Create(ctx, owner, model.Memo{Title: "live"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"live"}, log.titles())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, log.errCount())
}

func TestWatchReportsDialFailure(t *testing.T) {
	s := newSyncServer(t)
	c, err := New(s.url, "forged")
	require.NoError(t, err)

	log := &snapshotLog{}
	stop := c.Watch("u1", log.onSnapshot, log.onError)
	defer stop()

	assert.Eventually(t, func() bool { return log.errCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchReportsServerShutdown(t *testing.T) {
	s := newSyncServer(t)
	c, owner := signedIn(t, s)

	log := &snapshotLog{}
	stop := c.Watch(owner, log.onSnapshot, log.onError)
	defer stop()
	assert.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.count >= 1
	}, 2*time.Second, 10*time.Millisecond)

	s.close()
	assert.Eventually(t, func() bool { return log.errCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchStopIsQuiet(t *testing.T) {
	s := newSyncServer(t)
	c, owner := signedIn(t, s)

	log := &snapshotLog{}
	stop := c.Watch(owner, log.onSnapshot, log.onError)
	assert.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.count >= 1
	}, 2*time.Second, 10*time.Millisecond)

	stop()
	stop()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, log.errCount(), "stopping is not an error")
}

func TestCoordinatorOverSyncServer(t *testing.T) {
	s := newSyncServer(t)
	c, owner := signedIn(t, s)
	ctx := context.Background()

	co := coordinator.New(c, cache.New(cache.NewMemorySlot()))
	defer co.Close()
	require.True(t, co.Connect(ctx, owner))

	m := co.Create(ctx, "From the CLI")
	assert.False(t, m.IsLocal())
	assert.Eventually(t, func() bool {
		found, ok := co.Find(m.ID)
		return ok && found.Title == "From the CLI"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, coordinator.StateSynced, co.State())

	// Losing the server drops the coordinator to offline and new memos become local.
	s.close()
	assert.Eventually(t, func() bool { return co.State() == coordinator.StateOffline }, 2*time.Second, 10*time.Millisecond)
	local := co.Create(ctx, "offline")
	assert.True(t, local.IsLocal())
	_, ok := co.Find(local.ID)
	assert.True(t, ok)
}
