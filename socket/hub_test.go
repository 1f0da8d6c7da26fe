package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/memo/repository"
	"github.com/iamyasumichi/only-one/internal/metrics"
)

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	// Set a deadline to avoid tests hanging forever.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	err = json.Unmarshal(p, &msg)
	require.NoError(t, err, "Failed to unmarshal WSMessage JSON")
	return msg
}

func decodeSnapshot(t *testing.T, msg WSMessage) []model.Memo {
	t.Helper()
	require.Equal(t, SnapshotType, msg.Type)
	memos, err := model.DecodeCollection(msg.Payload)
	require.NoError(t, err)
	return memos
}

// startHub runs hub behind a test server that takes the owner from ?user_id.
func startHub(t *testing.T, hub *Hub) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("user_id"))
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, wsURL, owner string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?user_id="+owner, nil)
	require.NoError(t, err, "failed to connect")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubIntegration(t *testing.T) {
	// 1. Setup Mock DB and Hub
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := repository.NewPostgresStore(db, "")

	m := metrics.New()
	hub := NewHub(store.List, time.Minute, m)
	wsURL := startHub(t, hub)

	// 2. The first client of a room triggers exactly one load.
	mock.ExpectQuery("SELECT id, title, items, created_at, updated_at FROM memos WHERE owner_id = \\$1").
		WithArgs("user1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "items", "created_at", "updated_at"}).
			AddRow("m1", "Groceries", []byte(`[{"id":"a","content":"milk","children":[],"collapsed":false}]`), int64(1), int64(2)))

	conn1 := dial(t, wsURL, "user1")
	initial := readMessage(t, conn1)
	assert.Equal(t, "user1", initial.OwnerID)
	memos := decodeSnapshot(t, initial)
	require.Len(t, memos, 1)
	assert.Equal(t, "Groceries", memos[0].Title)
	assert.Equal(t, "milk", memos[0].Items[0].Content)

	// 3. A published collection reaches the room.
	hub.Publish("user1", []model.Memo{{ID: "m1", Title: "Shopping", UpdatedAt: 3}})
	memos = decodeSnapshot(t, readMessage(t, conn1))
	require.Len(t, memos, 1)
	assert.Equal(t, "Shopping", memos[0].Title)

	// 4. A second client starts from the cached snapshot without another query.
	conn2 := dial(t, wsURL, "user1")
	memos = decodeSnapshot(t, readMessage(t, conn2))
	require.Len(t, memos, 1)
	assert.Equal(t, "Shopping", memos[0].Title)

	assert.Equal(t, 2, hub.Clients("user1"))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SocketConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SnapshotBroadcasts))

	// Ensure all mock expectations were met.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHubRoomsAreIsolated(t *testing.T) {
	store := repository.NewMemoryStore()
	_, err := store.Create(context.Background(), "alice", model.Memo{Title: "mine"})
	require.NoError(t, err)

	hub := NewHub(store.List, time.Minute, nil)
	wsURL := startHub(t, hub)

	alice := dial(t, wsURL, "alice")
	bob := dial(t, wsURL, "bob")
	assert.Len(t, decodeSnapshot(t, readMessage(t, alice)), 1)
	assert.Empty(t, decodeSnapshot(t, readMessage(t, bob)))

	hub.Publish("bob", []model.Memo{{ID: "b1", Title: "bob's"}})
	memos := decodeSnapshot(t, readMessage(t, bob))
	require.Len(t, memos, 1)
	assert.Equal(t, "b1", memos[0].ID)

	// alice sees nothing from bob's room.
	alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = alice.ReadMessage()
	assert.Error(t, err)
}

func TestHubLoadFailureSendsError(t *testing.T) {
	hub := NewHub(func(ctx context.Context, owner string) ([]model.Memo, error) {
		return nil, errors.New("db down")
	}, time.Minute, nil)
	wsURL := startHub(t, hub)

	conn := dial(t, wsURL, "user1")
	msg := readMessage(t, conn)
	assert.Equal(t, ErrorType, msg.Type)
	assert.Equal(t, "user1", msg.OwnerID)
}

func TestHubCleansUpEmptyRoom(t *testing.T) {
	m := metrics.New()
	hub := NewHub(repository.NewMemoryStore().List, time.Minute, m)
	wsURL := startHub(t, hub)

	conn := dial(t, wsURL, "user1")
	_ = readMessage(t, conn)
	require.Equal(t, 1, hub.Clients("user1"))

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients("user1") == 0 }, 2*time.Second, 10*time.Millisecond)
	_, cached := hub.snapshots.Get("user1")
	assert.False(t, cached, "empty rooms drop their snapshot")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SocketConnections))
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(repository.NewMemoryStore().List, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, "user1")
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = readMessage(t, conn)

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), "got %v", err)

	// Publishing after shutdown must not block.
	done := make(chan struct{})
	go func() {
		hub.Publish("user1", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after shutdown")
	}
}
