package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gocache "github.com/patrickmn/go-cache"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/metrics"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

const (
	SnapshotType = "SNAPSHOT" // Full memo collection of one owner
	ErrorType    = "ERROR"    // The server could not load the collection
)

type WSMessage struct {
	Type    string          `json:"type"`
	OwnerID string          `json:"owner_id"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotLoader returns an owner's current collection.
type SnapshotLoader func(ctx context.Context, owner string) ([]model.Memo, error)

// Hub keeps one room per owner. Every client of a room receives each snapshot of that owner's memos.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client

	done      chan struct{}
	load      SnapshotLoader
	snapshots *gocache.Cache
	metrics   *metrics.Metrics
	mu        sync.Mutex
}

type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	OwnerID string
	Send    chan []byte
}

func NewHub(load SnapshotLoader, snapshotTTL time.Duration, m *metrics.Metrics) *Hub {
	if snapshotTTL <= 0 {
		snapshotTTL = 5 * time.Minute
	}
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		load:       load,
		snapshots:  gocache.New(snapshotTTL, 2*snapshotTTL),
		metrics:    m,
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.OwnerID] == nil {
				h.Rooms[client.OwnerID] = make(map[*Client]bool)
			}
			h.Rooms[client.OwnerID][client] = true
			h.mu.Unlock()
			h.metrics.RecordSocketConnect()

			// The new client starts from the latest snapshot.
			msg, err := h.snapshotMessage(ctx, client.OwnerID)
			if err != nil {
				logger.Sugar.Errorf("Failed to load memos for %s: %v", client.OwnerID, err)
				msg = WSMessage{Type: ErrorType, OwnerID: client.OwnerID, Payload: json.RawMessage(`"snapshot unavailable"`)}
			}
			payload, _ := json.Marshal(msg)
			select {
			case client.Send <- payload:
			default:
				h.drop(client)
			}

		case client := <-h.Unregister:
			h.drop(client)

		case msg := <-h.Broadcast:
			if msg.Type == SnapshotType {
				h.snapshots.SetDefault(msg.OwnerID, []byte(msg.Payload))
			}

			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			// Copy the room so the sends happen without the lock.
			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[msg.OwnerID]))
			for client := range h.Rooms[msg.OwnerID] {
				clientsToSend = append(clientsToSend, client)
			}
			h.mu.Unlock()

			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.OwnerID)
					h.drop(client)
				}
			}
			h.metrics.RecordBroadcast()
		}
	}
}

// Publish caches memos as the owner's latest snapshot and queues it for the owner's room.
func (h *Hub) Publish(owner string, memos []model.Memo) {
	payload, err := model.EncodeCollection(memos)
	if err != nil {
		logger.Sugar.Errorf("Failed to encode snapshot for %s: %v", owner, err)
		return
	}
	select {
	case h.Broadcast <- WSMessage{Type: SnapshotType, OwnerID: owner, Payload: payload}:
	case <-h.done:
	}
}

// Invalidate forgets the cached snapshot of owner.
func (h *Hub) Invalidate(owner string) {
	h.snapshots.Delete(owner)
}

// Clients reports how many sockets an owner has open.
func (h *Hub) Clients(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[owner])
}

func (h *Hub) snapshotMessage(ctx context.Context, owner string) (WSMessage, error) {
	if cached, ok := h.snapshots.Get(owner); ok {
		return WSMessage{Type: SnapshotType, OwnerID: owner, Payload: cached.([]byte)}, nil
	}

	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	memos, err := h.load(lctx, owner)
	if err != nil {
		return WSMessage{}, err
	}
	payload, err := model.EncodeCollection(memos)
	if err != nil {
		return WSMessage{}, err
	}
	h.snapshots.SetDefault(owner, payload)
	return WSMessage{Type: SnapshotType, OwnerID: owner, Payload: payload}, nil
}

// drop removes client from its room and closes its send channel. Dropping twice is a no-op.
func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.Rooms[client.OwnerID]
	if _, ok := room[client]; !ok {
		return
	}
	delete(room, client)
	close(client.Send)
	h.metrics.RecordSocketDisconnect()

	if len(room) == 0 {
		delete(h.Rooms, client.OwnerID)
		h.snapshots.Delete(client.OwnerID)
		logger.Sugar.Infof("Closed and cleaned up empty room: %s", client.OwnerID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for owner, room := range h.Rooms {
		for client := range room {
			close(client.Send)
			h.metrics.RecordSocketDisconnect()
		}
		delete(h.Rooms, owner)
	}
}
