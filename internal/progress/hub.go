package progress

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/timepulse/jirasync/internal/entities"
)

const broadcastTimeout = 5 * time.Second

// Hub broadcasts run snapshots to connected websocket clients. It implements
// Emitter so the orchestrator can feed it directly.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

var _ Emitter = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
	}
}

// RunUpdated broadcasts the run's snapshot to every subscriber.
func (h *Hub) RunUpdated(run *entities.SyncRun) {
	snapshot := BuildSnapshot(run, time.Now())
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("[EVENTS] failed to marshal snapshot: %v", err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.removeClient(conn)
		}
	}
}

// Subscribe upgrades the request to a websocket and registers the client.
// Blocks until the client disconnects.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin is enforced upstream
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return nil
	}
	h.clients[conn] = true
	h.mu.Unlock()

	// Drain (and ignore) client messages; returning removes the client.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			h.removeClient(conn)
			return nil
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
