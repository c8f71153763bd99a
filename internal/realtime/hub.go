package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
)

// Watch is a topic and the binding applied to its events.
type Watch struct {
	Topic   Topic
	Binding Binding
}

// Message is what the hub writes to browsers.
type Message struct {
	Type  string        `json:"type"`
	Key   []string      `json:"key,omitempty"`
	Toast *models.Toast `json:"toast,omitempty"`
}

// Hub groups browser connections in one room per workspace. The first
// connection of a room opens the workspace's watches and the last one to leave
// closes them.
type Hub struct {
	sub     *Subscriber
	watches func(workspaceID string) []Watch
	log     logrus.FieldLogger

	mu     sync.RWMutex
	rooms  map[string]map[string]*Connection
	unsubs map[string][]func()
}

func NewHub(sub *Subscriber, watches func(workspaceID string) []Watch, log logrus.FieldLogger) *Hub {
	return &Hub{
		sub:     sub,
		watches: watches,
		log:     log.WithField("component", "hub"),
		rooms:   make(map[string]map[string]*Connection),
		unsubs:  make(map[string][]func()),
	}
}

// Attach forwards invalidations made through qc to the rooms they belong to.
// Keys carry the workspace as their second part.
func (h *Hub) Attach(qc *cache.QueryClient) {
	qc.OnInvalidate(func(k cache.Key) {
		parts := k.Parts()
		if len(parts) < 2 {
			return
		}
		h.broadcast(parts[1], Message{Type: "invalidate", Key: parts})
	})
}

// Forward implements notify.Forwarder.
func (h *Hub) Forward(t models.Toast) {
	msg := Message{Type: "toast", Toast: &t}
	if t.WorkspaceID != "" {
		h.broadcast(t.WorkspaceID, msg)
		return
	}
	h.mu.RLock()
	rooms := make([]string, 0, len(h.rooms))
	for ws := range h.rooms {
		rooms = append(rooms, ws)
	}
	h.mu.RUnlock()
	for _, ws := range rooms {
		h.broadcast(ws, msg)
	}
}

// Serve registers ws in its workspace room and blocks until the peer
// disconnects.
func (h *Hub) Serve(ctx context.Context, userID, workspaceID string, ws *websocket.Conn) error {
	conn := NewConnection(userID, workspaceID, ws)
	if err := h.join(ctx, conn); err != nil {
		conn.Close(websocket.CloseInternalServerErr, "subscribe failed")
		return err
	}
	conn.start()
	defer func() {
		h.leave(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		conn.wg.Wait()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.readLoop()
	}()

	select {
	case <-ctx.Done():
	case <-done:
	case <-conn.close:
	}
	conn.Close(websocket.CloseNormalClosure, "")
	<-done
	return nil
}

func (h *Hub) join(ctx context.Context, conn *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[conn.WorkspaceID]
	if room == nil {
		var unsubs []func()
		for _, w := range h.watches(conn.WorkspaceID) {
			unsub, err := h.sub.Subscribe(ctx, w.Topic, w.Binding)
			if err != nil {
				for _, u := range unsubs {
					u()
				}
				return err
			}
			unsubs = append(unsubs, unsub)
		}
		room = make(map[string]*Connection)
		h.rooms[conn.WorkspaceID] = room
		h.unsubs[conn.WorkspaceID] = unsubs
		h.log.WithField("workspace_id", conn.WorkspaceID).Info("workspace room opened")
	}
	room[conn.ID] = conn
	return nil
}

func (h *Hub) leave(conn *Connection) {
	h.mu.Lock()
	room := h.rooms[conn.WorkspaceID]
	delete(room, conn.ID)
	var unsubs []func()
	if len(room) == 0 {
		unsubs = h.unsubs[conn.WorkspaceID]
		delete(h.rooms, conn.WorkspaceID)
		delete(h.unsubs, conn.WorkspaceID)
	}
	h.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if unsubs != nil {
		h.log.WithField("workspace_id", conn.WorkspaceID).Info("workspace room closed")
	}
}

func (h *Hub) broadcast(workspaceID string, msg Message) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	room := h.rooms[workspaceID]
	conns := make([]*Connection, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// Rooms reports the number of open workspace rooms.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var conns []*Connection
	for _, room := range h.rooms {
		for _, c := range room {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
