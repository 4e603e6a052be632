// Package events provides the real-time WebSocket fanout for project
// graphs.
//
// Clients subscribe to one project; every mutation to that project's
// graph (direct edits, merges, deletions) is broadcast to the project's
// subscribers so open views stay current.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Type labels a broadcast message.
type Type string

const (
	// TypeTaskUpdate indicates a task was created, updated, or deleted.
	TypeTaskUpdate Type = "task_update"

	// TypeDepUpdate indicates a dependency was added or removed.
	TypeDepUpdate Type = "dep_update"

	// TypePlanMerged indicates a synthesis delta was merged into the
	// project graph.
	TypePlanMerged Type = "plan_merged"

	// TypeProjectDeleted indicates the whole project is gone.
	TypeProjectDeleted Type = "project_deleted"
)

// Message is one broadcast payload.
type Message struct {
	Type      Type            `json:"type"`
	ProjectID int64           `json:"project_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Hub manages per-project WebSocket subscriber rooms.
type Hub struct {
	logger *zap.Logger

	roomsMu sync.RWMutex
	rooms   map[int64]map[*websocket.Conn]bool

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:    logger,
		rooms:     make(map[int64]map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.wg.Add(1)
	go h.broadcastLoop()

	return h
}

// Broadcast queues a message for every subscriber of its project.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("broadcast channel full, dropping message",
			zap.String("type", string(msg.Type)),
			zap.Int64("project_id", msg.ProjectID))
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("failed to marshal broadcast", zap.Error(err))
				continue
			}

			h.roomsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.rooms[msg.ProjectID]))
			for conn := range h.rooms[msg.ProjectID] {
				conns = append(conns, conn)
			}
			h.roomsMu.RUnlock()

			// Write outside the lock so a slow client can't stall
			// subscription churn.
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.remove(msg.ProjectID, conn)
				}
			}
		}
	}
}

// HandleWS upgrades the request and subscribes the connection to one
// project's room until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, projectID int64) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.roomsMu.Lock()
	room, ok := h.rooms[projectID]
	if !ok {
		room = make(map[*websocket.Conn]bool)
		h.rooms[projectID] = room
	}
	room[conn] = true
	count := len(room)
	h.roomsMu.Unlock()

	h.logger.Debug("client subscribed",
		zap.Int64("project_id", projectID),
		zap.Int("subscribers", count))

	go h.readLoop(projectID, conn)
}

// readLoop drains client frames so pings are answered; inbound data is
// otherwise ignored.
func (h *Hub) readLoop(projectID int64, conn *websocket.Conn) {
	defer h.remove(projectID, conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) remove(projectID int64, conn *websocket.Conn) {
	h.roomsMu.Lock()
	room := h.rooms[projectID]
	if !room[conn] {
		h.roomsMu.Unlock()
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(h.rooms, projectID)
	}
	h.roomsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// CloseProject disconnects every subscriber of a deleted project.
func (h *Hub) CloseProject(projectID int64) {
	h.roomsMu.Lock()
	room := h.rooms[projectID]
	delete(h.rooms, projectID)
	h.roomsMu.Unlock()

	for conn := range room {
		_ = conn.Close(websocket.StatusGoingAway, "project deleted")
	}
}

// SubscriberCount returns the number of connections watching a project.
func (h *Hub) SubscriberCount(projectID int64) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[projectID])
}

// Close disconnects all clients and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()

	h.roomsMu.Lock()
	for projectID, room := range h.rooms {
		for conn := range room {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.rooms, projectID)
	}
	h.roomsMu.Unlock()

	h.wg.Wait()
}
