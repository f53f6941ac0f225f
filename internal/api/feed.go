package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/gorilla/websocket"
)

const (
	feedEventMessage = "message"
	feedEventReady   = "ready"

	feedWriteTimeout = 10 * time.Second
)

// feedEvent is one frame pushed to a user's WebSocket connections.
type feedEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
}

// feed fans appended messages out to the signed-in user's WebSocket connections.
type feed struct {
	mu       sync.Mutex
	conns    map[string]map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func newFeed() *feed {
	return &feed{
		conns:    make(map[string]map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (f *feed) add(uid string, c *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns[uid] == nil {
		f.conns[uid] = make(map[*websocket.Conn]struct{})
	}
	f.conns[uid][c] = struct{}{}
}

func (f *feed) remove(uid string, c *websocket.Conn) {
	f.mu.Lock()
	if set, ok := f.conns[uid]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(f.conns, uid)
		}
	}
	f.mu.Unlock()
	_ = c.Close()
}

// publish writes ev to every connection of uid, dropping connections that fail.
func (f *feed) publish(uid string, ev feedEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("feed.publish: marshal failed", "error", err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns[uid] {
		_ = c.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			slog.Warn("feed.publish: write failed, dropping connection", "uid", uid, "error", err)
			delete(f.conns[uid], c)
			_ = c.Close()
		}
	}
}

// count returns the number of open connections for uid.
func (f *feed) count(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[uid])
}

func (f *feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for uid, set := range f.conns {
		for c := range set {
			_ = c.Close()
		}
		delete(f.conns, uid)
	}
}

// wsHandler upgrades the request and streams the user's appended messages until the client goes away.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	conn, err := s.feed.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.wsHandler: upgrade failed", "error", err)
		return
	}
	uid := sess.User.UID
	if err := conn.WriteJSON(feedEvent{Type: feedEventReady}); err != nil {
		slog.Warn("Server.wsHandler: ready frame failed", "uid", uid, "error", err)
		_ = conn.Close()
		return
	}
	s.feed.add(uid, conn)
	slog.Info("Server.wsHandler: feed connected", "uid", uid)

	// Incoming frames are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			slog.Debug("Server.wsHandler: feed disconnected", "uid", uid, "error", err)
			s.feed.remove(uid, conn)
			return
		}
	}
}
