package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/flow"
	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/BTreeMap/AlienChat/internal/store"
)

// workspace is one signed-in user's conversation store and flow engine.
type workspace struct {
	store  *store.ChatStore
	engine *flow.Engine
}

// workspaces keeps one workspace per user id for the life of the server. Every session of
// a user shares it, so all writes to the user's conversation list go through one ChatStore.
type workspaces struct {
	mu         sync.Mutex
	byUID      map[string]*workspace
	kv         store.KV
	registry   *flow.Registry
	completer  flow.Completer
	feed       *feed
	engineOpts []flow.Option
}

func newWorkspaces(kv store.KV, registry *flow.Registry, completer flow.Completer, f *feed, engineOpts ...flow.Option) *workspaces {
	return &workspaces{
		byUID:      make(map[string]*workspace),
		kv:         kv,
		registry:   registry,
		completer:  completer,
		feed:       f,
		engineOpts: engineOpts,
	}
}

// get returns the user's workspace, opening it on first use.
func (ws *workspaces) get(ctx context.Context, user auth.User) (*workspace, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if w, ok := ws.byUID[user.UID]; ok {
		return w, nil
	}

	cs, err := store.OpenChatStore(ctx, ws.kv, store.Owner{UID: user.UID, Email: user.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to open conversations: %w", err)
	}
	uid := user.UID
	cs.OnAppend(func(conversationID string, msg models.Message) {
		ws.feed.publish(uid, feedEvent{Type: feedEventMessage, ConversationID: conversationID, Message: &msg})
	})
	w := &workspace{
		store:  cs,
		engine: flow.NewEngine(ws.registry, cs, ws.completer, ws.engineOpts...),
	}
	ws.byUID[uid] = w
	slog.Debug("workspaces.get: workspace opened", "uid", uid, "conversations", len(cs.List()))
	return w, nil
}

// signOut abandons the user's flow in progress. The workspace stays cached: a reply still
// in flight appends through the same store that later sessions of the user will use.
func (ws *workspaces) signOut(uid string) {
	ws.mu.Lock()
	w, ok := ws.byUID[uid]
	ws.mu.Unlock()
	if ok {
		w.engine.Reset()
		slog.Debug("workspaces.signOut: flow state cleared", "uid", uid, "loading", w.engine.Loading())
	}
}
