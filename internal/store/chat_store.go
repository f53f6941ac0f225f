package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/google/uuid"
)

// GuestConversationsKey holds conversations created before sign-in.
const GuestConversationsKey = "guest_chat-conversations"

// ErrConversationNotFound is returned when a conversation id is unknown to the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationsKey returns the KV key holding a user's conversation list.
func ConversationsKey(uid string) string {
	if uid == "" {
		return GuestConversationsKey
	}
	return "user_" + uid + "_chat-conversations"
}

// ClearGuestConversations drops conversations stored for the signed-out user.
func ClearGuestConversations(ctx context.Context, kv KV) error {
	if err := kv.Delete(ctx, GuestConversationsKey); err != nil {
		return fmt.Errorf("failed to clear guest conversations: %w", err)
	}
	slog.Debug("store.ClearGuestConversations: guest conversations cleared")
	return nil
}

// Owner identifies the user whose conversations a ChatStore holds.
type Owner struct {
	UID   string
	Email string
}

// AppendObserver is notified after a message was appended and persisted.
type AppendObserver func(conversationID string, msg models.Message)

// ChatStore keeps one user's ordered conversation list in memory and writes the whole
// list back to the KV after every mutation. Conversations are newest first; archived
// ones are moved to the end.
type ChatStore struct {
	mu        sync.Mutex
	kv        KV
	key       string
	owner     Owner
	convs     []models.Conversation
	activeID  string
	observers []AppendObserver
	now       func() time.Time
}

// OpenChatStore loads the owner's conversation list and selects the most recent one.
func OpenChatStore(ctx context.Context, kv KV, owner Owner) (*ChatStore, error) {
	s := &ChatStore{
		kv:    kv,
		key:   ConversationsKey(owner.UID),
		owner: owner,
		now:   time.Now,
	}
	raw, ok, err := kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.convs); err != nil {
			slog.Error("ChatStore.Open: stored conversations are corrupt, starting empty", "key", s.key, "error", err)
			s.convs = nil
		}
	}
	if len(s.convs) > 0 {
		s.activeID = s.convs[0].ID
	}
	slog.Debug("ChatStore.Open: loaded conversations", "key", s.key, "count", len(s.convs), "activeID", s.activeID)
	return s, nil
}

// OnAppend registers an observer for appended messages.
func (s *ChatStore) OnAppend(fn AppendObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Owner returns the user the store belongs to.
func (s *ChatStore) Owner() Owner {
	return s.owner
}

// CreateConversation prepends a placeholder-titled conversation and makes it active.
func (s *ChatStore) CreateConversation(ctx context.Context) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := models.Conversation{
		ID:        uuid.NewString(),
		Title:     models.DefaultConversationTitle,
		Messages:  []models.Message{},
		CreatedAt: s.now(),
		UserID:    s.owner.UID,
		UserEmail: s.owner.Email,
	}
	s.convs = append([]models.Conversation{conv}, s.convs...)
	prevActive := s.activeID
	s.activeID = conv.ID
	if err := s.persistLocked(ctx); err != nil {
		s.convs = s.convs[1:]
		s.activeID = prevActive
		return models.Conversation{}, err
	}
	slog.Info("ChatStore.CreateConversation: conversation created", "key", s.key, "conversationID", conv.ID)
	return cloneConversation(conv), nil
}

// AppendMessage appends msg to the conversation and stamps its LastUpdated time.
func (s *ChatStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		slog.Warn("ChatStore.AppendMessage: conversation not found", "conversationID", id)
		return ErrConversationNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	prev := s.convs[idx]
	conv := cloneConversation(prev)
	conv.Messages = append(conv.Messages, msg)
	conv.LastUpdated = msg.Timestamp
	s.convs[idx] = conv
	if err := s.persistLocked(ctx); err != nil {
		s.convs[idx] = prev
		s.mu.Unlock()
		return err
	}
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	slog.Debug("ChatStore.AppendMessage: message appended", "conversationID", id, "sender", msg.Sender, "messages", len(conv.Messages))
	for _, fn := range observers {
		fn(id, msg)
	}
	return nil
}

// ActiveConversation returns the selected conversation, if any.
func (s *ChatStore) ActiveConversation() (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(s.activeID)
	if idx < 0 {
		return models.Conversation{}, false
	}
	return cloneConversation(s.convs[idx]), true
}

// SetActive selects a conversation.
func (s *ChatStore) SetActive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return ErrConversationNotFound
	}
	s.activeID = id
	slog.Debug("ChatStore.SetActive: active conversation changed", "conversationID", id)
	return nil
}

// RenameIfDefaultTitle titles a placeholder-titled conversation after candidate.
// Conversations already carrying another title are left unchanged.
func (s *ChatStore) RenameIfDefaultTitle(ctx context.Context, id, candidate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrConversationNotFound
	}
	if !s.convs[idx].HasDefaultTitle() {
		return nil
	}
	title := models.AutoTitle(candidate)
	if title == "" {
		return nil
	}
	s.convs[idx].Title = title
	if err := s.persistLocked(ctx); err != nil {
		s.convs[idx].Title = models.DefaultConversationTitle
		return err
	}
	slog.Debug("ChatStore.RenameIfDefaultTitle: conversation titled", "conversationID", id, "title", title)
	return nil
}

// List returns all conversations in stored order.
func (s *ChatStore) List() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, cloneConversation(c))
	}
	return out
}

// Get returns a single conversation.
func (s *ChatStore) Get(id string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Conversation{}, ErrConversationNotFound
	}
	return cloneConversation(s.convs[idx]), nil
}

// Rename sets a user supplied title.
func (s *ChatStore) Rename(ctx context.Context, id, title string) error {
	title, err := models.ValidateTitle(title)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrConversationNotFound
	}
	prev := s.convs[idx].Title
	s.convs[idx].Title = title
	if err := s.persistLocked(ctx); err != nil {
		s.convs[idx].Title = prev
		return err
	}
	slog.Info("ChatStore.Rename: conversation renamed", "conversationID", id, "title", title)
	return nil
}

// Delete removes a conversation. Deleting the active conversation leaves none selected.
func (s *ChatStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrConversationNotFound
	}
	prevConvs, prevActive := s.convs, s.activeID
	s.convs = slices.Delete(slices.Clone(s.convs), idx, idx+1)
	if s.activeID == id {
		s.activeID = ""
	}
	if err := s.persistLocked(ctx); err != nil {
		s.convs, s.activeID = prevConvs, prevActive
		return err
	}
	slog.Info("ChatStore.Delete: conversation deleted", "conversationID", id)
	return nil
}

// Archive marks a conversation archived and moves it to the end of the list.
func (s *ChatStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrConversationNotFound
	}
	prevConvs, prevActive := s.convs, s.activeID
	conv := cloneConversation(s.convs[idx])
	at := s.now()
	conv.Archived = true
	conv.ArchivedAt = &at
	next := slices.Delete(slices.Clone(s.convs), idx, idx+1)
	s.convs = append(next, conv)
	if s.activeID == id {
		s.activeID = ""
	}
	if err := s.persistLocked(ctx); err != nil {
		s.convs, s.activeID = prevConvs, prevActive
		return err
	}
	slog.Info("ChatStore.Archive: conversation archived", "conversationID", id)
	return nil
}

// ShareText renders a conversation as a plain-text transcript.
func (s *ChatStore) ShareText(id string) (string, error) {
	conv, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return FormatShareText(conv), nil
}

// FormatShareText renders the transcript format used for sharing.
func FormatShareText(conv models.Conversation) string {
	var b strings.Builder
	b.WriteString("Chat Title: ")
	b.WriteString(conv.Title)
	b.WriteString("\n\nMessages:\n")
	for i, m := range conv.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(m.Sender))
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}

func (s *ChatStore) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.convs, func(c models.Conversation) bool { return c.ID == id })
}

func (s *ChatStore) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.convs)
	if err != nil {
		slog.Error("ChatStore.persist: marshal failed", "key", s.key, "error", err)
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		slog.Error("ChatStore.persist: write failed", "key", s.key, "error", err)
		return fmt.Errorf("failed to persist conversations: %w", err)
	}
	return nil
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.Messages = slices.Clone(c.Messages)
	if c.Messages == nil {
		c.Messages = []models.Message{}
	}
	if c.ArchivedAt != nil {
		at := *c.ArchivedAt
		c.ArchivedAt = &at
	}
	return c
}
