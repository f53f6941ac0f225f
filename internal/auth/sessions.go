package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/AlienChat/internal/store"
)

// SessionCookieName carries the session token for browser clients.
const SessionCookieName = "alienchat_session"

// DefaultSessionTTL is used when no lifetime is configured.
const DefaultSessionTTL = 24 * time.Hour

// ErrSessionNotFound is returned for unknown or expired tokens.
var ErrSessionNotFound = errors.New("session not found")

// Session is a signed-in user or an admin gate pass.
type Session struct {
	Token     string    `json:"-"`
	User      User      `json:"user"`
	Admin     bool      `json:"admin,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sessions stores sessions in the KV under their token.
type Sessions struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

// NewSessions creates a session manager. A non-positive ttl selects DefaultSessionTTL.
func NewSessions(kv store.KV, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{kv: kv, ttl: ttl, now: time.Now}
}

// TTL returns the session lifetime.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

func sessionKey(token string) string {
	return "session_" + token
}

// Create starts a session for user.
func (s *Sessions) Create(ctx context.Context, user User) (Session, error) {
	return s.create(ctx, Session{User: user})
}

// CreateAdmin starts an admin gate session.
func (s *Sessions) CreateAdmin(ctx context.Context, email string) (Session, error) {
	return s.create(ctx, Session{User: User{Email: email}, Admin: true})
}

func (s *Sessions) create(ctx context.Context, sess Session) (Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}
	sess.Token = token
	sess.ExpiresAt = s.now().Add(s.ttl)
	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionKey(token), string(data)); err != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", err)
	}
	slog.Debug("Sessions.Create: session started", "uid", sess.User.UID, "admin", sess.Admin, "expiresAt", sess.ExpiresAt)
	return sess, nil
}

// Lookup returns the live session for token. Expired sessions are removed.
func (s *Sessions) Lookup(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	raw, ok, err := s.kv.Get(ctx, sessionKey(token))
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		slog.Error("Sessions.Lookup: corrupt session dropped", "error", err)
		_ = s.kv.Delete(ctx, sessionKey(token))
		return Session{}, ErrSessionNotFound
	}
	if !s.now().Before(sess.ExpiresAt) {
		slog.Debug("Sessions.Lookup: session expired", "uid", sess.User.UID)
		_ = s.kv.Delete(ctx, sessionKey(token))
		return Session{}, ErrSessionNotFound
	}
	sess.Token = token
	return sess, nil
}

// Destroy ends a session.
func (s *Sessions) Destroy(ctx context.Context, token string) error {
	if err := s.kv.Delete(ctx, sessionKey(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Debug("Sessions.Destroy: session ended")
	return nil
}

// TokenFromRequest reads a bearer token from the Authorization header or the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// GenerateToken returns 32 random bytes, URL-safe base64 encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
