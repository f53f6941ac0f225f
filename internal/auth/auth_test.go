package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AlienChat/internal/store"
	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

func newTestAccounts() *Accounts {
	a := NewAccounts(store.NewInMemoryKV())
	a.cost = bcrypt.MinCost
	return a
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	a := newTestAccounts()

	u, err := a.SignUp(ctx, "  Alice@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEmpty(t, u.UID)

	got, err := a.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.UID, got.UID)

	_, err = a.SignIn(ctx, "alice@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.SignIn(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUpValidation(t *testing.T) {
	ctx := context.Background()
	a := newTestAccounts()

	_, err := a.SignUp(ctx, "not-an-email", "secret1")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = a.SignUp(ctx, "bob@example.com", "12345")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = a.SignUp(ctx, "bob@example.com", "123456")
	require.NoError(t, err)
	_, err = a.SignUp(ctx, "BOB@example.com", "abcdef")
	assert.ErrorIs(t, err, ErrEmailInUse)
}

func TestLinkExternal(t *testing.T) {
	ctx := context.Background()
	a := newTestAccounts()

	pw, err := a.SignUp(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)
	linked, err := a.LinkExternal(ctx, ProviderGoogle, "carol@example.com", "Carol")
	require.NoError(t, err)
	assert.Equal(t, pw.UID, linked.UID, "verified email links to the existing account")
	assert.Equal(t, "Carol", linked.Name)

	fresh, err := a.LinkExternal(ctx, ProviderGoogle, "dave@example.com", "Dave")
	require.NoError(t, err)
	again, err := a.LinkExternal(ctx, ProviderGoogle, "dave@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, fresh.UID, again.UID)

	_, err = a.SignIn(ctx, "dave@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "external accounts have no password")
}

func TestAdminCheck(t *testing.T) {
	admin := NewAdmin("Admin@Example.com", "s3cret")
	assert.True(t, admin.Configured())
	assert.True(t, admin.Check("admin@example.com", "s3cret"))
	assert.False(t, admin.Check("admin@example.com", "S3cret"))
	assert.False(t, admin.Check("other@example.com", "s3cret"))

	empty := NewAdmin("", "")
	assert.False(t, empty.Configured())
	assert.False(t, empty.Check("", ""))
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(store.NewInMemoryKV(), time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sess, err := s.Create(ctx, User{UID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)

	got, err := s.Lookup(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.User.UID)
	assert.False(t, got.Admin)

	now = now.Add(2 * time.Hour)
	_, err = s.Lookup(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired sessions are rejected")

	admin, err := s.CreateAdmin(ctx, "admin@example.com")
	require.NoError(t, err)
	got, err = s.Lookup(ctx, admin.Token)
	require.NoError(t, err)
	assert.True(t, got.Admin)

	require.NoError(t, s.Destroy(ctx, admin.Token))
	_, err = s.Lookup(ctx, admin.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	assert.Equal(t, "cookie-token", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(r), "Authorization header wins")
}

func TestGenerateTokenUnique(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

// MockKeySet satisfies oidc.KeySet to bypass signature verification.
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func fakeIDToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	headerBytes, err := json.Marshal(map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func TestGoogleIdentify(t *testing.T) {
	const clientID = "test-client"
	claims := map[string]interface{}{
		"iss":            GoogleIssuer,
		"aud":            clientID,
		"sub":            "google-user-1",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Add(-time.Minute).Unix(),
		"email":          "erin@example.com",
		"email_verified": true,
		"name":           "Erin",
	}
	idToken := fakeIDToken(t, claims)

	var gotCode string
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotCode = r.Form.Get("code")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	defer tokenSrv.Close()

	g := newGoogle(&oauth2.Config{
		ClientID:     clientID,
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenSrv.URL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, oidc.NewVerifier(GoogleIssuer, &MockKeySet{}, &oidc.Config{ClientID: clientID}))

	assert.Contains(t, g.AuthCodeURL("xyz"), "state=xyz")

	id, err := g.Identify(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "auth-code", gotCode)
	assert.Equal(t, "google-user-1", id.Subject)
	assert.Equal(t, "erin@example.com", id.Email)
	assert.Equal(t, "Erin", id.Name)
}

func TestGoogleRejectsUnverifiedEmail(t *testing.T) {
	const clientID = "test-client"
	raw := fakeIDToken(t, map[string]interface{}{
		"iss":            GoogleIssuer,
		"aud":            clientID,
		"sub":            "google-user-2",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"email":          "frank@example.com",
		"email_verified": false,
	})
	g := newGoogle(&oauth2.Config{ClientID: clientID}, oidc.NewVerifier(GoogleIssuer, &MockKeySet{}, &oidc.Config{ClientID: clientID}))
	_, err := g.verify(context.Background(), raw)
	assert.Error(t, err)
}

func TestNewGoogleRequiresConfig(t *testing.T) {
	_, err := NewGoogle(context.Background(), GoogleConfig{ClientID: "id"})
	assert.ErrorIs(t, err, ErrGoogleNotConfigured)
}
