// Package testutil provides common test utilities and helpers for AlienChat tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/AlienChat/internal/api"
	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/flow"
	"github.com/BTreeMap/AlienChat/internal/store"
)

// Admin gate credentials configured on test servers.
const (
	AdminEmail    = "admin@example.com"
	AdminPassword = "admin-pass"
)

// StubCompleter answers every prompt with a canned reply or error and records the prompts.
// When Block is set, Complete waits for it to be closed before answering.
type StubCompleter struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Block   chan struct{}
	prompts []string
}

// Complete records prompt and returns the canned reply.
func (c *StubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	block := c.Block
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Reply, c.Err
}

// Prompts returns the prompts received so far.
func (c *StubCompleter) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Env bundles a test API server with its in-memory dependencies.
type Env struct {
	KV        *store.InMemoryKV
	Registry  *flow.Registry
	Completer *StubCompleter
	Accounts  *auth.Accounts
	Sessions  *auth.Sessions
	Server    *api.Server
	Handler   http.Handler
}

// NewTestEnv creates a test API server with in-memory dependencies.
func NewTestEnv(t *testing.T) *Env {
	t.Helper()
	reg, err := flow.DefaultRegistry()
	if err != nil {
		t.Fatalf("failed to load flow registry: %v", err)
	}
	kv := store.NewInMemoryKV()
	completer := &StubCompleter{Reply: "stub reply"}
	accounts := auth.NewAccounts(kv)
	sessions := auth.NewSessions(kv, auth.DefaultSessionTTL)
	srv := api.NewServer(kv, reg, completer, accounts, auth.NewAdmin(AdminEmail, AdminPassword), sessions)
	return &Env{
		KV:        kv,
		Registry:  reg,
		Completer: completer,
		Accounts:  accounts,
		Sessions:  sessions,
		Server:    srv,
		Handler:   srv.Handler(),
	}
}

// NewTestServer creates a test API server with in-memory dependencies.
func NewTestServer(t *testing.T) *api.Server {
	t.Helper()
	return NewTestEnv(t).Server
}

// SignIn creates an account directly and returns a session token for it.
func (e *Env) SignIn(t *testing.T, email string) (auth.User, string) {
	t.Helper()
	ctx := context.Background()
	user, err := e.Accounts.SignUp(ctx, email, "password1")
	if err != nil {
		t.Fatalf("failed to create account %s: %v", email, err)
	}
	sess, err := e.Sessions.Create(ctx, user)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return user, sess.Token
}

// Do serves req against the env's handler, authenticated with token when non-empty.
func (e *Env) Do(t *testing.T, method, url, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := CreateHTTPRequest(t, method, url, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.Handler.ServeHTTP(rr, req)
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// DecodeResult decodes the result field of an API envelope into target.
func DecodeResult(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	var envelope struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	MustUnmarshalJSON(t, rr.Body.Bytes(), &envelope)
	MustUnmarshalJSON(t, envelope.Result, target)
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
