package testutil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(t)
	if env.Server == nil || env.Handler == nil {
		t.Fatal("NewTestEnv returned an incomplete env")
	}
	rr := env.Do(t, http.MethodGet, "/health", "", nil)
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
}

func TestSignInProducesUsableToken(t *testing.T) {
	env := NewTestEnv(t)
	user, token := env.SignIn(t, "tester@example.com")
	if user.UID == "" || token == "" {
		t.Fatal("expected uid and token")
	}
	rr := env.Do(t, http.MethodGet, "/auth/me", token, nil)
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "me")
	AssertJSONResponse(t, rr, "ok")
}

func TestStubCompleter(t *testing.T) {
	c := &StubCompleter{Reply: "hi"}
	out, err := c.Complete(context.Background(), "p1")
	if err != nil || out != "hi" {
		t.Fatalf("unexpected result %q, %v", out, err)
	}
	c.Err = errors.New("boom")
	if _, err := c.Complete(context.Background(), "p2"); err == nil {
		t.Error("expected canned error")
	}
	if got := c.Prompts(); len(got) != 2 || got[1] != "p2" {
		t.Errorf("unexpected prompts %v", got)
	}
}

func TestStubCompleterBlocksUntilReleased(t *testing.T) {
	c := &StubCompleter{Reply: "late", Block: make(chan struct{})}
	done := make(chan string, 1)
	go func() {
		out, _ := c.Complete(context.Background(), "p")
		done <- out
	}()

	select {
	case out := <-done:
		t.Fatalf("Complete returned %q before release", out)
	case <-time.After(20 * time.Millisecond):
	}
	close(c.Block)
	if out := <-done; out != "late" {
		t.Errorf("expected 'late', got %q", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := &StubCompleter{Block: make(chan struct{})}
	if _, err := blocked.Complete(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"n":1}}`)
	resp := AssertJSONResponse(t, rr, "ok")
	if resp["result"] == nil {
		t.Error("expected result field")
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/messages", map[string]string{"text": "hi"})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", req.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != `{"text":"hi"}` {
		t.Errorf("unexpected body %s", body)
	}

	req = CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	if req.Header.Get("Content-Type") != "" {
		t.Error("bodiless requests should not set a content type")
	}
}
