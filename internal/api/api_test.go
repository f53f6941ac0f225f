package api_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/flow"
	"github.com/BTreeMap/AlienChat/internal/models"
	"github.com/BTreeMap/AlienChat/internal/sidebar"
	"github.com/BTreeMap/AlienChat/internal/store"
	"github.com/BTreeMap/AlienChat/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := testutil.NewTestEnv(t)
	rr := env.Do(t, http.MethodGet, "/health", "", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
}

func TestConversationRoutesRequireSession(t *testing.T) {
	env := testutil.NewTestEnv(t)
	for _, path := range []string{"/conversations", "/state", "/auth/me", "/preferences/theme"} {
		rr := env.Do(t, http.MethodGet, path, "", nil)
		testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr := env.Do(t, http.MethodGet, "/conversations", "bogus-token", nil)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "bogus token")
}

func TestSignupRequiresAdminGate(t *testing.T) {
	env := testutil.NewTestEnv(t)
	creds := map[string]string{"email": "new@example.com", "password": "secret1"}

	rr := env.Do(t, http.MethodPost, "/auth/signup", "", creds)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "signup without admin pass")

	rr = env.Do(t, http.MethodPost, "/auth/admin/login", "", map[string]string{"email": testutil.AdminEmail, "password": "wrong"})
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "bad admin password")

	rr = env.Do(t, http.MethodPost, "/auth/admin/login", "", map[string]string{"email": testutil.AdminEmail, "password": testutil.AdminPassword})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "admin login")
	var pass struct {
		Token string `json:"token"`
	}
	testutil.DecodeResult(t, rr, &pass)
	require.NotEmpty(t, pass.Token)

	rr = env.Do(t, http.MethodPost, "/auth/signup", pass.Token, map[string]string{"email": "new@example.com", "password": "123"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "weak password")

	rr = env.Do(t, http.MethodPost, "/auth/signup", pass.Token, creds)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "signup")
	var sess struct {
		User  auth.User `json:"user"`
		Token string    `json:"token"`
	}
	testutil.DecodeResult(t, rr, &sess)
	assert.Equal(t, "new@example.com", sess.User.Email)

	rr = env.Do(t, http.MethodPost, "/auth/signup", pass.Token, creds)
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "duplicate signup")

	rr = env.Do(t, http.MethodGet, "/conversations", pass.Token, nil)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "admin pass is not a user session")
}

func TestLoginLogout(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.SignIn(t, "login@example.com")

	// Guest conversations belong to terminal clients; an HTTP sign-in leaves them alone.
	require.NoError(t, env.KV.Set(t.Context(), store.GuestConversationsKey, "[]"))

	rr := env.Do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "login@example.com", "password": "nope"})
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "bad password")

	rr = env.Do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "login@example.com", "password": "password1"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "login")
	var sess struct {
		Token string `json:"token"`
	}
	testutil.DecodeResult(t, rr, &sess)
	require.NotEmpty(t, sess.Token)
	assert.Contains(t, rr.Header().Get("Set-Cookie"), auth.SessionCookieName+"=")

	guest, ok, err := env.KV.Get(t.Context(), store.GuestConversationsKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", guest)

	rr = env.Do(t, http.MethodGet, "/auth/me", sess.Token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "me")

	rr = env.Do(t, http.MethodPost, "/auth/logout", sess.Token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "logout")

	rr = env.Do(t, http.MethodGet, "/auth/me", sess.Token, nil)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "me after logout")
}

func TestSessionCookieAuthenticates(t *testing.T) {
	env := testutil.NewTestEnv(t)
	_, token := env.SignIn(t, "cookie@example.com")

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token})
	rr := httptest.NewRecorder()
	env.Handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "cookie session")
}

func TestFlowOverHTTP(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.Completer.Reply = "## Meta plan"
	_, token := env.SignIn(t, "flow@example.com")

	rr := env.Do(t, http.MethodGet, "/flows", "", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list flows")
	var flows []struct {
		ID        models.FlowType `json:"id"`
		Questions int             `json:"questions"`
	}
	testutil.DecodeResult(t, rr, &flows)
	require.Len(t, flows, 4)

	rr = env.Do(t, http.MethodPost, "/flows/unknown_flow", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown flow")

	rr = env.Do(t, http.MethodPost, "/flows/meta_ads_creative", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "start flow")
	var conv models.Conversation
	testutil.DecodeResult(t, rr, &conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "What is your Client Business?", conv.Messages[1].Text)

	rr = env.Do(t, http.MethodGet, "/state", token, nil)
	var state flow.Snapshot
	testutil.DecodeResult(t, rr, &state)
	assert.Equal(t, "flow", state.Mode)
	assert.Equal(t, 1, state.Step)
	assert.Equal(t, 3, state.Total)

	for _, a := range []string{"Cafe Mocha", "Footfall", "Students nearby"} {
		rr = env.Do(t, http.MethodPost, "/messages", token, map[string]string{"text": a})
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "answer "+a)
	}
	testutil.DecodeResult(t, rr, &conv)
	assert.Equal(t, "## Meta plan", conv.Messages[len(conv.Messages)-1].Text)
	assert.Equal(t, "Cafe Mocha", conv.Title)

	prompts := env.Completer.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Students nearby")

	rr = env.Do(t, http.MethodGet, "/state", token, nil)
	testutil.DecodeResult(t, rr, &state)
	assert.Equal(t, "idle", state.Mode)
}

func TestSendMessageFailureBecomesErrorReply(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.Completer.Err = errors.New("network error: connection reset")
	_, token := env.SignIn(t, "err@example.com")

	rr := env.Do(t, http.MethodPost, "/messages", token, map[string]string{"text": "hello"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "send")
	var conv models.Conversation
	testutil.DecodeResult(t, rr, &conv)
	last := conv.Messages[len(conv.Messages)-1]
	assert.True(t, strings.HasPrefix(last.Text, "Error: "), last.Text)

	rr = env.Do(t, http.MethodPost, "/messages", token, map[string]string{"text": "{"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "plain text that looks like JSON")

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", nil)
	req.Body = http.NoBody
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.Handler.ServeHTTP(rec, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rec.Code, "empty body")
}

func TestSendWhileLoadingConflicts(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.Completer.Block = make(chan struct{})
	_, token := env.SignIn(t, "busy@example.com")

	done := make(chan int, 1)
	go func() {
		done <- env.Do(t, http.MethodPost, "/messages", token, map[string]string{"text": "first"}).Code
	}()

	require.Eventually(t, func() bool {
		var state flow.Snapshot
		rr := env.Do(t, http.MethodGet, "/state", token, nil)
		testutil.DecodeResult(t, rr, &state)
		return state.Loading
	}, time.Second, 5*time.Millisecond)

	rr := env.Do(t, http.MethodPost, "/messages", token, map[string]string{"text": "second"})
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "send while loading")

	close(env.Completer.Block)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, []string{"first"}, env.Completer.Prompts())
}

func TestLogoutDuringReplyKeepsOtherSessionWrites(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.Completer.Block = make(chan struct{})
	user, first := env.SignIn(t, "two@example.com")
	second, err := env.Sessions.Create(t.Context(), user)
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		done <- env.Do(t, http.MethodPost, "/messages", first, map[string]string{"text": "first"}).Code
	}()
	require.Eventually(t, func() bool {
		var state flow.Snapshot
		testutil.DecodeResult(t, env.Do(t, http.MethodGet, "/state", second.Token, nil), &state)
		return state.Loading
	}, time.Second, 5*time.Millisecond)

	rr := env.Do(t, http.MethodPost, "/auth/logout", first, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "logout")

	rr = env.Do(t, http.MethodPost, "/conversations", second.Token, nil)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create")
	var conv models.Conversation
	testutil.DecodeResult(t, rr, &conv)
	rr = env.Do(t, http.MethodPatch, "/conversations/"+conv.ID, second.Token, map[string]string{"title": "B-important"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "rename")

	close(env.Completer.Block)
	require.Equal(t, http.StatusOK, <-done)

	raw, ok, err := env.KV.Get(t.Context(), store.ConversationsKey(user.UID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "B-important")
	assert.Contains(t, raw, "stub reply", "the late reply is persisted too")

	cs, err := store.OpenChatStore(t.Context(), env.KV, store.Owner{UID: user.UID})
	require.NoError(t, err)
	assert.Len(t, cs.List(), 2)
}

func TestConversationLifecycle(t *testing.T) {
	env := testutil.NewTestEnv(t)
	_, token := env.SignIn(t, "life@example.com")

	create := func() models.Conversation {
		rr := env.Do(t, http.MethodPost, "/conversations", token, nil)
		testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create")
		var c models.Conversation
		testutil.DecodeResult(t, rr, &c)
		return c
	}
	first := create()
	second := create()
	assert.Equal(t, models.DefaultConversationTitle, second.Title)

	rr := env.Do(t, http.MethodGet, "/conversations", token, nil)
	var list struct {
		ActiveID      string                `json:"activeId"`
		Conversations []models.Conversation `json:"conversations"`
	}
	testutil.DecodeResult(t, rr, &list)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, second.ID, list.ActiveID)
	assert.Equal(t, second.ID, list.Conversations[0].ID)

	rr = env.Do(t, http.MethodPatch, "/conversations/"+first.ID, token, map[string]string{"title": "  "})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "blank rename")
	rr = env.Do(t, http.MethodPatch, "/conversations/"+first.ID, token, map[string]string{"title": "Budget talk"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "rename")

	rr = env.Do(t, http.MethodPost, "/conversations/"+first.ID+"/select", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "select")
	rr = env.Do(t, http.MethodPost, "/messages", token, map[string]string{"text": "hi"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "send to selected")

	rr = env.Do(t, http.MethodGet, "/conversations/"+first.ID+"/share", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "share")
	var share struct {
		Text string `json:"text"`
	}
	testutil.DecodeResult(t, rr, &share)
	assert.Equal(t, "Chat Title: Budget talk\n\nMessages:\nuser: hi\nbot: stub reply", share.Text)

	rr = env.Do(t, http.MethodGet, "/conversations/"+first.ID+"/share?format=text", token, nil)
	assert.Equal(t, share.Text, rr.Body.String())

	rr = env.Do(t, http.MethodGet, "/conversations?grouped=true", token, nil)
	var grouped struct {
		Groups []sidebar.Group `json:"groups"`
	}
	testutil.DecodeResult(t, rr, &grouped)
	require.Len(t, grouped.Groups, 1)
	assert.Equal(t, sidebar.LabelToday, grouped.Groups[0].Label)
	assert.Equal(t, 2, grouped.Groups[0].Count)

	rr = env.Do(t, http.MethodPost, "/conversations/"+second.ID+"/archive", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "archive")
	rr = env.Do(t, http.MethodGet, "/conversations?grouped=true", token, nil)
	testutil.DecodeResult(t, rr, &grouped)
	assert.Equal(t, 1, grouped.Groups[0].Count, "archived conversations leave the sidebar")

	rr = env.Do(t, http.MethodDelete, "/conversations/"+first.ID, token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete")
	rr = env.Do(t, http.MethodGet, "/conversations/"+first.ID, token, nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get deleted")
	rr = env.Do(t, http.MethodPost, "/conversations/missing/select", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "select missing")
}

func TestCreateConversationAbandonsFlow(t *testing.T) {
	env := testutil.NewTestEnv(t)
	_, token := env.SignIn(t, "abandon@example.com")

	rr := env.Do(t, http.MethodPost, "/flows/ad_copy", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "start flow")
	rr = env.Do(t, http.MethodPost, "/conversations", token, nil)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "new chat")

	rr = env.Do(t, http.MethodGet, "/state", token, nil)
	var state flow.Snapshot
	testutil.DecodeResult(t, rr, &state)
	assert.Equal(t, "idle", state.Mode)
}

func TestThemePreference(t *testing.T) {
	env := testutil.NewTestEnv(t)
	_, token := env.SignIn(t, "theme@example.com")

	rr := env.Do(t, http.MethodGet, "/preferences/theme", token, nil)
	var pref struct {
		Theme models.Theme `json:"theme"`
	}
	testutil.DecodeResult(t, rr, &pref)
	assert.Equal(t, models.ThemeDark, pref.Theme)

	rr = env.Do(t, http.MethodPut, "/preferences/theme", token, map[string]string{"theme": "sepia"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid theme")

	rr = env.Do(t, http.MethodPut, "/preferences/theme", token, map[string]string{"theme": "light"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "set theme")
	rr = env.Do(t, http.MethodGet, "/preferences/theme", token, nil)
	testutil.DecodeResult(t, rr, &pref)
	assert.Equal(t, models.ThemeLight, pref.Theme)
}

func TestGoogleRoutesWithoutConfig(t *testing.T) {
	env := testutil.NewTestEnv(t)
	rr := env.Do(t, http.MethodGet, "/auth/google/login", "", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "google login disabled")
	rr = env.Do(t, http.MethodGet, "/auth/google/callback?state=x&code=y", "", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "google callback disabled")
}

func TestWebSocketFeed(t *testing.T) {
	env := testutil.NewTestEnv(t)
	_, token := env.SignIn(t, "ws@example.com")

	srv := httptest.NewServer(env.Handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type           string          `json:"type"`
		ConversationID string          `json:"conversationId"`
		Message        *models.Message `json:"message"`
	}
	read := func() frame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	assert.Equal(t, "ready", read().Type)

	rr := env.Do(t, http.MethodPost, "/messages", token, map[string]string{"text": "ping"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "send")

	user := read()
	assert.Equal(t, "message", user.Type)
	require.NotNil(t, user.Message)
	assert.Equal(t, "ping", user.Message.Text)
	bot := read()
	require.NotNil(t, bot.Message)
	assert.Equal(t, models.SenderBot, bot.Message.Sender)
	assert.Equal(t, "stub reply", bot.Message.Text)
	assert.Equal(t, user.ConversationID, bot.ConversationID)

	_, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err, "feed requires a session")
}
