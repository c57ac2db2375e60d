package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dabubble/auth"
	"dabubble/cleanup"
	"dabubble/navigation"
	"dabubble/search"
	"dabubble/store"
	"dabubble/types"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testReadTimeout = 3 * time.Second

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type testEnv struct {
	srv  *Server
	http *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := newServer(ctx, Config{
		DBFile:         filepath.Join(dir, "dabubble.sqlite"),
		JWTSecret:      "test-secret",
		AvatarDir:      filepath.Join(dir, "avatars"),
		DefaultChannel: "Allgemein",
		AllowedOrigins: defaultAllowedOrigins(),
		Sweep:          cleanup.DefaultConfig(),
	})
	if err != nil {
		cancel()
		t.Fatalf("new server: %v", err)
	}
	srv.searchDelay = 10 * time.Millisecond

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Close()
	})
	return &testEnv{srv: srv, http: ts}
}

func (e *testEnv) guest(t *testing.T) auth.Session {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/api/guest", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess auth.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	require.NotEmpty(t, sess.Token)
	return sess
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(WSMessage{Type: msgType, Data: data}))
}

// waitFor reads until a message of msgType satisfies match.
func waitFor[T any](t *testing.T, conn *websocket.Conn, msgType string, match func(T) bool) T {
	t.Helper()
	deadline := time.Now().Add(testReadTimeout)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type != msgType {
			continue
		}
		var data T
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		if match == nil || match(data) {
			return data
		}
	}
}

func TestSocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	sess := env.guest(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?token=" + sess.Token
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGuestSessionFlow(t *testing.T) {
	env := newTestEnv(t)
	sess := env.guest(t)
	conn := env.dial(t, sess.Token)

	nav := waitFor(t, conn, "navigation", func(u NavigationUpdate) bool {
		return u.State.Channel != nil && u.State.IsMember
	})
	require.Equal(t, "Allgemein", nav.State.Channel.Name)
	require.Equal(t, "in:#Allgemein", nav.SearchContext)

	path := nav.State.MessagesPath()

	send(t, conn, "post_message", PostMessage{Content: "<p>Hallo Welt</p>"})
	update := waitFor(t, conn, "messages", func(u MessagesUpdate) bool {
		return u.Path == path && len(u.Messages) == 1
	})
	msg := update.Messages[0]
	require.Equal(t, sess.User.ID, msg.CreatorID)
	require.Len(t, update.Days, 1)

	send(t, conn, "set_thread_view", MessageRef{Path: path, ID: msg.ID})
	waitFor(t, conn, "navigation", func(u NavigationUpdate) bool { return u.Kind == navigation.KindThreadSet })

	send(t, conn, "post_message", PostMessage{Content: "Antwort", Thread: true})
	answers := waitFor(t, conn, "thread_messages", func(u MessagesUpdate) bool { return len(u.Messages) == 1 })
	require.Equal(t, msg.AnswersPath(), answers.Path)
	parent, err := store.GetAs[types.Message](context.Background(), env.srv.st, path, msg.ID)
	require.NoError(t, err)
	require.Equal(t, 1, parent.AnswerCount)

	send(t, conn, "search_input", SearchInput{Query: "hallo"})
	res := waitFor(t, conn, "search_results", func(r search.Results) bool { return r.Query == "hallo" })
	require.Len(t, res.Messages, 1)
	require.Contains(t, res.Messages[0].Snippet, "<mark>Hallo</mark>")

	send(t, conn, "search_commit", SearchCommit{Query: "hallo"})
	recent := waitFor[RecentSearches](t, conn, "recent_searches", nil)
	require.Equal(t, []string{"hallo"}, recent.RecentSearches)

	send(t, conn, "jump_to_date", JumpToDate{Date: msg.CreatedAt.Format("2006-01-02")})
	jump := waitFor[JumpResult](t, conn, "jump_result", nil)
	require.True(t, jump.Found)
	require.Equal(t, msg.ID, jump.Message.ID)
}

func TestDirectChatWithUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.guest(t)
	bob := env.guest(t)
	conn := env.dial(t, alice.Token)
	waitFor(t, conn, "navigation", func(u NavigationUpdate) bool { return u.Kind == navigation.KindNavigated })

	send(t, conn, "set_chat_view", SetChatView{Kind: "user", ID: bob.User.ID})
	nav := waitFor(t, conn, "navigation", func(u NavigationUpdate) bool {
		return u.Kind == navigation.KindNavigated && u.State.Chat != nil
	})
	require.NotNil(t, nav.Partner)
	require.Equal(t, bob.User.ID, nav.Partner.ID)
	require.True(t, nav.State.Chat.Pairs(alice.User.ID, bob.User.ID))
}

func TestUnknownMessageType(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, env.guest(t).Token)

	send(t, conn, "launch_rockets", nil)
	chatErr := waitFor[ChatError](t, conn, "error", nil)
	require.Contains(t, chatErr.Content, "launch_rockets")
}

func TestSocketPushesInitialNavigation(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, env.guest(t).Token)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testReadTimeout)))
	var first inbound
	require.NoError(t, conn.ReadJSON(&first))
	require.Contains(t, []string{"navigation", "messages"}, first.Type)
}
