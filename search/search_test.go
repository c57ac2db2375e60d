package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dabubble/db"
	"dabubble/directory"
	"dabubble/prefs"
	"dabubble/store"
	"dabubble/store/storetest"
	"dabubble/types"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newSearcher(t *testing.T) (*Searcher, *store.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := storetest.New(t)

	users := []types.User{
		{ID: "me", Name: "Anna", CreatedAt: base},
		{ID: "jane", Name: "Jane", CreatedAt: base},
		{ID: "dan", Name: "Daniel", CreatedAt: base},
	}
	for _, u := range users {
		require.NoError(t, st.Set(ctx, types.UsersPath, u.ID, u))
	}
	channels := []types.Channel{
		{ID: "general", Name: "general", MemberIDs: []string{"me", "jane"}, CreatedAt: base},
		{ID: "gear", Name: "gear", MemberIDs: []string{"me"}, CreatedAt: base},
		{ID: "secret", Name: "secret", MemberIDs: []string{"jane"}, CreatedAt: base},
	}
	for _, c := range channels {
		require.NoError(t, st.Set(ctx, types.ChannelsPath, c.ID, c))
	}
	require.NoError(t, st.Set(ctx, types.ChatsPath, "c1", types.Chat{ID: "c1", MemberIDs: []string{"me", "jane"}, CreatedAt: base}))

	messages := []types.Message{
		{ID: "m1", Path: types.ChannelMessagesPath("general"), Content: "<p>lunch at noon</p>", CreatedAt: base},
		{ID: "m2", Path: types.ChannelMessagesPath("general"), Content: "<p>no <span class=\"lunchbox\">x</span></p>", CreatedAt: base.Add(time.Minute)},
		{ID: "m3", Path: types.ChannelMessagesPath("secret"), Content: "<p>secret lunch</p>", CreatedAt: base},
		{ID: "m4", Path: types.ChatMessagesPath("c1"), Content: "<p>Lunch tomorrow?</p>", CreatedAt: base.Add(24 * time.Hour)},
	}
	for _, m := range messages {
		require.NoError(t, st.Set(ctx, m.Path, m.ID, m))
	}

	dirs, err := directory.Start(ctx, st)
	require.NoError(t, err)
	return NewSearcher(st, dirs, "me"), st
}

func TestClassify(t *testing.T) {
	cases := []struct {
		query   string
		context bool
		want    Mode
	}{
		{"@an", false, ModeUsers},
		{"#ge", true, ModeChannels},
		{"ab", false, ModeNone},
		{"  ab  ", true, ModeNone},
		{"abc", false, ModeAll},
		{"abc", true, ModeContext},
	}
	for _, tc := range cases {
		if got := Classify(tc.query, tc.context); got != tc.want {
			t.Errorf("Classify(%q, %v) = %v, want %v", tc.query, tc.context, got, tc.want)
		}
	}
}

func TestSearchUsersOnly(t *testing.T) {
	s, _ := newSearcher(t)
	res, err := s.Search(context.Background(), "@an", "")
	require.NoError(t, err)
	require.Empty(t, res.Channels)
	require.Empty(t, res.Messages)
	require.Len(t, res.Users, 1)
	require.Equal(t, "Anna", res.Users[0].Name)
}

func TestSearchChannelsOnly(t *testing.T) {
	s, _ := newSearcher(t)
	res, err := s.Search(context.Background(), "#ge", "")
	require.NoError(t, err)
	require.Empty(t, res.Users)
	require.Empty(t, res.Messages)
	require.Len(t, res.Channels, 2)
}

func TestSearchShortQueryIsEmpty(t *testing.T) {
	s, _ := newSearcher(t)
	res, err := s.Search(context.Background(), "ab", "")
	require.NoError(t, err)
	require.True(t, res.Empty())
}

func TestSearchAllCategories(t *testing.T) {
	s, _ := newSearcher(t)
	res, err := s.Search(context.Background(), "lunch", "")
	require.NoError(t, err)
	require.Equal(t, "all", res.Mode)

	var ids []string
	for _, h := range res.Messages {
		ids = append(ids, h.Message.ID)
	}
	// m2 only matches inside markup, m3 is in a channel the user is not in.
	require.Equal(t, []string{"m4", "m1"}, ids)
	require.Equal(t, "<mark>Lunch</mark> tomorrow?", res.Messages[0].Snippet)

	res, err = s.Search(context.Background(), "dan", "")
	require.NoError(t, err)
	require.Len(t, res.Users, 1)
	require.Equal(t, "dan", res.Users[0].ID)
}

func TestSearchWithinContext(t *testing.T) {
	s, _ := newSearcher(t)
	res, err := s.Search(context.Background(), "lunch", "in:@Jane")
	require.NoError(t, err)
	require.Empty(t, res.Users)
	require.Len(t, res.Messages, 1)
	require.Equal(t, "m4", res.Messages[0].Message.ID)

	_, err = s.Search(context.Background(), "lunch", "in:#nowhere")
	require.True(t, errors.Is(err, ErrUnknownContext))
}

func TestResolveContext(t *testing.T) {
	s, _ := newSearcher(t)
	path, err := s.ResolveContext("in:#General")
	require.NoError(t, err)
	require.Equal(t, "channels/general/messages", path)

	path, err = s.ResolveContext("in:@jane")
	require.NoError(t, err)
	require.Equal(t, "chats/c1/messages", path)

	_, err = s.ResolveContext("in:@Daniel")
	require.ErrorIs(t, err, ErrUnknownContext)
}

func TestNearestMessage(t *testing.T) {
	s, _ := newSearcher(t)
	ctx := context.Background()
	path := types.ChannelMessagesPath("general")

	m, ok, err := s.NearestMessage(ctx, path, base.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m1", m.ID)

	m, ok, err = s.NearestMessage(ctx, path, base.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m1", m.ID)

	m, ok, err = s.NearestMessage(ctx, path, base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m2", m.ID)

	_, ok, err = s.NearestMessage(ctx, types.ChannelMessagesPath("gear"), base)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPushRecent(t *testing.T) {
	var list []string
	for _, term := range []string{"a", "b", "a", "c", "d", "e"} {
		list = PushRecent(list, term)
		require.LessOrEqual(t, len(list), 5)
	}
	require.Equal(t, []string{"e", "d", "c", "a", "b"}, list)

	list = PushRecent(list, "f")
	require.Equal(t, []string{"f", "e", "d", "c", "a"}, list)
}

func TestRecentsPersist(t *testing.T) {
	conn, err := db.InitDB(filepath.Join(t.TempDir(), "recents.sqlite"))
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	r := NewRecents(prefs.NewSQL(conn))
	list, err := r.List(ctx, "me")
	require.NoError(t, err)
	require.Empty(t, list)

	for _, term := range []string{"lunch", "  ", "#general", "lunch"} {
		_, err := r.Add(ctx, "me", term)
		require.NoError(t, err)
	}
	list, err = NewRecents(prefs.NewSQL(conn)).List(ctx, "me")
	require.NoError(t, err)
	require.Equal(t, []string{"lunch", "#general"}, list)
}

func TestCoordinatorDebouncesInput(t *testing.T) {
	s, _ := newSearcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(ctx, s, 20*time.Millisecond)

	for _, q := range []string{"l", "lu", "lun", "lunc", "lunch"} {
		c.Input(q, "")
	}
	select {
	case res := <-c.Results():
		require.Equal(t, "lunch", res.Query)
		require.Len(t, res.Messages, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no debounced result")
	}

	c.Input("lunch", "")
	select {
	case res := <-c.Results():
		t.Fatalf("unchanged query searched again: %+v", res)
	case <-time.After(150 * time.Millisecond):
	}

	c.Input("lunch", "in:@Jane")
	select {
	case res := <-c.Results():
		require.Equal(t, "context", res.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("context change did not search")
	}
}

func TestSplitContext(t *testing.T) {
	token, query := SplitContext("in:#general  lunch plans")
	require.Equal(t, "in:#general", token)
	require.Equal(t, "lunch plans", query)

	token, query = SplitContext("in:@Jane")
	require.Equal(t, "in:@Jane", token)
	require.Equal(t, "", query)

	token, query = SplitContext(" lunch in:#general")
	require.Equal(t, "", token)
	require.Equal(t, "lunch in:#general", query)
}

func TestSearchFoldsUnicodeAndIgnoresMarkup(t *testing.T) {
	s, st := newSearcher(t)
	ctx := context.Background()
	general := types.ChannelMessagesPath("general")
	for _, m := range []types.Message{
		{ID: "u1", Path: general, Content: "<p>Über das Meeting</p>", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "u2", Path: general, Content: "<p>mehr <b>Üb</b>erblick</p>", CreatedAt: base.Add(3 * time.Hour)},
	} {
		require.NoError(t, st.Set(ctx, m.Path, m.ID, m))
	}

	res, err := s.Search(ctx, "über", "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	require.Equal(t, "u2", res.Messages[0].Message.ID)
	require.Equal(t, "mehr <mark>Über</mark>blick", res.Messages[0].Snippet)
	require.Equal(t, "<mark>Über</mark> das Meeting", res.Messages[1].Snippet)
}
