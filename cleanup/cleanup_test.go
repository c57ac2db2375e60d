package cleanup

import (
	"context"
	"testing"
	"time"

	"dabubble/store"
	"dabubble/store/storetest"
	"dabubble/types"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

type world struct {
	st  *store.Store
	sw  *Sweeper
	ctx context.Context
}

func newWorld(t *testing.T) world {
	t.Helper()
	ctx := context.Background()
	st := storetest.New(t)
	sw := New(st, Config{Interval: time.Hour, IdleAfter: 30 * time.Minute, Grace: time.Hour})
	sw.now = func() time.Time { return now }
	return world{st: st, sw: sw, ctx: ctx}
}

func (w world) set(t *testing.T, path, id string, doc any) {
	t.Helper()
	require.NoError(t, w.st.Set(w.ctx, path, id, doc))
}

func (w world) exists(t *testing.T, path, id string) bool {
	t.Helper()
	_, err := w.st.Get(w.ctx, path, id)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, store.ErrNotFound)
	return false
}

// seedGuestActivity gives guest "g" a channel, messages and answers in
// alice's channel, and a direct chat with alice.
func seedGuestActivity(t *testing.T, w world) {
	t.Helper()
	old := now.Add(-3 * time.Hour)
	w.set(t, types.UsersPath, "alice", types.User{ID: "alice", Name: "Alice", CreatedAt: old, ChatIDs: []string{"chat-ga", "chat-aa"}})
	w.set(t, types.UsersPath, "g", types.User{ID: "g", Name: "Gast", Guest: true, Provider: types.ProviderGuest,
		CreatedAt: old, LastSeenAt: old, MarkedToDeleteAt: timePtr(now.Add(-2 * time.Hour)), ChatIDs: []string{"chat-ga"}})

	w.set(t, types.ChannelsPath, "guestroom", types.Channel{ID: "guestroom", Name: "guestroom", CreatorID: "g", MemberIDs: []string{"g", "alice"}, CreatedAt: old})
	gm := types.ChannelMessagesPath("guestroom")
	w.set(t, gm, "gm1", types.Message{ID: "gm1", Path: gm, CreatorID: "alice", CreatedAt: old, Answerable: true, AnswerCount: 1})
	w.set(t, types.AnswersPath(gm, "gm1"), "ga1", types.Message{ID: "ga1", Path: types.AnswersPath(gm, "gm1"), CreatorID: "alice", CreatedAt: old})

	w.set(t, types.ChannelsPath, "general", types.Channel{ID: "general", Name: "general", CreatorID: "alice", MemberIDs: []string{"alice", "g"}, CreatedAt: old})
	mp := types.ChannelMessagesPath("general")
	w.set(t, mp, "m1", types.Message{ID: "m1", Path: mp, CreatorID: "g", CreatedAt: old, Answerable: true, AnswerCount: 1})
	w.set(t, types.AnswersPath(mp, "m1"), "a1", types.Message{ID: "a1", Path: types.AnswersPath(mp, "m1"), CreatorID: "alice", CreatedAt: old})
	w.set(t, mp, "m2", types.Message{ID: "m2", Path: mp, CreatorID: "alice", CreatedAt: old.Add(time.Minute), Answerable: true, AnswerCount: 2})
	w.set(t, types.AnswersPath(mp, "m2"), "a2", types.Message{ID: "a2", Path: types.AnswersPath(mp, "m2"), CreatorID: "g", CreatedAt: old})
	w.set(t, types.AnswersPath(mp, "m2"), "a3", types.Message{ID: "a3", Path: types.AnswersPath(mp, "m2"), CreatorID: "alice", CreatedAt: old})

	w.set(t, types.ChatsPath, "chat-ga", types.Chat{ID: "chat-ga", MemberIDs: []string{"g", "alice"}, CreatedAt: old})
	cp := types.ChatMessagesPath("chat-ga")
	w.set(t, cp, "c1", types.Message{ID: "c1", Path: cp, CreatorID: "alice", CreatedAt: old})
	w.set(t, types.ChatsPath, "chat-aa", types.Chat{ID: "chat-aa", MemberIDs: []string{"alice", "alice"}, CreatedAt: old})

	_, err := w.st.DB().ExecContext(w.ctx,
		`INSERT INTO credentials (user_id, email, password_hash) VALUES (?, ?, ?)`, "g", "g@guest.invalid", "-")
	require.NoError(t, err)
}

func TestPurgeRemovesGuestFootprint(t *testing.T) {
	w := newWorld(t)
	seedGuestActivity(t, w)

	report, err := w.sw.Sweep(w.ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Purged: 1}, report)

	require.False(t, w.exists(t, types.UsersPath, "g"))
	require.False(t, w.exists(t, types.ChannelsPath, "guestroom"))
	require.False(t, w.exists(t, types.ChannelMessagesPath("guestroom"), "gm1"))
	require.False(t, w.exists(t, types.AnswersPath(types.ChannelMessagesPath("guestroom"), "gm1"), "ga1"))

	mp := types.ChannelMessagesPath("general")
	require.False(t, w.exists(t, mp, "m1"))
	require.False(t, w.exists(t, types.AnswersPath(mp, "m1"), "a1"))
	require.False(t, w.exists(t, types.AnswersPath(mp, "m2"), "a2"))
	require.True(t, w.exists(t, types.AnswersPath(mp, "m2"), "a3"))

	m2, err := store.GetAs[types.Message](w.ctx, w.st, mp, "m2")
	require.NoError(t, err)
	require.Equal(t, 1, m2.AnswerCount)

	general, err := store.GetAs[types.Channel](w.ctx, w.st, types.ChannelsPath, "general")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, general.MemberIDs)

	require.False(t, w.exists(t, types.ChatsPath, "chat-ga"))
	require.False(t, w.exists(t, types.ChatMessagesPath("chat-ga"), "c1"))
	require.True(t, w.exists(t, types.ChatsPath, "chat-aa"))

	alice, err := store.GetAs[types.User](w.ctx, w.st, types.UsersPath, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"chat-aa"}, alice.ChatIDs)

	var n int
	require.NoError(t, w.st.DB().GetContext(w.ctx, &n, `SELECT COUNT(*) FROM credentials WHERE user_id = 'g'`))
	require.Zero(t, n)
}

func TestFailedPurgeChangesNothing(t *testing.T) {
	w := newWorld(t)
	seedGuestActivity(t, w)
	_, err := w.st.DB().ExecContext(w.ctx, `DROP TABLE credentials`)
	require.NoError(t, err)

	purged, failed, err := w.sw.PurgeMarkedGuests(w.ctx)
	require.NoError(t, err)
	require.Zero(t, purged)
	require.Equal(t, 1, failed)

	g, err := store.GetAs[types.User](w.ctx, w.st, types.UsersPath, "g")
	require.NoError(t, err)
	require.NotNil(t, g.MarkedToDeleteAt, "guest stays marked for the next sweep")
	require.True(t, w.exists(t, types.ChannelsPath, "guestroom"))
	require.True(t, w.exists(t, types.ChannelMessagesPath("general"), "m1"))

	alice, err := store.GetAs[types.User](w.ctx, w.st, types.UsersPath, "alice")
	require.NoError(t, err)
	require.Len(t, alice.ChatIDs, 2)
}

func TestMarkIdleGuests(t *testing.T) {
	w := newWorld(t)
	w.set(t, types.UsersPath, "idle", types.User{ID: "idle", Guest: true, Online: true, CreatedAt: now.Add(-2 * time.Hour), LastSeenAt: now.Add(-time.Hour)})
	w.set(t, types.UsersPath, "active", types.User{ID: "active", Guest: true, Online: true, CreatedAt: now.Add(-2 * time.Hour), LastSeenAt: now.Add(-time.Minute)})
	w.set(t, types.UsersPath, "member", types.User{ID: "member", CreatedAt: now.Add(-48 * time.Hour)})

	marked, err := w.sw.MarkIdleGuests(w.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	idle, err := store.GetAs[types.User](w.ctx, w.st, types.UsersPath, "idle")
	require.NoError(t, err)
	require.False(t, idle.Online)
	require.NotNil(t, idle.MarkedToDeleteAt)
	require.True(t, idle.MarkedToDeleteAt.Equal(now))

	active, err := store.GetAs[types.User](w.ctx, w.st, types.UsersPath, "active")
	require.NoError(t, err)
	require.Nil(t, active.MarkedToDeleteAt)

	// A fresh mark is inside the grace window.
	purged, _, err := w.sw.PurgeMarkedGuests(w.ctx)
	require.NoError(t, err)
	require.Zero(t, purged)
}

func TestOnlineGuestIsNeverPurged(t *testing.T) {
	w := newWorld(t)
	w.set(t, types.UsersPath, "g", types.User{ID: "g", Guest: true, Online: true,
		CreatedAt: now.Add(-5 * time.Hour), LastSeenAt: now, MarkedToDeleteAt: timePtr(now.Add(-4 * time.Hour))})

	report, err := w.sw.Sweep(w.ctx)
	require.NoError(t, err)
	require.Zero(t, report.Purged)
	require.True(t, w.exists(t, types.UsersPath, "g"))
}

func TestRunStopsWithContext(t *testing.T) {
	w := newWorld(t)
	ctx, cancel := context.WithCancel(w.ctx)
	done := make(chan struct{})
	go func() {
		w.sw.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// recordingPrefs stands in for a preference backend outside the database.
type recordingPrefs struct {
	deleted []string
}

func (r *recordingPrefs) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (r *recordingPrefs) Put(context.Context, string, string, []byte) error {
	return nil
}

func (r *recordingPrefs) Delete(_ context.Context, scope string) error {
	r.deleted = append(r.deleted, scope)
	return nil
}

func TestPurgeClearsExternalPreferences(t *testing.T) {
	w := newWorld(t)
	seedGuestActivity(t, w)
	kv := &recordingPrefs{}
	w.sw.Prefs = kv

	report, err := w.sw.Sweep(w.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Purged)
	require.Equal(t, []string{"g"}, kv.deleted)
}

func TestFailedPurgeKeepsExternalPreferences(t *testing.T) {
	w := newWorld(t)
	seedGuestActivity(t, w)
	kv := &recordingPrefs{}
	w.sw.Prefs = kv
	_, err := w.st.DB().ExecContext(w.ctx, `DROP TABLE credentials`)
	require.NoError(t, err)

	_, failed, err := w.sw.PurgeMarkedGuests(w.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, failed)
	require.Empty(t, kv.deleted)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Interval = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Grace = -time.Minute
	require.Error(t, cfg.Validate())
}

func TestRunRefusesZeroInterval(t *testing.T) {
	w := newWorld(t)
	w.sw.cfg.Interval = 0
	done := make(chan struct{})
	go func() {
		w.sw.Run(w.ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run should return at once for an invalid interval")
	}
}
