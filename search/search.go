// Package search turns free-text input into user, channel and message
// suggestions.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"dabubble/directory"
	"dabubble/store"
	"dabubble/types"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Limit caps each result category.
const Limit = 5

var ErrUnknownContext = errors.New("search: unknown context")

type Mode int

const (
	ModeNone Mode = iota
	ModeUsers
	ModeChannels
	ModeContext
	ModeAll
)

func (m Mode) String() string {
	switch m {
	case ModeUsers:
		return "users"
	case ModeChannels:
		return "channels"
	case ModeContext:
		return "context"
	case ModeAll:
		return "all"
	}
	return "none"
}

// Classify picks the lookups a query triggers. Rules apply in order: a
// leading @ or # restricts to users or channels, short queries match
// nothing, and an active context restricts to its messages.
func Classify(query string, contextActive bool) Mode {
	q := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(q, "@"):
		return ModeUsers
	case strings.HasPrefix(q, "#"):
		return ModeChannels
	case len([]rune(q)) < 3:
		return ModeNone
	case contextActive:
		return ModeContext
	}
	return ModeAll
}

type MessageHit struct {
	Message types.Message `json:"message"`
	Snippet string        `json:"snippet"`
}

type Results struct {
	Query    string          `json:"query"`
	Mode     string          `json:"mode"`
	Users    []types.User    `json:"users"`
	Channels []types.Channel `json:"channels"`
	Messages []MessageHit    `json:"messages"`
	Err      string          `json:"error,omitempty"`
}

func (r Results) Empty() bool {
	return len(r.Users) == 0 && len(r.Channels) == 0 && len(r.Messages) == 0
}

type Searcher struct {
	st       *store.Store
	userID   string
	users    directory.View[types.User]
	channels directory.View[types.Channel]
	chats    directory.View[types.Chat]
}

func NewSearcher(st *store.Store, dirs *directory.Directories, userID string) *Searcher {
	return &Searcher{
		st:       st,
		userID:   userID,
		users:    dirs.Users,
		channels: dirs.Channels,
		chats:    dirs.Chats,
	}
}

// Search runs query. contextToken, when set, is an "in:#channel" or
// "in:@user" restriction.
func (s *Searcher) Search(ctx context.Context, query, contextToken string) (Results, error) {
	q := strings.TrimSpace(query)
	mode := Classify(q, contextToken != "")
	res := Results{Query: q, Mode: mode.String()}

	switch mode {
	case ModeUsers:
		res.Users = s.matchUsers("@", q)
	case ModeChannels:
		res.Channels = s.matchChannels("#", q)
	case ModeContext:
		path, err := s.ResolveContext(contextToken)
		if err != nil {
			return res, err
		}
		hits, err := s.messagesIn(ctx, []string{path}, q)
		if err != nil {
			return res, err
		}
		res.Messages = hits
	case ModeAll:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			res.Users = s.matchUsers("", q)
			return nil
		})
		g.Go(func() error {
			res.Channels = s.matchChannels("", q)
			return nil
		})
		g.Go(func() error {
			hits, err := s.messagesIn(gctx, s.conversationPaths(), q)
			res.Messages = hits
			return err
		})
		if err := g.Wait(); err != nil {
			return Results{Query: q, Mode: mode.String()}, err
		}
	}
	return res, nil
}

func (s *Searcher) matchUsers(sigil, q string) []types.User {
	users := s.users.Filter(func(u types.User) bool {
		return ContainsFold(sigil+u.Name, q)
	})
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return capped(users)
}

func (s *Searcher) matchChannels(sigil, q string) []types.Channel {
	channels := s.channels.Filter(func(c types.Channel) bool {
		return ContainsFold(sigil+c.Name, q)
	})
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return capped(channels)
}

func capped[T any](items []T) []T {
	if len(items) > Limit {
		return items[:Limit]
	}
	return items
}

// conversationPaths lists the message collections the user can read.
func (s *Searcher) conversationPaths() []string {
	var paths []string
	for _, c := range directory.ChannelsOf(s.channels, s.userID) {
		paths = append(paths, types.ChannelMessagesPath(c.ID))
	}
	for _, c := range directory.ChatsOf(s.chats, s.userID) {
		paths = append(paths, types.ChatMessagesPath(c.ID))
	}
	return paths
}

// messagesIn returns the newest messages across paths whose text contains
// q. Matching runs on the extracted text, so markup never hides or fakes a
// match.
func (s *Searcher) messagesIn(ctx context.Context, paths []string, q string) ([]MessageHit, error) {
	var (
		mu   sync.Mutex
		hits []MessageHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			query := store.Collection(path).Order(store.FieldCreatedAt, true)
			msgs, err := store.RunAs[types.Message](gctx, s.st, query)
			if err != nil {
				return errors.Wrapf(err, "search %s", path)
			}
			found := 0
			for _, m := range msgs {
				if found == Limit {
					break
				}
				text := PlainText(m.Content)
				if !ContainsFold(text, q) {
					continue
				}
				found++
				mu.Lock()
				hits = append(hits, MessageHit{Message: m, Snippet: Snippet(text, q)})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Message.CreatedAt.After(hits[j].Message.CreatedAt)
	})
	return capped(hits), nil
}

// ResolveContext maps "in:#name" to the channel's messages and "in:@name"
// to the messages of the direct chat with that user.
func (s *Searcher) ResolveContext(token string) (string, error) {
	switch {
	case strings.HasPrefix(token, "in:#"):
		name := strings.TrimPrefix(token, "in:#")
		ch, ok := directory.ChannelByName(s.channels, name)
		if !ok {
			return "", errors.Wrapf(ErrUnknownContext, "channel %q", name)
		}
		return types.ChannelMessagesPath(ch.ID), nil
	case strings.HasPrefix(token, "in:@"):
		name := strings.TrimPrefix(token, "in:@")
		u, ok := directory.UserByName(s.users, name)
		if !ok {
			return "", errors.Wrapf(ErrUnknownContext, "user %q", name)
		}
		chat, ok := directory.ChatBetween(s.chats, s.userID, u.ID)
		if !ok {
			return "", errors.Wrapf(ErrUnknownContext, "no chat with %q", name)
		}
		return types.ChatMessagesPath(chat.ID), nil
	}
	return "", errors.Wrapf(ErrUnknownContext, "token %q", token)
}

// NearestMessage finds the latest message in path created at or before at,
// falling back to the earliest one after it. ok is false for an empty
// collection.
func (s *Searcher) NearestMessage(ctx context.Context, path string, at time.Time) (types.Message, bool, error) {
	before := store.Collection(path).
		Where(store.FieldCreatedAt, store.LessOrEqual, at).
		Order(store.FieldCreatedAt, true).
		Take(1)
	msgs, err := store.RunAs[types.Message](ctx, s.st, before)
	if err != nil {
		return types.Message{}, false, err
	}
	if len(msgs) > 0 {
		return msgs[0], true, nil
	}

	after := store.Collection(path).
		Where(store.FieldCreatedAt, store.GreaterOrEqual, at).
		Take(1)
	msgs, err = store.RunAs[types.Message](ctx, s.st, after)
	if err != nil {
		return types.Message{}, false, err
	}
	if len(msgs) > 0 {
		return msgs[0], true, nil
	}
	return types.Message{}, false, nil
}

// SplitContext separates a leading "in:#name" or "in:@name" token from the
// rest of a typed query.
func SplitContext(raw string) (token, query string) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "in:#") && !strings.HasPrefix(raw, "in:@") {
		return "", raw
	}
	token, query, _ = strings.Cut(raw, " ")
	return token, strings.TrimSpace(query)
}
