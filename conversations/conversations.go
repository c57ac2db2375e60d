// Package conversations holds the write operations on channels, chats and
// messages.
package conversations

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"dabubble/search"
	"dabubble/store"
	"dabubble/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

var (
	ErrChannelNameTaken = errors.New("channel name already taken")
	ErrInvalidName      = errors.New("channel name must be 1 to 40 characters")
	ErrNotMember        = errors.New("not a member of this conversation")
	ErrNotAuthor        = errors.New("only the author may change this message")
	ErrNotAnswerable    = errors.New("message does not accept answers")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrInvalidPath      = errors.New("not a message collection")
)

const maxChannelName = 40

type Service struct {
	st  *store.Store
	now func() time.Time

	// channelMu keeps name checks and channel writes together.
	channelMu sync.Mutex
}

func NewService(st *store.Store) *Service {
	return &Service{st: st, now: time.Now}
}

func validChannelName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= 1 && n <= maxChannelName
}

func (s *Service) nameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	channels, err := store.RunAs[types.Channel](ctx, s.st, store.Collection(types.ChannelsPath))
	if err != nil {
		return false, err
	}
	for _, c := range channels {
		if c.ID != exceptID && strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// EnsureDefaultChannel returns the default channel, creating it under name
// when none exists.
func (s *Service) EnsureDefaultChannel(ctx context.Context, name string) (types.Channel, error) {
	s.channelMu.Lock()
	defer s.channelMu.Unlock()

	existing, err := store.RunAs[types.Channel](ctx, s.st,
		store.Collection(types.ChannelsPath).Where("isDefault", store.Eq, true).Take(1))
	if err != nil {
		return types.Channel{}, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	ch := types.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: "Everyone is here.",
		CreatedAt:   s.now().UTC(),
		MemberIDs:   []string{},
		IsDefault:   true,
	}
	if err := s.st.Set(ctx, types.ChannelsPath, ch.ID, ch); err != nil {
		return types.Channel{}, errors.Wrap(err, "create default channel")
	}
	jww.INFO.Printf("conversations: created default channel %s", ch.ID)
	return ch, nil
}

// JoinDefault adds a new user to the default channel. It is a no-op when
// no default channel exists.
func (s *Service) JoinDefault(ctx context.Context, userID string) error {
	existing, err := store.RunAs[types.Channel](ctx, s.st,
		store.Collection(types.ChannelsPath).Where("isDefault", store.Eq, true).Take(1))
	if err != nil || len(existing) == 0 {
		return err
	}
	return s.AddMembers(ctx, existing[0].ID, userID)
}

// CreateChannel makes a channel whose first member is its creator.
func (s *Service) CreateChannel(ctx context.Context, creatorID, name, description string, memberIDs ...string) (types.Channel, error) {
	name = strings.TrimSpace(name)
	if !validChannelName(name) {
		return types.Channel{}, ErrInvalidName
	}

	s.channelMu.Lock()
	defer s.channelMu.Unlock()

	taken, err := s.nameTaken(ctx, name, "")
	if err != nil {
		return types.Channel{}, err
	}
	if taken {
		return types.Channel{}, ErrChannelNameTaken
	}

	members := []string{creatorID}
	for _, id := range memberIDs {
		if id != creatorID && !contains(members, id) {
			members = append(members, id)
		}
	}
	ch := types.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatorID:   creatorID,
		CreatedAt:   s.now().UTC(),
		MemberIDs:   members,
	}
	if err := s.st.Set(ctx, types.ChannelsPath, ch.ID, ch); err != nil {
		return types.Channel{}, errors.Wrap(err, "create channel")
	}
	return ch, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// EditChannel renames a channel or changes its description. Members only.
func (s *Service) EditChannel(ctx context.Context, userID, channelID, name, description string) error {
	name = strings.TrimSpace(name)
	if !validChannelName(name) {
		return ErrInvalidName
	}

	s.channelMu.Lock()
	defer s.channelMu.Unlock()

	ch, err := store.GetAs[types.Channel](ctx, s.st, types.ChannelsPath, channelID)
	if err != nil {
		return err
	}
	if !ch.HasMember(userID) {
		return ErrNotMember
	}
	taken, err := s.nameTaken(ctx, name, channelID)
	if err != nil {
		return err
	}
	if taken {
		return ErrChannelNameTaken
	}
	return s.st.Update(ctx, types.ChannelsPath, channelID, map[string]any{
		"name":        name,
		"description": strings.TrimSpace(description),
	})
}

func (s *Service) AddMembers(ctx context.Context, channelID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	ids := make([]any, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id
	}
	err := s.st.Update(ctx, types.ChannelsPath, channelID, map[string]any{"memberIds": store.ArrayUnion(ids...)})
	return errors.Wrapf(err, "add members to %s", channelID)
}

func (s *Service) LeaveChannel(ctx context.Context, channelID, userID string) error {
	err := s.st.Update(ctx, types.ChannelsPath, channelID, map[string]any{"memberIds": store.ArrayRemove(userID)})
	return errors.Wrapf(err, "leave %s", channelID)
}

// MarkChatRead resets the unread counter of a chat.
func (s *Service) MarkChatRead(ctx context.Context, userID, chatID string) error {
	chat, err := store.GetAs[types.Chat](ctx, s.st, types.ChatsPath, chatID)
	if err != nil {
		return err
	}
	if !chat.Involves(userID) {
		return ErrNotMember
	}
	return s.st.Update(ctx, types.ChatsPath, chatID, map[string]any{"unreadCount": 0})
}

// target describes where a message collection lives.
type target struct {
	collection string
	convID     string
	parentPath string
	parentID   string
}

func (t target) isAnswer() bool {
	return t.parentID != ""
}

func resolve(path string) (target, error) {
	var t target
	messagesPath := path
	if parentPath, parentID, ok := types.ParentOf(path); ok {
		t.parentPath, t.parentID = parentPath, parentID
		messagesPath = parentPath
	}
	collection, id, ok := types.ConversationOf(messagesPath)
	if !ok {
		return target{}, errors.Wrap(ErrInvalidPath, path)
	}
	t.collection, t.convID = collection, id
	return t, nil
}

// checkMember confirms userID may write into the conversation of t.
func (s *Service) checkMember(ctx context.Context, t target, userID string) error {
	switch t.collection {
	case types.ChannelsPath:
		ch, err := store.GetAs[types.Channel](ctx, s.st, types.ChannelsPath, t.convID)
		if err != nil {
			return err
		}
		if !ch.HasMember(userID) {
			return ErrNotMember
		}
	case types.ChatsPath:
		chat, err := store.GetAs[types.Chat](ctx, s.st, types.ChatsPath, t.convID)
		if err != nil {
			return err
		}
		if !chat.Involves(userID) {
			return ErrNotMember
		}
	}
	return nil
}

// PostMessage adds a message to path. Posting into an answers collection
// updates the parent's answer metadata; posting into a chat bumps its
// counters.
func (s *Service) PostMessage(ctx context.Context, authorID, path, content string, attachments []types.Attachment) (types.Message, error) {
	if strings.TrimSpace(search.PlainText(content)) == "" && len(attachments) == 0 {
		return types.Message{}, ErrEmptyMessage
	}
	t, err := resolve(path)
	if err != nil {
		return types.Message{}, err
	}
	if err := s.checkMember(ctx, t, authorID); err != nil {
		return types.Message{}, err
	}

	now := s.now().UTC()
	m := types.Message{
		ID:          uuid.NewString(),
		Path:        path,
		CreatorID:   authorID,
		CreatedAt:   now,
		Content:     content,
		Reactions:   []types.Reaction{},
		Attachments: attachments,
		Answerable:  !t.isAnswer(),
	}
	if m.Attachments == nil {
		m.Attachments = []types.Attachment{}
	}

	b := s.st.Batch().Set(path, m.ID, m)
	if t.isAnswer() {
		parent, err := store.GetAs[types.Message](ctx, s.st, t.parentPath, t.parentID)
		if err != nil {
			return types.Message{}, err
		}
		if !parent.Answerable {
			return types.Message{}, ErrNotAnswerable
		}
		b.Update(t.parentPath, t.parentID, map[string]any{
			"answerCount":  store.Increment(1),
			"lastAnswerAt": now,
		})
	} else if t.collection == types.ChatsPath {
		b.Update(types.ChatsPath, t.convID, map[string]any{
			"messageCount": store.Increment(1),
			"unreadCount":  store.Increment(1),
		})
	}
	if err := b.Commit(ctx); err != nil {
		return types.Message{}, errors.Wrapf(err, "post to %s", path)
	}
	return m, nil
}

func (s *Service) authored(ctx context.Context, userID, path, id string) (types.Message, error) {
	m, err := store.GetAs[types.Message](ctx, s.st, path, id)
	if err != nil {
		return m, err
	}
	if m.CreatorID != userID {
		return m, ErrNotAuthor
	}
	return m, nil
}

// EditMessage replaces the content of the author's own message.
func (s *Service) EditMessage(ctx context.Context, userID, path, id, content string) error {
	if strings.TrimSpace(search.PlainText(content)) == "" {
		return ErrEmptyMessage
	}
	if _, err := s.authored(ctx, userID, path, id); err != nil {
		return err
	}
	return s.st.Update(ctx, path, id, map[string]any{
		"content":  content,
		"edited":   true,
		"editedAt": s.now().UTC(),
	})
}

// ToggleReaction adds userID to the reaction of the given type, or removes
// it when already present. Reactions left without users are dropped.
func (s *Service) ToggleReaction(ctx context.Context, userID, path, id, reaction string) ([]types.Reaction, error) {
	t, err := resolve(path)
	if err != nil {
		return nil, err
	}
	if err := s.checkMember(ctx, t, userID); err != nil {
		return nil, err
	}
	m, err := store.GetAs[types.Message](ctx, s.st, path, id)
	if err != nil {
		return nil, err
	}

	reactions := ToggleReaction(m.Reactions, userID, reaction)
	if err := s.st.Update(ctx, path, id, map[string]any{"reactions": reactions}); err != nil {
		return nil, err
	}
	return reactions, nil
}

// ToggleReaction returns reactions with userID toggled on reaction.
func ToggleReaction(reactions []types.Reaction, userID, reaction string) []types.Reaction {
	out := make([]types.Reaction, 0, len(reactions)+1)
	found := false
	for _, r := range reactions {
		if r.Type == reaction {
			found = true
			if contains(r.UserIDs, userID) {
				users := make([]string, 0, len(r.UserIDs))
				for _, u := range r.UserIDs {
					if u != userID {
						users = append(users, u)
					}
				}
				r.UserIDs = users
			} else {
				r.UserIDs = append(append([]string(nil), r.UserIDs...), userID)
			}
		}
		if len(r.UserIDs) > 0 {
			out = append(out, r)
		}
	}
	if !found {
		out = append(out, types.Reaction{Type: reaction, UserIDs: []string{userID}})
	}
	return out
}

// DeleteMessage removes the author's message together with its answers.
func (s *Service) DeleteMessage(ctx context.Context, userID, path, id string) error {
	t, err := resolve(path)
	if err != nil {
		return err
	}
	if _, err := s.authored(ctx, userID, path, id); err != nil {
		return err
	}
	answers, err := s.st.Descendants(ctx, path, id)
	if err != nil {
		return err
	}

	b := s.st.Batch()
	for _, a := range answers {
		b.Delete(a.Path, a.ID)
	}
	b.Delete(path, id)
	if t.isAnswer() {
		b.Update(t.parentPath, t.parentID, map[string]any{"answerCount": store.Increment(-1)})
	} else if t.collection == types.ChatsPath {
		b.Update(types.ChatsPath, t.convID, map[string]any{"messageCount": store.Increment(-1)})
	}
	return errors.Wrapf(b.Commit(ctx), "delete %s/%s", path, id)
}
