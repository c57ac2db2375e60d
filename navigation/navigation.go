// Package navigation decides what a session is looking at: the channel or
// direct chat in the main pane and the optional thread beside it.
package navigation

import (
	"context"
	"sync"
	"time"

	"dabubble/directory"
	"dabubble/store"
	"dabubble/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

var ErrUnsupportedTarget = errors.New("navigation: messages cannot be opened as a chat view")

// chatConfirmTimeout bounds the wait for a freshly created chat to reach
// the chat directory.
const chatConfirmTimeout = 10 * time.Second

type Kind string

const (
	KindChannel       Kind = "channel"
	KindChat          Kind = "chat"
	KindThreadSet     Kind = "thread-set"
	KindThreadCleared Kind = "thread-cleared"
	KindNavigated     Kind = "navigated"
)

// State is a snapshot of what is on screen. At most one of Channel and Chat
// is set.
type State struct {
	Channel    *types.Channel `json:"channel,omitempty"`
	Chat       *types.Chat    `json:"chat,omitempty"`
	Thread     *types.Message `json:"thread,omitempty"`
	ThreadPath string         `json:"threadPath,omitempty"`
	IsMember   bool           `json:"isMember"`
}

// MessagesPath is the collection shown in the main pane, or "".
func (s State) MessagesPath() string {
	switch {
	case s.Channel != nil:
		return types.ChannelMessagesPath(s.Channel.ID)
	case s.Chat != nil:
		return types.ChatMessagesPath(s.Chat.ID)
	}
	return ""
}

type Event struct {
	Kind  Kind  `json:"kind"`
	State State `json:"state"`
}

type Coordinator struct {
	st       *store.Store
	userID   string
	users    directory.View[types.User]
	channels directory.View[types.Channel]
	chats    directory.View[types.Chat]
	now      func() time.Time

	mu        sync.RWMutex
	state     State
	observers map[chan Event]struct{}
}

func New(st *store.Store, dirs *directory.Directories, userID string) *Coordinator {
	return &Coordinator{
		st:        st,
		userID:    userID,
		users:     dirs.Users,
		channels:  dirs.Channels,
		chats:     dirs.Chats,
		now:       time.Now,
		observers: make(map[chan Event]struct{}),
	}
}

func (c *Coordinator) UserID() string {
	return c.userID
}

// Subscribe registers an observer. Events are dropped for an observer whose
// buffer is full; call unsubscribe when done.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	c.mu.Lock()
	c.observers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, ch)
			c.mu.Unlock()
		})
	}
}

// emitLocked fans ev out; c.mu must be held.
func (c *Coordinator) emitLocked(kind Kind) {
	ev := Event{Kind: kind, State: c.state}
	for ch := range c.observers {
		select {
		case ch <- ev:
		default:
			jww.WARN.Printf("navigation %s: observer full, dropped %s event", c.userID, kind)
		}
	}
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsMember reports whether the current user belongs to the active
// conversation.
func (c *Coordinator) IsMember() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.IsMember
}

// OpenDefault shows the default channel. It is a no-op when none exists.
func (c *Coordinator) OpenDefault(ctx context.Context) error {
	ch, ok := directory.DefaultChannel(c.channels)
	if !ok {
		jww.DEBUG.Printf("navigation %s: no default channel", c.userID)
		return nil
	}
	return c.SetChatViewObject(ctx, ch)
}

// SetChatViewObject shows a channel or chat. A user target opens the
// direct chat with that user, creating it first when needed. Any open
// thread is closed.
func (c *Coordinator) SetChatViewObject(ctx context.Context, target types.ViewObject) error {
	err := types.VisitView(target, types.ViewVisitor[error]{
		Channel: func(ch types.Channel) error {
			if fresh, ok := c.channels.Get(ch.ID); ok {
				ch = fresh
			}
			c.adoptChannel(ch)
			return nil
		},
		Chat: func(chat types.Chat) error {
			if fresh, ok := c.chats.Get(chat.ID); ok {
				chat = fresh
			}
			c.adoptChat(chat)
			return nil
		},
		User: func(u types.User) error {
			chat, err := c.chatWith(ctx, u.ID)
			if err != nil {
				return err
			}
			c.adoptChat(chat)
			return nil
		},
		Message: func(types.Message) error {
			return ErrUnsupportedTarget
		},
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.emitLocked(KindNavigated)
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) adoptChannel(ch types.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeThreadLocked()
	c.state.Channel = &ch
	c.state.Chat = nil
	c.state.IsMember = ch.HasMember(c.userID)
	c.emitLocked(KindChannel)
}

func (c *Coordinator) adoptChat(chat types.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeThreadLocked()
	c.state.Channel = nil
	c.state.Chat = &chat
	c.state.IsMember = chat.Involves(c.userID)
	c.emitLocked(KindChat)
}

func (c *Coordinator) closeThreadLocked() {
	if c.state.Thread == nil {
		return
	}
	c.state.Thread = nil
	c.state.ThreadPath = ""
	c.emitLocked(KindThreadCleared)
}

// chatWith returns the direct chat between the current user and otherID.
// A missing chat is created and returned once the chat directory holds it.
func (c *Coordinator) chatWith(ctx context.Context, otherID string) (types.Chat, error) {
	if chat, ok := directory.ChatBetween(c.chats, c.userID, otherID); ok {
		return chat, nil
	}

	chat := types.Chat{
		ID:        uuid.NewString(),
		MemberIDs: []string{c.userID, otherID},
		CreatedAt: c.now().UTC(),
	}
	b := c.st.Batch().
		Set(types.ChatsPath, chat.ID, chat).
		Update(types.UsersPath, c.userID, map[string]any{"chatIds": store.ArrayUnion(chat.ID)})
	if otherID != c.userID {
		b.Update(types.UsersPath, otherID, map[string]any{"chatIds": store.ArrayUnion(chat.ID)})
	}
	if err := b.Commit(ctx); err != nil {
		return types.Chat{}, errors.Wrapf(err, "create chat with %s", otherID)
	}
	jww.INFO.Printf("navigation %s: created chat %s with %s", c.userID, chat.ID, otherID)

	waitCtx, cancel := context.WithTimeout(ctx, chatConfirmTimeout)
	defer cancel()
	confirmed, err := c.chats.WaitFor(waitCtx, chat.ID)
	if err != nil {
		return types.Chat{}, errors.Wrapf(err, "confirm chat %s", chat.ID)
	}
	return confirmed, nil
}

// SetThreadViewObject opens the thread of m. Messages that cannot be
// answered are ignored and false is returned.
func (c *Coordinator) SetThreadViewObject(m types.Message) bool {
	if !m.Answerable {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Thread = &m
	c.state.ThreadPath = m.AnswersPath()
	c.emitLocked(KindThreadSet)
	return true
}

func (c *Coordinator) ClearThreadViewObject() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Thread = nil
	c.state.ThreadPath = ""
	c.emitLocked(KindThreadCleared)
}

// ChatPartnerAsUser returns the other member of the active chat, or the
// current user for a self chat.
func (c *Coordinator) ChatPartnerAsUser() (types.User, bool) {
	c.mu.RLock()
	chat := c.state.Chat
	c.mu.RUnlock()
	if chat == nil {
		return types.User{}, false
	}
	partnerID, ok := chat.Partner(c.userID)
	if !ok {
		return types.User{}, false
	}
	return c.users.Get(partnerID)
}

// SearchContext is the search restriction token for the active view:
// "in:#name" for a channel, "in:@name" for a chat, "" otherwise.
func (c *Coordinator) SearchContext() string {
	st := c.State()
	switch {
	case st.Channel != nil:
		return "in:#" + st.Channel.Name
	case st.Chat != nil:
		if partner, ok := c.ChatPartnerAsUser(); ok {
			return "in:@" + partner.Name
		}
	}
	return ""
}
