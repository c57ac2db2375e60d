package navigation

import (
	"context"
	"slices"

	"dabubble/directory"
)

// Follow keeps the active view in step with the directories until ctx
// ends: renamed or re-membered conversations are refreshed, and a deleted
// one falls back to the default channel. The watchers are registered
// before Follow returns; the returned channel closes when the loop exits.
func (c *Coordinator) Follow(ctx context.Context) <-chan struct{} {
	channelUpdates, stopChannels := c.channels.Watch()
	chatUpdates, stopChats := c.chats.Watch()
	c.refresh()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stopChannels()
		defer stopChats()
		for {
			select {
			case <-ctx.Done():
				return
			case <-channelUpdates:
			case <-chatUpdates:
			}
			c.refresh()
		}
	}()
	return done
}

func (c *Coordinator) refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state.Channel != nil:
		fresh, ok := c.channels.Get(c.state.Channel.ID)
		if !ok {
			c.fallBackLocked()
			return
		}
		if fresh.Name == c.state.Channel.Name &&
			fresh.Description == c.state.Channel.Description &&
			slices.Equal(fresh.MemberIDs, c.state.Channel.MemberIDs) {
			return
		}
		c.state.Channel = &fresh
		c.state.IsMember = fresh.HasMember(c.userID)
		c.emitLocked(KindChannel)

	case c.state.Chat != nil:
		fresh, ok := c.chats.Get(c.state.Chat.ID)
		if !ok {
			c.fallBackLocked()
			return
		}
		if fresh.MessageCount == c.state.Chat.MessageCount && fresh.UnreadCount == c.state.Chat.UnreadCount {
			return
		}
		c.state.Chat = &fresh
		c.emitLocked(KindChat)
	}
}

func (c *Coordinator) fallBackLocked() {
	c.closeThreadLocked()
	c.state.Chat = nil
	c.state.Channel = nil
	c.state.IsMember = false
	kind := KindChat
	if def, ok := directory.DefaultChannel(c.channels); ok {
		c.state.Channel = &def
		c.state.IsMember = def.HasMember(c.userID)
		kind = KindChannel
	}
	c.emitLocked(kind)
	c.emitLocked(KindNavigated)
}
