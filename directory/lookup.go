package directory

import (
	"strings"

	"dabubble/types"
)

// ChatBetween finds the direct chat connecting a and b, if one exists.
func ChatBetween(chats View[types.Chat], a, b string) (types.Chat, bool) {
	return chats.Find(func(c types.Chat) bool { return c.Pairs(a, b) })
}

// ChatsOf lists every chat userID takes part in.
func ChatsOf(chats View[types.Chat], userID string) []types.Chat {
	return chats.Filter(func(c types.Chat) bool { return c.Involves(userID) })
}

// ChannelByName matches names case-insensitively.
func ChannelByName(channels View[types.Channel], name string) (types.Channel, bool) {
	return channels.Find(func(c types.Channel) bool { return strings.EqualFold(c.Name, name) })
}

func UserByName(users View[types.User], name string) (types.User, bool) {
	return users.Find(func(u types.User) bool { return strings.EqualFold(u.Name, name) })
}

func DefaultChannel(channels View[types.Channel]) (types.Channel, bool) {
	return channels.Find(func(c types.Channel) bool { return c.IsDefault })
}

// ChannelsOf lists the channels userID is a member of.
func ChannelsOf(channels View[types.Channel], userID string) []types.Channel {
	return channels.Filter(func(c types.Channel) bool { return c.HasMember(userID) })
}
