package types

import "strings"

const (
	UsersPath    = "users"
	ChannelsPath = "channels"
	ChatsPath    = "chats"
)

func ChannelMessagesPath(channelID string) string {
	return ChannelsPath + "/" + channelID + "/messages"
}

func ChatMessagesPath(chatID string) string {
	return ChatsPath + "/" + chatID + "/messages"
}

func AnswersPath(messagesPath, messageID string) string {
	return messagesPath + "/" + messageID + "/answers"
}

// ParentOf splits an answers path into the parent message's collection and
// id. ok is false for paths that are not thread answer collections.
func ParentOf(answersPath string) (messagesPath, messageID string, ok bool) {
	rest, found := strings.CutSuffix(answersPath, "/answers")
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, "/")
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// ConversationOf returns the top level document path ("channels/x" or
// "chats/y") that owns a message collection path.
func ConversationOf(messagesPath string) (collection, id string, ok bool) {
	parts := strings.Split(messagesPath, "/")
	if len(parts) != 3 || parts[2] != "messages" {
		return "", "", false
	}
	if parts[0] != ChannelsPath && parts[0] != ChatsPath {
		return "", "", false
	}
	return parts[0], parts[1], true
}
