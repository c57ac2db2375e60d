package main

import (
	"time"

	"dabubble/conversations"
	"dabubble/navigation"
	"dabubble/search"
	"dabubble/store"
	"dabubble/types"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

var conversationSentinels = []error{
	conversations.ErrNotMember,
	conversations.ErrNotAuthor,
	conversations.ErrNotAnswerable,
	conversations.ErrEmptyMessage,
	conversations.ErrInvalidPath,
	navigation.ErrUnsupportedTarget,
	search.ErrUnknownContext,
}

// userError turns err into text fit for the client. Unexpected failures
// are logged and reported generically.
func userError(op string, err error) string {
	for _, sentinel := range conversationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return "Not found"
	}
	jww.ERROR.Printf("%s: %v", op, err)
	return "Failed to " + op
}

func (sess *Session) dispatch(wsMsg WSMessage) {
	switch wsMsg.Type {
	case "set_chat_view":
		data, err := decodeData[SetChatView](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid chat view")
			return
		}
		sess.setChatView(data)
	case "set_thread_view":
		data, err := decodeData[MessageRef](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid message reference")
			return
		}
		sess.setThreadView(data)
	case "clear_thread_view":
		sess.nav.ClearThreadViewObject()
	case "search_input":
		data, err := decodeData[SearchInput](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid search")
			return
		}
		token, query := search.SplitContext(data.Query)
		if token == "" && data.UseContext {
			token = sess.nav.SearchContext()
		}
		sess.search.Input(query, token)
	case "search_commit":
		data, err := decodeData[SearchCommit](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid search")
			return
		}
		list, err := sess.srv.recents.Add(sess.ctx, sess.UserID, data.Query)
		if err != nil {
			sess.sendError(userError("save search", err))
			return
		}
		sess.safeSend(WSMessage{Type: "recent_searches", Data: RecentSearches{RecentSearches: list}})
	case "get_recent_searches":
		list, err := sess.srv.recents.List(sess.ctx, sess.UserID)
		if err != nil {
			sess.sendError(userError("load recent searches", err))
			return
		}
		sess.safeSend(WSMessage{Type: "recent_searches", Data: RecentSearches{RecentSearches: list}})
	case "jump_to_date":
		data, err := decodeData[JumpToDate](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid date")
			return
		}
		sess.jumpToDate(data)
	case "post_message":
		data, err := decodeData[PostMessage](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid message")
			return
		}
		sess.postMessage(data)
	case "edit_message":
		data, err := decodeData[EditMessage](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid message")
			return
		}
		if len(data.Content) > maxContentBytes {
			sess.sendError("Message too long")
			return
		}
		if err := sess.srv.conv.EditMessage(sess.ctx, sess.UserID, data.Path, data.ID, data.Content); err != nil {
			sess.sendError(userError("edit message", err))
		}
	case "toggle_reaction":
		data, err := decodeData[ToggleReaction](wsMsg.Data)
		if err != nil || data.Reaction == "" {
			sess.sendError("Invalid reaction")
			return
		}
		if _, err := sess.srv.conv.ToggleReaction(sess.ctx, sess.UserID, data.Path, data.ID, data.Reaction); err != nil {
			sess.sendError(userError("react", err))
		}
	case "delete_message":
		data, err := decodeData[MessageRef](wsMsg.Data)
		if err != nil {
			sess.sendError("Invalid message reference")
			return
		}
		if err := sess.srv.conv.DeleteMessage(sess.ctx, sess.UserID, data.Path, data.ID); err != nil {
			sess.sendError(userError("delete message", err))
		}
	case "heartbeat":
		if err := sess.srv.profile.Heartbeat(sess.ctx, sess.UserID); err != nil {
			jww.WARN.Printf("session %s: heartbeat: %v", sess.UserID, err)
		}
	default:
		sess.sendError("Unknown message type: " + wsMsg.Type)
	}
}

func (sess *Session) setChatView(data SetChatView) {
	dirs := sess.srv.dirs
	var (
		target types.ViewObject
		ok     bool
	)
	switch data.Kind {
	case "channel":
		var ch types.Channel
		ch, ok = dirs.Channels.Get(data.ID)
		target = ch
	case "chat":
		var chat types.Chat
		chat, ok = dirs.Chats.Get(data.ID)
		target = chat
	case "user":
		var u types.User
		u, ok = dirs.Users.Get(data.ID)
		target = u
	default:
		sess.sendError("Unknown view kind: " + data.Kind)
		return
	}
	if !ok {
		sess.sendError("Not found")
		return
	}
	if err := sess.nav.SetChatViewObject(sess.ctx, target); err != nil {
		sess.sendError(userError("open conversation", err))
	}
}

func (sess *Session) setThreadView(ref MessageRef) {
	if ref.Path != sess.nav.State().MessagesPath() {
		sess.sendError("Message is not in the open conversation")
		return
	}
	m, err := store.GetAs[types.Message](sess.ctx, sess.srv.st, ref.Path, ref.ID)
	if err != nil {
		sess.sendError(userError("open thread", err))
		return
	}
	if !sess.nav.SetThreadViewObject(m) {
		sess.sendError(conversations.ErrNotAnswerable.Error())
	}
}

// parseJumpDate accepts a calendar day, meaning the end of that day, or a
// full timestamp.
func parseJumpDate(raw string) (time.Time, error) {
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	return at, errors.Wrapf(err, "parse date %q", raw)
}

func (sess *Session) jumpToDate(data JumpToDate) {
	at, err := parseJumpDate(data.Date)
	if err != nil {
		sess.sendError("Invalid date")
		return
	}
	path := sess.nav.State().MessagesPath()
	if path == "" {
		sess.sendError("No conversation open")
		return
	}
	m, found, err := sess.finder.NearestMessage(sess.ctx, path, at)
	if err != nil {
		sess.sendError(userError("jump to date", err))
		return
	}
	res := JumpResult{Date: at, Found: found}
	if found {
		res.Message = &m
	}
	sess.safeSend(WSMessage{Type: "jump_result", Data: res})
}

func (sess *Session) postMessage(data PostMessage) {
	if !sess.posts.allow(time.Now()) {
		sess.sendError("You are sending messages too quickly")
		return
	}
	if len(data.Content) > maxContentBytes {
		sess.sendError("Message too long")
		return
	}
	state := sess.nav.State()
	path := state.MessagesPath()
	if data.Thread {
		path = state.ThreadPath
	}
	if path == "" {
		sess.sendError("No conversation open")
		return
	}
	if _, err := sess.srv.conv.PostMessage(sess.ctx, sess.UserID, path, data.Content, data.Attachments); err != nil {
		sess.sendError(userError("send message", err))
	}
}
