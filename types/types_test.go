package types

import (
	"testing"
	"time"
)

func kindOf(v ViewObject) string {
	return VisitView(v, ViewVisitor[string]{
		Channel: func(Channel) string { return "channel" },
		Chat:    func(Chat) string { return "chat" },
		Message: func(Message) string { return "message" },
		User:    func(User) string { return "user" },
	})
}

func TestVisitView(t *testing.T) {
	cases := []struct {
		v    ViewObject
		want string
	}{
		{Channel{ID: "c"}, "channel"},
		{&Chat{ID: "d"}, "chat"},
		{Message{ID: "m"}, "message"},
		{&User{ID: "u"}, "user"},
	}
	for _, tc := range cases {
		if got := kindOf(tc.v); got != tc.want {
			t.Errorf("%T: got %s, want %s", tc.v, got, tc.want)
		}
	}
}

func TestPaths(t *testing.T) {
	msgs := ChannelMessagesPath("general")
	if msgs != "channels/general/messages" {
		t.Fatalf("unexpected path %s", msgs)
	}
	answers := AnswersPath(msgs, "m1")
	parent, id, ok := ParentOf(answers)
	if !ok || parent != msgs || id != "m1" {
		t.Fatalf("ParentOf(%s) = %s, %s, %v", answers, parent, id, ok)
	}
	if _, _, ok := ParentOf(msgs); ok {
		t.Fatal("messages path is not an answers path")
	}

	coll, conv, ok := ConversationOf(ChatMessagesPath("x"))
	if !ok || coll != ChatsPath || conv != "x" {
		t.Fatalf("ConversationOf chat = %s, %s, %v", coll, conv, ok)
	}
	if _, _, ok := ConversationOf(answers); ok {
		t.Fatal("answers path has no direct conversation")
	}
	if _, _, ok := ConversationOf("users/u/messages"); ok {
		t.Fatal("users are not conversations")
	}
}

func TestChatPartner(t *testing.T) {
	chat := Chat{MemberIDs: []string{"a", "b"}}
	if p, ok := chat.Partner("a"); !ok || p != "b" {
		t.Fatalf("partner of a = %s, %v", p, ok)
	}
	if _, ok := chat.Partner("z"); ok {
		t.Fatal("outsider has no partner")
	}
	if !chat.Pairs("b", "a") || chat.Pairs("a", "a") {
		t.Fatal("Pairs mismatch")
	}

	self := Chat{MemberIDs: []string{"a", "a"}}
	if !self.IsSelfChat() {
		t.Fatal("expected self chat")
	}
	if p, ok := self.Partner("a"); !ok || p != "a" {
		t.Fatalf("self partner = %s, %v", p, ok)
	}
}

func TestMessageDay(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	m := Message{CreatedAt: time.Date(2024, 1, 2, 0, 30, 0, 0, loc)}
	if m.Day() != "2024-01-01" {
		t.Fatalf("day should be taken in UTC, got %s", m.Day())
	}
}
