package types

import (
	"slices"
	"time"
)

type Provider string

const (
	ProviderPassword Provider = "password"
	ProviderGoogle   Provider = "google"
	ProviderGuest    Provider = "guest"
)

type User struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Avatar           string     `json:"avatar"`
	Online           bool       `json:"online"`
	Guest            bool       `json:"guest"`
	Provider         Provider   `json:"provider"`
	CreatedAt        time.Time  `json:"createdAt"`
	ChatIDs          []string   `json:"chatIds"`
	LastSeenAt       time.Time  `json:"lastSeenAt"`
	MarkedToDeleteAt *time.Time `json:"markedToDeleteAt,omitempty"`
}

type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorID   string    `json:"creatorId"`
	CreatedAt   time.Time `json:"createdAt"`
	MemberIDs   []string  `json:"memberIds"`
	IsDefault   bool      `json:"isDefault"`
}

// HasMember reports whether userID is in the channel's member list.
func (c Channel) HasMember(userID string) bool {
	return slices.Contains(c.MemberIDs, userID)
}

// Chat is a direct conversation between exactly two members. Both entries
// are the same user for a chat with oneself.
type Chat struct {
	ID           string    `json:"id"`
	MemberIDs    []string  `json:"memberIds"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
	UnreadCount  int       `json:"unreadCount"`
}

func (c Chat) IsSelfChat() bool {
	return len(c.MemberIDs) == 2 && c.MemberIDs[0] == c.MemberIDs[1]
}

func (c Chat) Involves(userID string) bool {
	return slices.Contains(c.MemberIDs, userID)
}

// Partner returns the member that is not userID, or userID itself for a
// self chat.
func (c Chat) Partner(userID string) (string, bool) {
	if len(c.MemberIDs) != 2 || !c.Involves(userID) {
		return "", false
	}
	if c.MemberIDs[0] == userID {
		return c.MemberIDs[1], true
	}
	return c.MemberIDs[0], true
}

// Pairs reports whether the chat connects exactly a and b.
func (c Chat) Pairs(a, b string) bool {
	if len(c.MemberIDs) != 2 {
		return false
	}
	return (c.MemberIDs[0] == a && c.MemberIDs[1] == b) ||
		(c.MemberIDs[0] == b && c.MemberIDs[1] == a)
}

type Reaction struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"userIds"`
}

type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

type Message struct {
	ID           string       `json:"id"`
	Path         string       `json:"path"`
	CreatorID    string       `json:"creatorId"`
	CreatedAt    time.Time    `json:"createdAt"`
	Content      string       `json:"content"`
	Reactions    []Reaction   `json:"reactions"`
	Edited       bool         `json:"edited"`
	EditedAt     *time.Time   `json:"editedAt,omitempty"`
	Attachments  []Attachment `json:"attachments"`
	Answerable   bool         `json:"answerable"`
	AnswerCount  int          `json:"answerCount"`
	LastAnswerAt *time.Time   `json:"lastAnswerAt,omitempty"`
}

// AnswersPath is the collection holding the thread answers of m.
func (m Message) AnswersPath() string {
	return AnswersPath(m.Path, m.ID)
}

// Day is the calendar day m was created on, in UTC.
func (m Message) Day() string {
	return m.CreatedAt.UTC().Format("2006-01-02")
}
