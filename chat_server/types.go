package main

import (
	"time"

	"dabubble/navigation"
	"dabubble/types"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ChatError struct {
	Content string `json:"content"`
}

// Client to server payloads.

type SetChatView struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type MessageRef struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

type SearchInput struct {
	Query      string `json:"query"`
	UseContext bool   `json:"useContext"`
}

type SearchCommit struct {
	Query string `json:"query"`
}

type JumpToDate struct {
	Date string `json:"date"`
}

type PostMessage struct {
	Content     string             `json:"content"`
	Attachments []types.Attachment `json:"attachments"`
	Thread      bool               `json:"thread"`
}

type EditMessage struct {
	MessageRef
	Content string `json:"content"`
}

type ToggleReaction struct {
	MessageRef
	Reaction string `json:"reaction"`
}

// Server pushes.

type NavigationUpdate struct {
	Kind          navigation.Kind  `json:"kind"`
	State         navigation.State `json:"state"`
	SearchContext string           `json:"searchContext"`
	Partner       *types.User      `json:"partner,omitempty"`
}

type MessagesUpdate struct {
	Path     string          `json:"path"`
	Messages []types.Message `json:"messages"`
	Days     []string        `json:"days"`
}

type RecentSearches struct {
	RecentSearches []string `json:"recentSearches"`
}

type JumpResult struct {
	Date    time.Time      `json:"date"`
	Found   bool           `json:"found"`
	Message *types.Message `json:"message,omitempty"`
}
