package main

import (
	"net/http"

	"dabubble/auth"
	"dabubble/conversations"
	"dabubble/directory"
	"dabubble/store"
	"dabubble/types"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// conversationError writes the response for a failed conversation write.
func conversationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversations.ErrNotMember), errors.Is(err, conversations.ErrNotAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, conversations.ErrChannelNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, conversations.ErrInvalidName),
		errors.Is(err, conversations.ErrEmptyMessage),
		errors.Is(err, conversations.ErrNotAnswerable),
		errors.Is(err, conversations.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		jww.ERROR.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
	}
}

func (s *Server) handleListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, s.dirs.Users.List())
}

// handleListChannels returns the channels the caller belongs to.
func (s *Server) handleListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, directory.ChannelsOf(s.dirs.Channels, auth.ClaimsFrom(c).UserID))
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Description string   `json:"description"`
		MemberIDs   []string `json:"memberIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	ch, err := s.conv.CreateChannel(c.Request.Context(), auth.ClaimsFrom(c).UserID, req.Name, req.Description, req.MemberIDs...)
	if err != nil {
		conversationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (s *Server) handleEditChannel(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	err := s.conv.EditChannel(c.Request.Context(), auth.ClaimsFrom(c).UserID, c.Param("id"), req.Name, req.Description)
	if err != nil {
		conversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Channel updated"})
}

func (s *Server) handleAddMembers(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"userIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userIds list is empty"})
		return
	}

	ch, err := store.GetAs[types.Channel](c.Request.Context(), s.st, types.ChannelsPath, c.Param("id"))
	if err != nil {
		conversationError(c, err)
		return
	}
	if !ch.HasMember(auth.ClaimsFrom(c).UserID) {
		conversationError(c, conversations.ErrNotMember)
		return
	}
	if err := s.conv.AddMembers(c.Request.Context(), ch.ID, req.UserIDs...); err != nil {
		conversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Members added"})
}

func (s *Server) handleLeaveChannel(c *gin.Context) {
	if err := s.conv.LeaveChannel(c.Request.Context(), c.Param("id"), auth.ClaimsFrom(c).UserID); err != nil {
		conversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left channel"})
}

func (s *Server) handleMarkChatRead(c *gin.Context) {
	if err := s.conv.MarkChatRead(c.Request.Context(), auth.ClaimsFrom(c).UserID, c.Param("id")); err != nil {
		conversationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRecentSearches(c *gin.Context) {
	list, err := s.recents.List(c.Request.Context(), auth.ClaimsFrom(c).UserID)
	if err != nil {
		jww.ERROR.Printf("recent searches: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recentSearches": list})
}
