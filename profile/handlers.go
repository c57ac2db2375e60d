package profile

import (
	"net/http"

	"dabubble/auth"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

func (s *Service) HandleHeartbeat(c *gin.Context) {
	if err := s.Heartbeat(c.Request.Context(), auth.ClaimsFrom(c).UserID); err != nil {
		jww.ERROR.Printf("heartbeat: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record presence"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) HandleEdit(c *gin.Context) {
	var json struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}
	if err := c.BindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	u, err := s.Edit(c.Request.Context(), auth.ClaimsFrom(c).UserID, json.Name, json.Avatar)
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, ErrUnknownSelector):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		jww.ERROR.Printf("edit profile: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
	default:
		c.JSON(http.StatusOK, u)
	}
}

func (s *Service) HandleUploadAvatar(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxAvatarSize+1<<16)
	file, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar file required"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar file unreadable"})
		return
	}
	defer f.Close()

	url, err := s.UploadAvatar(c.Request.Context(), auth.ClaimsFrom(c).UserID, f)
	switch {
	case errors.Is(err, ErrAvatarTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAvatarType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case err != nil:
		jww.ERROR.Printf("upload avatar: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store avatar"})
	default:
		c.JSON(http.StatusOK, gin.H{"avatar": url})
	}
}
