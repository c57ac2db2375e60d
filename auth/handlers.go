package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// status picks the HTTP status for an auth failure.
func status(err error) int {
	var verr *ValidationError
	var aerr *Error
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmailInUse):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrRequiresRecentLogin):
		return http.StatusUnauthorized
	case errors.As(err, &aerr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		jww.ERROR.Printf("auth %s: %v", c.FullPath(), err)
	}
	c.JSON(code, gin.H{"error": Message(err)})
}

func (s *Service) HandleRegister(c *gin.Context) {
	var json struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	session, err := s.Register(c.Request.Context(), json.Name, json.Email, json.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Service) HandleLogin(c *gin.Context) {
	var json struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	session, err := s.Login(c.Request.Context(), json.Email, json.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Service) HandleGuestLogin(c *gin.Context) {
	session, err := s.GuestLogin(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Service) HandleLogout(c *gin.Context) {
	claims := ClaimsFrom(c)
	if err := s.Logout(c.Request.Context(), claims.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

func (s *Service) HandleReauthenticate(c *gin.Context) {
	var json struct {
		Password string `json:"password"`
	}
	if err := c.BindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	token, err := s.Reauthenticate(c.Request.Context(), ClaimsFrom(c).UserID, json.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_token": token})
}

func (s *Service) HandleChangeEmail(c *gin.Context) {
	var json struct {
		Email string `json:"email"`
	}
	if err := c.BindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	if err := s.ChangeEmail(c.Request.Context(), ClaimsFrom(c), json.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email updated"})
}

func (s *Service) HandleChangePassword(c *gin.Context) {
	var json struct {
		Password string `json:"password"`
	}
	if err := c.BindJSON(&json); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data"})
		return
	}

	if err := s.ChangePassword(c.Request.Context(), ClaimsFrom(c), json.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}
