package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dabubble/store"
	"dabubble/store/storetest"
	"dabubble/types"

	"github.com/gin-gonic/gin"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(storetest.New(t), "test-secret")
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		ok   bool
	}{
		{"name ok", ValidateName("Anna-Lena Müller"), true},
		{"name too short", ValidateName("A"), false},
		{"name digits", ValidateName("R2D2"), false},
		{"name too long", ValidateName(strings.Repeat("a", 31)), false},
		{"email ok", ValidateEmail("anna@example.com"), true},
		{"email bad", ValidateEmail("anna@"), false},
		{"password ok", ValidatePassword("secret"), true},
		{"password short", ValidatePassword("12345"), false},
	}
	for _, tc := range cases {
		var verr *ValidationError
		if tc.ok && tc.err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, tc.err)
		}
		if !tc.ok && !errors.As(tc.err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, tc.err)
		}
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	var joined []string
	s.OnRegister = func(_ context.Context, u types.User) error {
		joined = append(joined, u.ID)
		return nil
	}

	session, err := s.Register(ctx, "Anna", "Anna@Example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if session.User.Email != "anna@example.com" || session.User.Provider != types.ProviderPassword {
		t.Fatalf("unexpected user %+v", session.User)
	}
	if len(joined) != 1 || joined[0] != session.User.ID {
		t.Fatalf("OnRegister not called for new user: %v", joined)
	}

	if _, err := s.Register(ctx, "Other", "anna@example.com", "secret2"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if _, err := s.Register(ctx, "A", "x@example.com", "secret2"); err == nil {
		t.Fatalf("expected validation error")
	}

	if _, err := s.Login(ctx, "anna@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if _, err := s.Login(ctx, "nobody@example.com", "secret1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	login, err := s.Login(ctx, "anna@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := s.Parse(login.Token)
	if err != nil || claims.UserID != session.User.ID {
		t.Fatalf("token does not identify user: %+v %v", claims, err)
	}

	if err := s.Logout(ctx, claims.UserID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	u, err := store.GetAs[types.User](ctx, s.st, types.UsersPath, claims.UserID)
	if err != nil || u.Online {
		t.Fatalf("expected user offline after logout: %+v %v", u, err)
	}
}

func TestGuestLogin(t *testing.T) {
	s := newService(t)
	session, err := s.GuestLogin(context.Background())
	if err != nil {
		t.Fatalf("guest login: %v", err)
	}
	if !session.User.Guest || session.User.Name != GuestName || session.User.Provider != types.ProviderGuest {
		t.Fatalf("unexpected guest %+v", session.User)
	}
	claims, err := s.Parse(session.Token)
	if err != nil || !claims.Guest {
		t.Fatalf("guest claim missing: %+v %v", claims, err)
	}
}

func TestChangeEmailRequiresRecentLogin(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	session, err := s.Register(ctx, "Anna", "anna@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Register(ctx, "Ben", "ben@example.com", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	claims, _ := s.Parse(session.Token)

	later := time.Now().Add(RecentLogin + time.Minute)
	s.now = func() time.Time { return later }
	if err := s.ChangeEmail(ctx, claims, "new@example.com"); !errors.Is(err, ErrRequiresRecentLogin) {
		t.Fatalf("expected ErrRequiresRecentLogin, got %v", err)
	}
	if Message(err) == genericMessage {
		t.Fatalf("recent login error should map to a specific message")
	}
	s.now = time.Now

	if _, err := s.Reauthenticate(ctx, claims.UserID, "wrong"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	fresh, err := s.Reauthenticate(ctx, claims.UserID, "secret1")
	if err != nil {
		t.Fatalf("reauthenticate: %v", err)
	}
	claims, _ = s.Parse(fresh)

	if err := s.ChangeEmail(ctx, claims, "ben@example.com"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if err := s.ChangeEmail(ctx, claims, "new@example.com"); err != nil {
		t.Fatalf("change email: %v", err)
	}
	if _, err := s.Login(ctx, "new@example.com", "secret1"); err != nil {
		t.Fatalf("login with new email: %v", err)
	}

	if err := s.ChangePassword(ctx, claims, "another1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := s.Login(ctx, "new@example.com", "another1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestMessageMapsCodes(t *testing.T) {
	wrapped := errors.New("firebase: Error (auth/invalid-credential).")
	if got := Message(wrapped); got != "Email address or password is incorrect." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(ErrEmailInUse); got != "This email address is already registered." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(errors.New("disk full")); got != genericMessage {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(ValidatePassword("123")); !strings.Contains(got, "6 characters") {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newService(t)
	session, err := s.GuestLogin(context.Background())
	if err != nil {
		t.Fatalf("guest login: %v", err)
	}

	r := gin.New()
	r.GET("/me", s.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, ClaimsFrom(c).UserID)
	})

	cases := []struct {
		name   string
		header string
		query  string
		code   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + session.Token, "", http.StatusOK},
		{"query", "", "?token=" + session.Token, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me"+tc.query, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.code, rec.Code)
		}
		if tc.code == http.StatusOK && rec.Body.String() != session.User.ID {
			t.Errorf("%s: unexpected body %q", tc.name, rec.Body.String())
		}
	}
}
