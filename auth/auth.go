// Package auth registers users, checks passwords and issues the session
// tokens that guard the HTTP and websocket API.
package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"dabubble/store"
	"dabubble/types"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenTTL is the lifetime of a session token.
	TokenTTL = 28 * 24 * time.Hour
	// RecentLogin is how old a session may be for email or password
	// changes.
	RecentLogin = 5 * time.Minute

	GuestName = "Gast"
)

// Claims is the payload of a session token.
type Claims struct {
	UserID string `json:"uid"`
	Guest  bool   `json:"guest,omitempty"`
	jwt.StandardClaims
}

// Session is a signed token together with the user it belongs to.
type Session struct {
	Token string     `json:"auth_token"`
	User  types.User `json:"user"`
}

type credential struct {
	UserID       string `db:"user_id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
}

type Service struct {
	st     *store.Store
	secret []byte
	now    func() time.Time

	// OnRegister runs after an account or guest is created, before the
	// session is returned.
	OnRegister func(ctx context.Context, u types.User) error
}

func NewService(st *store.Store, secret string) *Service {
	return &Service{st: st, secret: []byte(secret), now: time.Now}
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hashed), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Register creates a password account and signs it in.
func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if err := ValidateName(name); err != nil {
		return Session{}, err
	}
	if err := ValidateEmail(email); err != nil {
		return Session{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return Session{}, err
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	u := types.User{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		Avatar:     "avatar1",
		Online:     true,
		Provider:   types.ProviderPassword,
		CreatedAt:  now,
		LastSeenAt: now,
		ChatIDs:    []string{},
	}

	err = s.st.Batch().
		Set(types.UsersPath, u.ID, u).
		Exec(`INSERT INTO credentials (user_id, email, password_hash) VALUES (?, ?, ?)`, u.ID, email, hashed).
		Commit(ctx)
	if isUniqueViolation(err) {
		return Session{}, ErrEmailInUse
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "register")
	}
	jww.INFO.Printf("auth: registered %s", u.ID)
	return s.created(ctx, u)
}

// GuestLogin creates a throwaway guest account.
func (s *Service) GuestLogin(ctx context.Context) (Session, error) {
	now := s.now().UTC()
	u := types.User{
		ID:         uuid.NewString(),
		Name:       GuestName,
		Avatar:     "avatar1",
		Online:     true,
		Guest:      true,
		Provider:   types.ProviderGuest,
		CreatedAt:  now,
		LastSeenAt: now,
		ChatIDs:    []string{},
	}
	if err := s.st.Set(ctx, types.UsersPath, u.ID, u); err != nil {
		return Session{}, errors.Wrap(err, "guest login")
	}
	jww.INFO.Printf("auth: guest %s signed in", u.ID)
	return s.created(ctx, u)
}

func (s *Service) created(ctx context.Context, u types.User) (Session, error) {
	if s.OnRegister != nil {
		if err := s.OnRegister(ctx, u); err != nil {
			return Session{}, err
		}
	}
	token, err := s.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, User: u}, nil
}

func (s *Service) credentialByEmail(ctx context.Context, email string) (credential, error) {
	var c credential
	err := s.st.DB().GetContext(ctx, &c,
		`SELECT user_id, email, password_hash FROM credentials WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrUserNotFound
	}
	return c, errors.Wrap(err, "load credentials")
}

func (s *Service) credentialByUser(ctx context.Context, userID string) (credential, error) {
	var c credential
	err := s.st.DB().GetContext(ctx, &c,
		`SELECT user_id, email, password_hash FROM credentials WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrUserNotFound
	}
	return c, errors.Wrap(err, "load credentials")
}

// Login checks a password and marks the user online.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return Session{}, err
	}
	c, err := s.credentialByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredential
	}

	now := s.now().UTC()
	err = s.st.Update(ctx, types.UsersPath, c.UserID, map[string]any{
		"online":     true,
		"lastSeenAt": now,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "login")
	}
	u, err := store.GetAs[types.User](ctx, s.st, types.UsersPath, c.UserID)
	if err != nil {
		return Session{}, err
	}
	token, err := s.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, User: u}, nil
}

// Logout marks the user offline.
func (s *Service) Logout(ctx context.Context, userID string) error {
	err := s.st.Update(ctx, types.UsersPath, userID, map[string]any{"online": false})
	return errors.Wrap(err, "logout")
}

// Reauthenticate confirms the password of a signed-in user and returns a
// fresh token that counts as a recent login.
func (s *Service) Reauthenticate(ctx context.Context, userID, password string) (string, error) {
	c, err := s.credentialByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredential
	}
	u, err := store.GetAs[types.User](ctx, s.st, types.UsersPath, userID)
	if err != nil {
		return "", err
	}
	return s.Issue(u)
}

func (s *Service) requireRecent(claims *Claims) error {
	issued := time.Unix(claims.IssuedAt, 0)
	if s.now().Sub(issued) > RecentLogin {
		return ErrRequiresRecentLogin
	}
	return nil
}

// ChangeEmail moves the account to another address. The session must be a
// recent login.
func (s *Service) ChangeEmail(ctx context.Context, claims *Claims, email string) error {
	email = normalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := s.requireRecent(claims); err != nil {
		return err
	}
	if _, err := s.credentialByUser(ctx, claims.UserID); err != nil {
		return err
	}

	err := s.st.Batch().
		Update(types.UsersPath, claims.UserID, map[string]any{"email": email}).
		Exec(`UPDATE credentials SET email = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`, email, claims.UserID).
		Commit(ctx)
	if isUniqueViolation(err) {
		return ErrEmailInUse
	}
	return errors.Wrap(err, "change email")
}

// ChangePassword replaces the password. The session must be a recent login.
func (s *Service) ChangePassword(ctx context.Context, claims *Claims, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if err := s.requireRecent(claims); err != nil {
		return err
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}
	res, err := s.st.DB().ExecContext(ctx,
		`UPDATE credentials SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		hashed, claims.UserID)
	if err != nil {
		return errors.Wrap(err, "change password")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Issue signs a session token for u.
func (s *Service) Issue(u types.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: u.ID,
		Guest:  u.Guest,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(TokenTTL).Unix(),
			Subject:   u.ID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return token, errors.Wrap(err, "sign token")
}

// Parse verifies a session token.
func (s *Service) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
