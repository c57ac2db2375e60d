// Package profile handles presence and profile edits, including avatar
// uploads.
package profile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dabubble/auth"
	"dabubble/store"
	"dabubble/types"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

const (
	MaxAvatarSize = 2 << 20
	// AvatarURLPrefix is where uploaded avatars are served from.
	AvatarURLPrefix = "/avatars/"
)

var (
	ErrAvatarTooLarge  = errors.New("avatar exceeds 2 MiB")
	ErrAvatarType      = errors.New("avatar must be a png, jpeg, gif or webp image")
	ErrUnknownSelector = errors.New("unknown avatar")
)

var allowedAvatarTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// Selectors are the built-in avatars a user can pick without uploading.
var Selectors = []string{"avatar1", "avatar2", "avatar3", "avatar4", "avatar5", "avatar6"}

type Service struct {
	st        *store.Store
	avatarDir string
	now       func() time.Time
}

func NewService(st *store.Store, avatarDir string) *Service {
	return &Service{st: st, avatarDir: avatarDir, now: time.Now}
}

// Heartbeat records activity. It also lifts a pending guest cleanup mark.
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	err := s.st.Update(ctx, types.UsersPath, userID, map[string]any{
		"online":           true,
		"lastSeenAt":       s.now().UTC(),
		"markedToDeleteAt": nil,
	})
	return errors.Wrapf(err, "heartbeat %s", userID)
}

func validAvatar(avatar string) bool {
	if strings.HasPrefix(avatar, AvatarURLPrefix) {
		return !strings.Contains(strings.TrimPrefix(avatar, AvatarURLPrefix), "/")
	}
	for _, sel := range Selectors {
		if avatar == sel {
			return true
		}
	}
	return false
}

// Edit changes the display name and avatar. An empty avatar keeps the
// current one.
func (s *Service) Edit(ctx context.Context, userID, name, avatar string) (types.User, error) {
	name = strings.TrimSpace(name)
	if err := auth.ValidateName(name); err != nil {
		return types.User{}, err
	}
	fields := map[string]any{"name": name}
	if avatar != "" {
		if !validAvatar(avatar) {
			return types.User{}, ErrUnknownSelector
		}
		fields["avatar"] = avatar
	}
	if err := s.st.Update(ctx, types.UsersPath, userID, fields); err != nil {
		return types.User{}, errors.Wrapf(err, "edit profile %s", userID)
	}
	return store.GetAs[types.User](ctx, s.st, types.UsersPath, userID)
}

// UploadAvatar stores an image and makes it the user's avatar. The
// previous upload, if any, is removed.
func (s *Service) UploadAvatar(ctx context.Context, userID string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarSize+1))
	if err != nil {
		return "", errors.Wrap(err, "read avatar")
	}
	if len(data) > MaxAvatarSize {
		return "", ErrAvatarTooLarge
	}
	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), allowedAvatarTypes...) {
		return "", ErrAvatarType
	}

	prev, err := store.GetAs[types.User](ctx, s.st, types.UsersPath, userID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.avatarDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create avatar dir")
	}
	name := userID + "-" + uuid.NewString() + mtype.Extension()
	if err := os.WriteFile(filepath.Join(s.avatarDir, name), data, 0o644); err != nil {
		return "", errors.Wrap(err, "write avatar")
	}

	url := AvatarURLPrefix + name
	if err := s.st.Update(ctx, types.UsersPath, userID, map[string]any{"avatar": url}); err != nil {
		os.Remove(filepath.Join(s.avatarDir, name))
		return "", errors.Wrapf(err, "set avatar %s", userID)
	}

	if old, ok := strings.CutPrefix(prev.Avatar, AvatarURLPrefix); ok && old != "" {
		if err := os.Remove(filepath.Join(s.avatarDir, filepath.Base(old))); err != nil && !os.IsNotExist(err) {
			jww.WARN.Printf("profile %s: remove old avatar: %v", userID, err)
		}
	}
	return url, nil
}
