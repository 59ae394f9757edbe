package accounts

import (
	"context"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/blob"
)

// MaxAvatarBytes is the largest accepted avatar upload
const MaxAvatarBytes = 5 << 20

var avatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// AvatarUpload is an image read from a multipart form
type AvatarUpload struct {
	ContentType string
	Data        []byte
}

// ProfileUpdate changes the username, the avatar, or both. Nil fields are kept.
type ProfileUpdate struct {
	Username *string
	Avatar   *AvatarUpload
}

// UpdateProfile applies update. A new avatar is uploaded before the record is
// changed and the previous image is deleted afterwards.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*storage.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storage.AppError(err, "User not found")
	}

	username := u.Username
	if update.Username != nil {
		username = Normalize(*update.Username)
	}

	avatar := u.Avatar
	var uploaded *blob.Object
	if update.Avatar != nil {
		obj, err := s.uploadAvatar(ctx, userID, update.Avatar)
		if err != nil {
			return nil, err
		}
		uploaded = &obj
		avatar = storage.Avatar{URL: obj.URL, Ref: obj.Key}
	}

	if err := s.users.UpdateProfile(ctx, userID, username, avatar); err != nil {
		if uploaded != nil {
			s.removeAvatar(ctx, userID, uploaded.Key)
		}
		return nil, storage.AppError(err, "User not found")
	}

	if uploaded != nil && u.Avatar.Ref != "" && u.Avatar.Ref != uploaded.Key {
		s.removeAvatar(ctx, userID, u.Avatar.Ref)
	}

	u.Username = username
	u.Avatar = avatar
	return u, nil
}

func (s *Service) uploadAvatar(ctx context.Context, userID string, up *AvatarUpload) (blob.Object, error) {
	if !avatarTypes[up.ContentType] {
		return blob.Object{}, apperrors.Validation("Invalid avatar",
			apperrors.FieldError{Field: "avatar", Message: "must be a JPEG, PNG, WebP or GIF image"})
	}
	if len(up.Data) == 0 || len(up.Data) > MaxAvatarBytes {
		return blob.Object{}, apperrors.Validation("Invalid avatar",
			apperrors.FieldError{Field: "avatar", Message: "must be between 1 byte and 5 MiB"})
	}
	if s.avatars == nil {
		return blob.Object{}, apperrors.Dependency("Avatar storage is not configured", nil, false)
	}

	obj, err := s.avatars.Put(ctx, blob.AvatarKey(userID, up.ContentType, up.Data), up.ContentType, up.Data)
	if err != nil {
		return blob.Object{}, apperrors.Dependency("Failed to upload avatar", err, true)
	}
	return obj, nil
}

func (s *Service) removeAvatar(ctx context.Context, userID, ref string) {
	if ref == "" || s.avatars == nil {
		return
	}
	if err := s.avatars.Delete(ctx, ref); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to delete avatar object")
	}
}
