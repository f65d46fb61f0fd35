package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUserNotFound is returned for ids missing from the directory.
	ErrUserNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps session claims to canonical user ids and owns the User records.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates the User record when the provider+subject pair has not been seen before.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	identity := claims.Identity()
	if !identity.Valid() {
		return "", ErrInvalidIdentity
	}
	provider, subject := identity.Provider, identity.Subject

	cacheKey := identity.Key()
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	db := s.db.WithContext(ctx)
	var user User
	err := db.Where("provider = ? AND subject = ?", provider, subject).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = User{
			ID:          subject,
			Provider:    provider,
			Subject:     subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			AvatarURL:   normalize(claims.UserAvatarURL),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&user).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		s.refreshProfile(ctx, user, claims)
	}

	s.cache.Store(cacheKey, user.ID)
	return user.ID, nil
}

// GetUser loads a user record by canonical id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// DeleteUser removes the user record and forgets cached identities pointing at it.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	canonical := normalize(userID)
	if canonical == "" {
		return ErrInvalidIdentity
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", canonical).Delete(&User{}).Error; err != nil {
		return err
	}
	s.cache.Range(func(key, value any) bool {
		if value == canonical {
			s.cache.Delete(key)
		}
		return true
	})
	return nil
}

func (s *Service) refreshProfile(ctx context.Context, user User, claims auth.SessionClaims) {
	updates := map[string]any{"last_seen_at": s.now().UTC()}
	if email := normalize(claims.UserEmail); email != "" && email != user.Email {
		updates["user_email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != user.DisplayName {
		updates["user_display_name"] = display
	}
	if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != user.AvatarURL {
		updates["user_avatar_url"] = avatar
	}
	err := s.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", user.ID).Updates(updates).Error
	if err != nil {
		s.logger.Warn("user profile refresh failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}
