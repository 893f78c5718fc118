package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	autherr "github.com/autoheaven/auth-service/internal/errors"
	"github.com/autoheaven/auth-service/internal/models"
)

// UserRepo owns the durable account records. Lookups that miss return
// (nil, nil) so callers decide how much to disclose.
type UserRepo struct {
	DB *gorm.DB
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Create inserts a new account. The unique index on email is the final
// arbiter for concurrent verifications of the same address.
func (r *UserRepo) Create(ctx context.Context, user *models.User) error {
	if err := r.DB.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate key") {
			return autherr.ErrDuplicateAccount
		}
		return err
	}
	return nil
}

func (r *UserRepo) SaveRefreshToken(ctx context.Context, userID, token string) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("refresh_token", token).Error
}

func (r *UserRepo) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("refresh_token = ?", token).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ClearRefreshToken logs out whichever account holds the token. A miss
// is not an error; logout is idempotent.
func (r *UserRepo) ClearRefreshToken(ctx context.Context, token string) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("refresh_token = ?", token).
		Update("refresh_token", "").Error
}

func (r *UserRepo) SetResetToken(ctx context.Context, userID, digest string, expires time.Time) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token_digest":  digest,
			"reset_token_expires": expires,
		}).Error
}

func (r *UserRepo) ClearResetToken(ctx context.Context, userID string) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token_digest":  "",
			"reset_token_expires": nil,
		}).Error
}

// FindByResetDigest matches only unexpired reset material.
func (r *UserRepo) FindByResetDigest(ctx context.Context, digest string, now time.Time) (*models.User, error) {
	var user models.User
	err := r.DB.WithContext(ctx).
		Where("reset_token_digest = ? AND reset_token_expires > ?", digest, now).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// UpdatePasswordAndClearReset makes reset-code consumption single-use:
// clearing the digest in the same write prevents any later match.
func (r *UserRepo) UpdatePasswordAndClearReset(ctx context.Context, userID, passwordHash string) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password_hash":       passwordHash,
			"reset_token_digest":  "",
			"reset_token_expires": nil,
		}).Error
}

func (r *UserRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.DB.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
