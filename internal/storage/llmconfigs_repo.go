package storage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LLMConfigRepo struct{ db *gorm.DB }

func (r *LLMConfigRepo) Create(ctx context.Context, c *LLMConfig) error {
	return translateErr(r.db.WithContext(ctx).Create(c).Error)
}

func (r *LLMConfigRepo) Get(ctx context.Context, id uuid.UUID) (*LLMConfig, error) {
	var c LLMConfig
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

func (r *LLMConfigRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]LLMConfig, error) {
	var configs []LLMConfig
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&configs).Error; err != nil {
		return nil, translateErr(err)
	}
	return configs, nil
}

// GetByUserAndProvider finds a user's stored config for one provider.
// A user holds at most one config per provider type.
func (r *LLMConfigRepo) GetByUserAndProvider(ctx context.Context, userID uuid.UUID, provider LLMProviderType) (*LLMConfig, error) {
	var c LLMConfig
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&c).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

// GetActive returns the single active config for a user, or KindNotFound if
// the user has none configured.
func (r *LLMConfigRepo) GetActive(ctx context.Context, userID uuid.UUID) (*LLMConfig, error) {
	var c LLMConfig
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&c).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

func (r *LLMConfigRepo) Update(ctx context.Context, c *LLMConfig) error {
	return translateErr(r.db.WithContext(ctx).Save(c).Error)
}

func (r *LLMConfigRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return translateErr(r.db.WithContext(ctx).Delete(&LLMConfig{}, "id = ?", id).Error)
}

// Activate deactivates every other config owned by the user and marks the
// given one active. The per-(user, provider) uniqueness lives on the
// schema as a unique index; the global "one active config per user" rule
// is enforced here, transactionally, rather than trusted to callers.
func (r *LLMConfigRepo) Activate(ctx context.Context, userID, id uuid.UUID) error {
	return translateErr(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&LLMConfig{}).
			Where("user_id = ? AND id <> ?", userID, id).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&LLMConfig{}).
			Where("id = ? AND user_id = ?", id, userID).
			Update("is_active", true).Error
	}))
}
