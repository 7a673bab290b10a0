package storage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepo struct{ db *gorm.DB }

func (r *UserRepo) Create(ctx context.Context, u *User) error {
	return translateErr(r.db.WithContext(ctx).Create(u).Error)
}

func (r *UserRepo) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "phone_number = ?", phone).Error; err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

// GetOrCreateByPhone is the lazy-creation path for a first inbound
// message from an unknown number.
func (r *UserRepo) GetOrCreateByPhone(ctx context.Context, phone string) (*User, error) {
	u, err := r.GetByPhone(ctx, phone)
	if err == nil {
		return u, nil
	}
	u = &User{PhoneNumber: phone, IsActive: true}
	if err := r.Create(ctx, u); err != nil {
		// Lost the create race against a concurrent insert: re-read.
		if existing, getErr := r.GetByPhone(ctx, phone); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *UserRepo) Update(ctx context.Context, u *User) error {
	return translateErr(r.db.WithContext(ctx).Save(u).Error)
}

// Delete cascades to Sessions, Messages, AuthCodes, LLMConfigs via the
// FK constraints declared on those models.
func (r *UserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return translateErr(r.db.WithContext(ctx).Delete(&User{}, "id = ?", id).Error)
}

func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]User, error) {
	var users []User
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, translateErr(err)
	}
	return users, nil
}
