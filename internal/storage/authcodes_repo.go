package storage

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// requestCodeScanLimit bounds how many still-valid codes one verify
// attempt compares against; issuance is capped at 3/hour, so anything
// beyond a handful is stale.
const requestCodeScanLimit = 10

type AuthCodeRepo struct{ db *gorm.DB }

func (r *AuthCodeRepo) Create(ctx context.Context, a *AuthCode) error {
	return translateErr(r.db.WithContext(ctx).Create(a).Error)
}

// GetValid returns the most recent unused, unexpired code for a user, or
// KindNotFound if none exists.
func (r *AuthCodeRepo) GetValid(ctx context.Context, userID uuid.UUID, now time.Time) (*AuthCode, error) {
	var a AuthCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND used = ? AND expires_at > ?", userID, false, now).
		Order("created_at DESC").
		First(&a).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &a, nil
}

// VerifyAndConsume atomically checks a submitted code against the stored
// one and flips Used, so a code can be redeemed exactly once even under
// concurrent verification attempts. The submitted code is
// compared in constant time against the user's still-valid codes rather
// than matched inside the WHERE clause.
func (r *AuthCodeRepo) VerifyAndConsume(ctx context.Context, userID uuid.UUID, code string, now time.Time) (*AuthCode, error) {
	var a AuthCode
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var candidates []AuthCode
		if err := tx.WithContext(ctx).
			Where("user_id = ? AND used = ? AND expires_at > ?", userID, false, now).
			Order("created_at DESC").
			Limit(requestCodeScanLimit).
			Find(&candidates).Error; err != nil {
			return err
		}
		matched := false
		for _, c := range candidates {
			if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) == 1 && !matched {
				a = c
				matched = true
			}
		}
		if !matched {
			return gorm.ErrRecordNotFound
		}
		res := tx.WithContext(ctx).
			Model(&AuthCode{}).
			Where("id = ? AND used = ?", a.ID, false).
			Update("used", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apierrors.New(apierrors.KindConflict, "auth code already consumed")
		}
		a.Used = true
		return nil
	})
	if err != nil {
		return nil, translateErr(err)
	}
	return &a, nil
}

// CountSince counts auth codes requested by a user since a point in time,
// backing the request-code rate limit (at most 3 per phone per hour).
func (r *AuthCodeRepo) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AuthCode{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	if err != nil {
		return 0, translateErr(err)
	}
	return n, nil
}

// PurgeExpired deletes codes past their expiry, called from the hourly
// maintenance job.
func (r *AuthCodeRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&AuthCode{})
	if res.Error != nil {
		return 0, translateErr(res.Error)
	}
	return res.RowsAffected, nil
}
