package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthCodeVerifyAndConsumeOnlySucceedsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	u, err := store.Users().GetOrCreateByPhone(ctx, "+15550009999")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.AuthCodes().Create(ctx, &AuthCode{
		UserID:    u.ID,
		Code:      "123456",
		ExpiresAt: now.Add(5 * time.Minute),
	}))

	a, err := store.AuthCodes().VerifyAndConsume(ctx, u.ID, "123456", now)
	require.NoError(t, err)
	require.True(t, a.Used)

	_, err = store.AuthCodes().VerifyAndConsume(ctx, u.ID, "123456", now)
	require.Error(t, err)
}

func TestAuthCodeVerifyAndConsumeRejectsExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	u, err := store.Users().GetOrCreateByPhone(ctx, "+15550010000")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.AuthCodes().Create(ctx, &AuthCode{
		UserID:    u.ID,
		Code:      "654321",
		ExpiresAt: now.Add(-time.Minute),
	}))

	_, err = store.AuthCodes().VerifyAndConsume(ctx, u.ID, "654321", now)
	require.Error(t, err)
}

func TestAuthCodePurgeExpiredDeletesOnlyPastCodes(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	u, err := store.Users().GetOrCreateByPhone(ctx, "+15550011111")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.AuthCodes().Create(ctx, &AuthCode{UserID: u.ID, Code: "111111", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, store.AuthCodes().Create(ctx, &AuthCode{UserID: u.ID, Code: "222222", ExpiresAt: now.Add(time.Hour)}))

	n, err := store.AuthCodes().PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = store.AuthCodes().GetValid(ctx, u.ID, now)
	require.NoError(t, err)
}
