package authn

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService() *Service {
	return New(Config{
		UserSecret:  []byte("user-secret-at-least-32-bytes-long!"),
		AdminSecret: []byte("admin-secret-at-least-32-bytes-long"),
		UserTTL:     time.Hour,
		AdminTTL:    time.Minute,
	})
}

func TestUserTokenRoundTrip(t *testing.T) {
	s := testService()
	userID := uuid.New()

	token, _, err := s.IssueUserToken(userID, "+15550000001")
	require.NoError(t, err)

	claims, err := s.ValidateUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestUserTokenRejectedByAdminValidator(t *testing.T) {
	s := testService()
	token, _, err := s.IssueUserToken(uuid.New(), "+15550000001")
	require.NoError(t, err)

	_, err = s.ValidateAdminToken(token)
	require.Error(t, err)
}

func TestTokenSignedWithWrongSecretRejected(t *testing.T) {
	s1 := testService()
	s2 := New(Config{UserSecret: []byte("a-totally-different-32-byte-secret!"), AdminSecret: []byte("b-totally-different-32-byte-secret!")})

	token, _, err := s1.IssueUserToken(uuid.New(), "+15550000001")
	require.NoError(t, err)

	_, err = s2.ValidateUserToken(token)
	require.Error(t, err)
}
