// Package authn issues and validates the two JWT kinds of the HTTP
// surface: a 24h user token minted by the phone+code flow and a
// short-lived admin token minted by admin login. The two kinds are keyed
// by independent secrets, so a leaked user secret cannot forge an admin
// token or vice versa.
package authn

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// Claims is the decoded identity carried by either token kind. Role
// distinguishes which secret/TTL pair validated it, so a user token can
// never be replayed against an admin-only route and vice versa.
type Claims struct {
	UserID      uuid.UUID
	PhoneNumber string
	Role        string // "user" or "admin"
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Service struct {
	userSecret  []byte
	adminSecret []byte
	userTTL     time.Duration
	adminTTL    time.Duration
}

type Config struct {
	UserSecret  []byte
	AdminSecret []byte
	UserTTL     time.Duration
	AdminTTL    time.Duration
}

func New(cfg Config) *Service {
	userTTL := cfg.UserTTL
	if userTTL == 0 {
		userTTL = 24 * time.Hour
	}
	adminTTL := cfg.AdminTTL
	if adminTTL == 0 {
		adminTTL = 2 * time.Hour
	}
	return &Service{
		userSecret:  cfg.UserSecret,
		adminSecret: cfg.AdminSecret,
		userTTL:     userTTL,
		adminTTL:    adminTTL,
	}
}

// IssueUserToken mints the user token returned by the verify endpoint.
func (s *Service) IssueUserToken(userID uuid.UUID, phone string) (token string, expiresAt time.Time, err error) {
	return s.issue(s.userSecret, s.userTTL, userID, phone, RoleUser)
}

// IssueAdminToken mints the short-lived admin token returned by
// POST /admin/auth/login.
func (s *Service) IssueAdminToken(userID uuid.UUID, phone string) (token string, expiresAt time.Time, err error) {
	return s.issue(s.adminSecret, s.adminTTL, userID, phone, RoleAdmin)
}

func (s *Service) issue(secret []byte, ttl time.Duration, userID uuid.UUID, phone, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"phone":   phone,
		"role":    role,
		"iat":     now.Unix(),
		"nbf":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, apierrors.Wrap(apierrors.KindInternal, "sign jwt", err)
	}
	return signed, expiresAt, nil
}

// ValidateUserToken parses and verifies a user-role token.
func (s *Service) ValidateUserToken(token string) (*Claims, error) {
	return s.validate(token, s.userSecret, RoleUser)
}

// ValidateAdminToken parses and verifies an admin-role token.
func (s *Service) ValidateAdminToken(token string) (*Claims, error) {
	return s.validate(token, s.adminSecret, RoleAdmin)
}

func (s *Service) validate(tokenString string, secret []byte, wantRole string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierrors.New(apierrors.KindAuth, "unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierrors.New(apierrors.KindAuth, "invalid or expired token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierrors.New(apierrors.KindAuth, "invalid token claims")
	}
	role, _ := claims["role"].(string)
	if role != wantRole {
		return nil, apierrors.New(apierrors.KindAuth, "token role mismatch")
	}
	userIDStr, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, apierrors.New(apierrors.KindAuth, "invalid user_id in token")
	}
	phone, _ := claims["phone"].(string)

	return &Claims{UserID: userID, PhoneNumber: phone, Role: role}, nil
}
