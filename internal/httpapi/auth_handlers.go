package httpapi

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/zapa-app/zapa/internal/apierrors"
	"github.com/zapa-app/zapa/internal/authn"
	"github.com/zapa-app/zapa/internal/storage"
)

const (
	authCodeTTL          = 10 * time.Minute
	requestCodeRateLimit = 3
	requestCodeWindow    = time.Hour
)

// RequestCode implements `POST /api/v1/auth/request-code`: always 202 so
// callers can't enumerate users, rate-limited to 3 per phone per hour,
// generates a 6-digit AuthCode and enqueues it as an outbound text.
func (s *Server) RequestCode(c *fiber.Ctx) error {
	var req requestCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationError(err)})
	}

	ctx := c.Context()
	user, err := s.store.Users().GetOrCreateByPhone(ctx, req.PhoneNumber)
	if err != nil {
		return writeErr(c, err, s.production)
	}

	since := time.Now().Add(-requestCodeWindow)
	count, err := s.store.AuthCodes().CountSince(ctx, user.ID, since)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	if count >= requestCodeRateLimit {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many code requests, try again later"})
	}

	code, err := randomSixDigitCode()
	if err != nil {
		return writeErr(c, apierrors.Wrap(apierrors.KindInternal, "generate auth code", err), s.production)
	}
	auth := &storage.AuthCode{
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: time.Now().Add(authCodeTTL),
	}
	if err := s.store.AuthCodes().Create(ctx, auth); err != nil {
		return writeErr(c, err, s.production)
	}

	body := fmt.Sprintf("Your Zapa login code is %s. It expires in %d minutes.", code, int(authCodeTTL.Minutes()))
	if _, err := s.queue.Enqueue(ctx, user.PhoneNumber, body, nil, nil, 1); err != nil {
		return writeErr(c, err, s.production)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
}

// Verify implements `POST /api/v1/auth/verify`: atomic one-time-use
// code check; the constant-time compare happens inside
// AuthCodeRepo.VerifyAndConsume.
func (s *Server) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationError(err)})
	}

	ctx := c.Context()
	user, err := s.store.Users().GetByPhone(ctx, req.PhoneNumber)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid code"})
	}

	if _, err := s.store.AuthCodes().VerifyAndConsume(ctx, user.ID, req.Code, time.Now()); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired code"})
	}

	token, expiresAt, err := s.authn.IssueUserToken(user.ID, user.PhoneNumber)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(fiber.Map{"access_token": token, "expires_at": expiresAt})
}

// Me implements `GET /api/v1/auth/me`.
func (s *Server) Me(c *fiber.Ctx) error {
	claims := authn.ClaimsFromContext(c)
	user, err := s.store.Users().Get(c.Context(), claims.UserID)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(user)
}

// AdminLogin implements `POST /admin/auth/login`: phone + password,
// restricted to accounts with IsAdmin=true and a set PasswordHash.
func (s *Server) AdminLogin(c *fiber.Ctx) error {
	var req adminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationError(err)})
	}

	user, err := s.store.Users().GetByPhone(c.Context(), req.PhoneNumber)
	if err != nil || !user.IsAdmin || user.PasswordHash == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}
	if err := authn.VerifyPassword(*user.PasswordHash, req.Password); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}

	token, expiresAt, err := s.authn.IssueAdminToken(user.ID, user.PhoneNumber)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(fiber.Map{"access_token": token, "expires_at": expiresAt})
}

func randomSixDigitCode() (string, error) {
	b := make([]byte, 1)
	digits := make([]byte, 6)
	for i := range digits {
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		digits[i] = '0' + b[0]%10
	}
	return string(digits), nil
}
