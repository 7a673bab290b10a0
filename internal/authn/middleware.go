package authn

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// localsClaims names the fiber.Ctx locals populated by the middlewares below.
const (
	localsClaims = "authn_claims"
)

// RequireUser validates a user-role JWT and rejects everything else.
func RequireUser(svc *Service) fiber.Handler {
	return requireRole(svc.ValidateUserToken)
}

// RequireAdmin validates an admin-role JWT.
func RequireAdmin(svc *Service) fiber.Handler {
	return requireRole(svc.ValidateAdminToken)
}

func requireRole(validate func(string) (*Claims, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing or malformed authorization header"})
		}
		claims, err := validate(parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		c.Locals(localsClaims, claims)
		return c.Next()
	}
}

// ClaimsFromContext retrieves the Claims a RequireUser/RequireAdmin
// middleware stored, for handlers downstream.
func ClaimsFromContext(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals(localsClaims).(*Claims)
	return claims
}
