// Package httpapi is the thin fiber handler layer for the public and
// admin HTTP surface. Handlers parse, call a service, and serialize;
// business logic lives below this package.
package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// writeErr maps an apierrors.Kind onto its HTTP status, and never leaks
// internal detail in production.
func writeErr(c *fiber.Ctx, err error, production bool) error {
	kind := apierrors.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if production && status == fiber.StatusInternalServerError {
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func statusFor(kind apierrors.Kind) int {
	switch kind {
	case apierrors.KindValidation:
		return fiber.StatusBadRequest
	case apierrors.KindNotFound:
		return fiber.StatusNotFound
	case apierrors.KindConflict:
		return fiber.StatusConflict
	case apierrors.KindAuth:
		return fiber.StatusUnauthorized
	case apierrors.KindStorageUnavailable, apierrors.KindBridgeUnreachable,
		apierrors.KindProviderUnavailable, apierrors.KindProviderTimeout:
		return fiber.StatusServiceUnavailable
	case apierrors.KindProviderRateLimited:
		return fiber.StatusTooManyRequests
	case apierrors.KindProviderAuth, apierrors.KindProviderInvalid:
		return fiber.StatusBadGateway
	case apierrors.KindCrypto:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}
