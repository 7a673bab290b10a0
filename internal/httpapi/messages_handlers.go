package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/zapa-app/zapa/internal/authn"
)

// ListMessages implements `GET /api/v1/messages`: paginated,
// newest-first, with an optional `q` substring search.
func (s *Server) ListMessages(c *fiber.Ctx) error {
	claims := authn.ClaimsFromContext(c)

	limit := queryIntDefault(c, "limit", 50)
	offset := queryIntDefault(c, "offset", 0)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := c.Query("q")
	if q != "" {
		msgs, err := s.store.Messages().Search(c.Context(), claims.UserID, q, limit)
		if err != nil {
			return writeErr(c, err, s.production)
		}
		return c.JSON(fiber.Map{"messages": msgs})
	}

	msgs, err := s.store.Messages().List(c.Context(), claims.UserID, limit, offset)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// MessageStats implements `GET /api/v1/messages/stats`.
func (s *Server) MessageStats(c *fiber.Ctx) error {
	claims := authn.ClaimsFromContext(c)
	stats, err := s.store.Messages().Stats(c.Context(), claims.UserID)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(stats)
}

func queryIntDefault(c *fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
