package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/zapa-app/zapa/internal/apierrors"
)

// ListUsers implements `GET /admin/users`.
func (s *Server) ListUsers(c *fiber.Ctx) error {
	limit := queryIntDefault(c, "limit", 50)
	offset := queryIntDefault(c, "offset", 0)
	users, err := s.store.Users().List(c.Context(), limit, offset)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(fiber.Map{"users": users})
}

// GetUser implements `GET /admin/users/:id`.
func (s *Server) GetUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}
	user, err := s.store.Users().Get(c.Context(), id)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(user)
}

// PatchUser implements `PATCH /admin/users/:id`: toggles activation/
// admin flags and profile fields.
func (s *Server) PatchUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}

	var req adminUserPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}

	ctx := c.Context()
	user, err := s.store.Users().Get(ctx, id)
	if err != nil {
		return writeErr(c, err, s.production)
	}

	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}
	if req.FirstName != nil {
		user.FirstName = req.FirstName
	}
	if req.LastName != nil {
		user.LastName = req.LastName
	}

	if err := s.store.Users().Update(ctx, user); err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(user)
}

// DeleteUser implements `DELETE /admin/users/:id`; cascades to the
// user's sessions, messages, codes, and configs.
func (s *Server) DeleteUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
	}
	if err := s.store.Users().Delete(c.Context(), id); err != nil {
		return writeErr(c, err, s.production)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// IntegrationHealth implements `GET /admin/integration/health`: surfaces
// the supervisor's last-probed snapshot.
func (s *Server) IntegrationHealth(c *fiber.Ctx) error {
	return c.JSON(s.supervisor.Health())
}

// IntegrationReinitialize implements `POST /admin/integration/reinitialize`:
// re-runs the bridge-facing part of startup.
func (s *Server) IntegrationReinitialize(c *fiber.Ctx) error {
	if err := s.supervisor.Reinitialize(c.Context()); err != nil {
		return writeErr(c, apierrors.Wrap(apierrors.KindBridgeUnreachable, "reinitialize bridge", err), s.production)
	}
	return c.JSON(fiber.Map{"reinitialized": true})
}

// QueueStats implements `GET /admin/integration/queue/stats`.
func (s *Server) QueueStats(c *fiber.Ctx) error {
	stats, err := s.queue.Stats(c.Context())
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(stats)
}

// QueueClearFailed implements `POST /admin/integration/queue/clear-failed`.
func (s *Server) QueueClearFailed(c *fiber.Ctx) error {
	n, err := s.queue.ClearDead(c.Context())
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(fiber.Map{"cleared": n})
}

// QueueRequeueFailed implements `POST /admin/integration/queue/requeue-failed`.
func (s *Server) QueueRequeueFailed(c *fiber.Ctx) error {
	n, err := s.queue.RequeueDead(c.Context())
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(fiber.Map{"requeued": n})
}
