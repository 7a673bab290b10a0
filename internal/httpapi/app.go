package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/swagger"

	"github.com/zapa-app/zapa/internal/authn"
	"github.com/zapa-app/zapa/internal/queue"
	"github.com/zapa-app/zapa/internal/storage"
	"github.com/zapa-app/zapa/internal/supervisor"
	"github.com/zapa-app/zapa/internal/vault"
	"github.com/zapa-app/zapa/internal/webhook"
)

// Server bundles every dependency the handlers need, handed out by the
// supervisor at startup.
type Server struct {
	store      *storage.Store
	vault      *vault.Vault
	queue      *queue.Queue
	authn      *authn.Service
	supervisor *supervisor.Supervisor
	production bool
}

// Deps is the explicit set of process-wide instances New wires into routes.
type Deps struct {
	Store         *storage.Store
	Vault         *vault.Vault
	Queue         *queue.Queue
	Authn         *authn.Service
	Supervisor    *supervisor.Supervisor
	WebhookSecret string
	CORSOrigins   []string
	Production    bool
}

// New builds the fiber app and wires every route: the public auth and
// messages groups, the protected user and admin groups behind their
// middlewares, the single webhook POST, and swagger.
func New(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Zapa",
	})

	corsConfig := cors.Config{}
	if len(deps.CORSOrigins) > 0 {
		origins := deps.CORSOrigins[0]
		for _, o := range deps.CORSOrigins[1:] {
			origins += "," + o
		}
		corsConfig.AllowOrigins = origins
	}
	app.Use(cors.New(corsConfig))

	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s := &Server{
		store:      deps.Store,
		vault:      deps.Vault,
		queue:      deps.Queue,
		authn:      deps.Authn,
		supervisor: deps.Supervisor,
		production: deps.Production,
	}

	whHandler := webhook.New(deps.Store, deps.WebhookSecret, deps.Supervisor.DispatchAgent)
	app.Post("/webhooks/whatsapp", whHandler.Receive)

	api := app.Group("/api/v1")
	api.Post("/auth/request-code", s.RequestCode)
	api.Post("/auth/verify", s.Verify)

	userAuth := authn.RequireUser(deps.Authn)
	api.Get("/auth/me", userAuth, s.Me)
	api.Get("/messages", userAuth, s.ListMessages)
	api.Get("/messages/stats", userAuth, s.MessageStats)
	api.Get("/llm-config", userAuth, s.GetLLMConfig)
	api.Put("/llm-config", userAuth, s.PutLLMConfig)
	api.Post("/llm-config/test", userAuth, s.TestLLMConfig)

	admin := app.Group("/admin")
	admin.Post("/auth/login", s.AdminLogin)

	adminAuth := authn.RequireAdmin(deps.Authn)
	admin.Get("/users", adminAuth, s.ListUsers)
	admin.Get("/users/:id", adminAuth, s.GetUser)
	admin.Patch("/users/:id", adminAuth, s.PatchUser)
	admin.Delete("/users/:id", adminAuth, s.DeleteUser)

	integration := admin.Group("/integration", adminAuth)
	integration.Get("/health", s.IntegrationHealth)
	integration.Post("/reinitialize", s.IntegrationReinitialize)
	integration.Get("/queue/stats", s.QueueStats)
	integration.Post("/queue/clear-failed", s.QueueClearFailed)
	integration.Post("/queue/requeue-failed", s.QueueRequeueFailed)

	return app
}
