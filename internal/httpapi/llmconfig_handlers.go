package httpapi

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"

	"github.com/zapa-app/zapa/internal/apierrors"
	"github.com/zapa-app/zapa/internal/authn"
	"github.com/zapa-app/zapa/internal/llm"
	"github.com/zapa-app/zapa/internal/storage"
)

// GetLLMConfig implements `GET /api/v1/llm-config`: returns the user's
// active config; the API key, encrypted or not, never appears in a
// response.
func (s *Server) GetLLMConfig(c *fiber.Ctx) error {
	claims := authn.ClaimsFromContext(c)
	cfg, err := s.store.LLMConfigs().GetActive(c.Context(), claims.UserID)
	if err != nil {
		return writeErr(c, err, s.production)
	}
	return c.JSON(toConfigView(cfg))
}

// PutLLMConfig implements `PUT /api/v1/llm-config`: upserts the
// per-(user, provider) config, encrypts the API key through the vault,
// and activates it, deactivating any sibling configs.
func (s *Server) PutLLMConfig(c *fiber.Ctx) error {
	claims := authn.ClaimsFromContext(c)

	var req llmConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationError(err)})
	}

	ctx := c.Context()
	provider := storage.LLMProviderType(req.Provider)

	settings := storage.ModelSettings{
		Model:              req.Model,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxTokens,
		SystemPrompt:       req.SystemPrompt,
		BaseURL:            req.BaseURL,
		MaxContextMessages: req.MaxContextMessages,
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return writeErr(c, apierrors.Wrap(apierrors.KindInternal, "marshal model settings", err), s.production)
	}

	existing, err := s.store.LLMConfigs().GetByUserAndProvider(ctx, claims.UserID, provider)
	notFound := apierrors.KindOf(err) == apierrors.KindNotFound

	cfg := existing
	if notFound || cfg == nil {
		cfg = &storage.LLMConfig{UserID: claims.UserID, Provider: provider}
	}
	cfg.ModelSettings = datatypes.JSON(settingsJSON)

	if req.APIKey != "" {
		sealed, err := s.vault.Encrypt([]byte(req.APIKey))
		if err != nil {
			return writeErr(c, apierrors.Wrap(apierrors.KindCrypto, "encrypt api key", err), s.production)
		}
		cfg.APIKeyEncrypted = sealed
	}

	if notFound {
		if cfg.APIKeyEncrypted == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "api_key is required for a new provider config"})
		}
		if err := s.store.LLMConfigs().Create(ctx, cfg); err != nil {
			return writeErr(c, err, s.production)
		}
	} else if err != nil {
		return writeErr(c, err, s.production)
	} else {
		if err := s.store.LLMConfigs().Update(ctx, cfg); err != nil {
			return writeErr(c, err, s.production)
		}
	}

	if err := s.store.LLMConfigs().Activate(ctx, claims.UserID, cfg.ID); err != nil {
		return writeErr(c, err, s.production)
	}

	cfg.IsActive = true
	return c.JSON(toConfigView(cfg))
}

// TestLLMConfig implements `POST /api/v1/llm-config/test`: decrypts the
// active config's key, builds a Provider, and issues a single no-tools
// chat turn to confirm the credentials work.
func (s *Server) TestLLMConfig(c *fiber.Ctx) error {
	claims := authn.ClaimsFromContext(c)
	ctx := c.Context()

	cfg, err := s.store.LLMConfigs().GetActive(ctx, claims.UserID)
	if err != nil {
		return writeErr(c, err, s.production)
	}

	apiKey, err := s.vault.Decrypt(cfg.APIKeyEncrypted)
	if err != nil {
		return writeErr(c, apierrors.Wrap(apierrors.KindCrypto, "decrypt api key", err), s.production)
	}

	var settings storage.ModelSettings
	_ = json.Unmarshal(cfg.ModelSettings, &settings)

	provider, err := llm.New(llm.Config{
		Type:    llm.ProviderType(cfg.Provider),
		APIKey:  string(apiKey),
		BaseURL: settings.BaseURL,
	})
	if err != nil {
		return writeErr(c, err, s.production)
	}

	resp, err := provider.ChatWithTools(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: "Reply with the single word OK."},
	}, nil, llm.Settings{
		Model:       settings.Model,
		Temperature: 0,
		MaxTokens:   16,
	})
	if err != nil {
		return writeErr(c, err, s.production)
	}

	return c.JSON(fiber.Map{"ok": true, "provider": provider.Name(), "reply": resp.Content})
}

// configView is the public projection of an LLMConfig: no encrypted key.
type configView struct {
	ID            string                  `json:"id"`
	Provider      storage.LLMProviderType `json:"provider"`
	ModelSettings storage.ModelSettings   `json:"model_settings"`
	IsActive      bool                    `json:"is_active"`
}

func toConfigView(cfg *storage.LLMConfig) configView {
	var settings storage.ModelSettings
	_ = json.Unmarshal(cfg.ModelSettings, &settings)
	return configView{
		ID:            cfg.ID.String(),
		Provider:      cfg.Provider,
		ModelSettings: settings,
		IsActive:      cfg.IsActive,
	}
}
