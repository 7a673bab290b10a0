package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zapa-app/zapa/internal/authn"
	"github.com/zapa-app/zapa/internal/queue"
	"github.com/zapa-app/zapa/internal/storage"
	"github.com/zapa-app/zapa/internal/vault"
)

func newTestServer(t *testing.T) (*fiber.App, *Server) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := storage.NewWithDB(db)
	require.NoError(t, store.AutoMigrate())
	require.NoError(t, db.AutoMigrate(&queue.OutboundMessage{}))

	v, err := vault.New(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	authSvc := authn.New(authn.Config{
		UserSecret:  bytes.Repeat([]byte("u"), 32),
		AdminSecret: bytes.Repeat([]byte("a"), 32),
		UserTTL:     time.Hour,
		AdminTTL:    time.Hour,
	})

	q := queue.New(db, queue.DefaultRetryConfig())

	s := &Server{
		store: store,
		vault: v,
		queue: q,
		authn: authSvc,
	}

	app := fiber.New()
	app.Post("/api/v1/auth/request-code", s.RequestCode)
	app.Post("/api/v1/auth/verify", s.Verify)

	userAuth := authn.RequireUser(authSvc)
	app.Get("/api/v1/auth/me", userAuth, s.Me)
	app.Get("/api/v1/messages", userAuth, s.ListMessages)
	app.Get("/api/v1/llm-config", userAuth, s.GetLLMConfig)
	app.Put("/api/v1/llm-config", userAuth, s.PutLLMConfig)

	return app, s
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestRequestCodeAndVerifyIssuesToken(t *testing.T) {
	app, s := newTestServer(t)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/auth/request-code", requestCodeRequest{PhoneNumber: "+15551234567"})
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	ctx := context.Background()
	user, err := s.store.Users().GetByPhone(ctx, "+15551234567")
	require.NoError(t, err)

	code, err := s.store.AuthCodes().GetValid(ctx, user.ID, time.Now())
	require.NoError(t, err)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/auth/verify", verifyRequest{
		PhoneNumber: "+15551234567",
		Code:        code.Code,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.AccessToken)

	// Same code cannot be redeemed twice.
	resp = doJSON(t, app, http.MethodPost, "/api/v1/auth/verify", verifyRequest{
		PhoneNumber: "+15551234567",
		Code:        code.Code,
	})
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequestCodeRateLimited(t *testing.T) {
	app, _ := newTestServer(t)

	for i := 0; i < requestCodeRateLimit; i++ {
		resp := doJSON(t, app, http.MethodPost, "/api/v1/auth/request-code", requestCodeRequest{PhoneNumber: "+15559990000"})
		require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	}
	resp := doJSON(t, app, http.MethodPost, "/api/v1/auth/request-code", requestCodeRequest{PhoneNumber: "+15559990000"})
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func issueUserToken(t *testing.T, s *Server, phone string) string {
	t.Helper()
	user, err := s.store.Users().GetOrCreateByPhone(context.Background(), phone)
	require.NoError(t, err)
	token, _, err := s.authn.IssueUserToken(user.ID, user.PhoneNumber)
	require.NoError(t, err)
	return token
}

func TestMeRequiresAuth(t *testing.T) {
	app, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	require.NoError(t, err)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestMeReturnsAuthenticatedUser(t *testing.T) {
	app, s := newTestServer(t)
	token := issueUserToken(t, s, "+15551230000")

	req, err := http.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var user storage.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	require.Equal(t, "+15551230000", user.PhoneNumber)
}

func TestPutLLMConfigThenGetReturnsNoSecret(t *testing.T) {
	app, s := newTestServer(t)
	token := issueUserToken(t, s, "+15557778888")

	body, err := json.Marshal(llmConfigRequest{
		Provider:    "OPENAI",
		APIKey:      "sk-test-key",
		Model:       "gpt-4o-mini",
		Temperature: 0.5,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, "/api/v1/llm-config", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "sk-test-key")

	req2, err := http.NewRequest(http.MethodGet, "/api/v1/llm-config", nil)
	require.NoError(t, err)
	req2.Header.Set("Authorization", "Bearer "+token)

	resp2, err := app.Test(req2)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp2.StatusCode)

	var view configView
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&view))
	require.True(t, view.IsActive)
	require.Equal(t, storage.LLMProviderOpenAI, view.Provider)
	require.Equal(t, "gpt-4o-mini", view.ModelSettings.Model)
}
