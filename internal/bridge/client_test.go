package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapa-app/zapa/internal/apierrors"
)

func TestNormalizeJID(t *testing.T) {
	assert.Equal(t, "6281234567@s.whatsapp.net", NormalizeJID("+6281234567"))
	assert.Equal(t, "6281234567@s.whatsapp.net", NormalizeJID("6281234567"))
	assert.Equal(t, "6281234567@s.whatsapp.net", NormalizeJID("6281234567@s.whatsapp.net"))
}

func TestSendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sendText", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "6281234567@s.whatsapp.net", payload["chatId"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "wamid.ABC123"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	id, err := c.SendText(t.Context(), "MAIN", "+6281234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC123", id)
}

func TestGetSessionNormalizesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"name": "MAIN", "status": "WORKING"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	s, err := c.GetSession(t.Context(), "MAIN")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, s.Status)
}

func TestBridgeErrorSurfacesAsBridgeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.Health(t.Context())
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.KindBridgeUnreachable))
}
