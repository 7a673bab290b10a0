package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zapa-app/zapa/internal/agent"
	"github.com/zapa-app/zapa/internal/bridge"
	"github.com/zapa-app/zapa/internal/config"
	"github.com/zapa-app/zapa/internal/queue"
	"github.com/zapa-app/zapa/internal/storage"
	"github.com/zapa-app/zapa/internal/vault"
)

func TestFoldStatus(t *testing.T) {
	require.Equal(t, StatusHealthy, fold(StatusHealthy, StatusHealthy))
	require.Equal(t, StatusDegraded, fold(StatusHealthy, StatusDegraded))
	require.Equal(t, StatusUnhealthy, fold(StatusHealthy, StatusDegraded, StatusUnhealthy))
}

func newTestSupervisor(t *testing.T, bridgeURL string) *Supervisor {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := storage.NewWithDB(db)
	require.NoError(t, store.AutoMigrate())
	require.NoError(t, db.AutoMigrate(&queue.OutboundMessage{}))

	v, err := vault.New([]byte("01234567890123456789012345678901"))
	require.NoError(t, err)

	bridgeClient := bridge.New(bridge.Config{BaseURL: bridgeURL})
	q := queue.New(db, queue.DefaultRetryConfig())

	s := &Supervisor{store: store, vault: v, bridge: bridgeClient, queue: q}
	s.workers = queue.NewWorkerPool(q, s.send, s.onSent, queue.WorkerPoolConfig{Concurrency: 1})
	s.engine = agent.New(store, v, func(ctx context.Context, to, content string, priority int) error {
		return nil
	})
	return s
}

func TestProbeQueueDepthThresholds(t *testing.T) {
	s := newTestSupervisor(t, "http://example.invalid")
	ctx := context.Background()

	h := s.probeQueueDepth(ctx)
	require.Equal(t, StatusHealthy, h.Status)

	for i := 0; i < 120; i++ {
		_, err := s.queue.Enqueue(ctx, "+628111", "hi", nil, nil, 0)
		require.NoError(t, err)
	}
	h = s.probeQueueDepth(ctx)
	require.Equal(t, StatusDegraded, h.Status)
}

func TestReconcileFindsUnansweredIncoming(t *testing.T) {
	s := newTestSupervisor(t, "http://example.invalid")
	ctx := context.Background()

	user, err := s.store.Users().GetOrCreateByPhone(ctx, "+15551112222")
	require.NoError(t, err)
	session, err := s.store.Sessions().GetOrCreate(ctx, user.ID, storage.SessionKindUser)
	require.NoError(t, err)

	content := "are you there?"
	msg := &storage.Message{
		SessionID: session.ID,
		UserID:    user.ID,
		Timestamp: time.Now().Add(-5 * time.Minute),
		Kind:      storage.MessageKindText,
		Direction: storage.DirectionIncoming,
		Content:   &content,
	}
	require.NoError(t, s.store.Messages().Store(ctx, msg))

	pending, err := s.store.Messages().FindUnansweredIncoming(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// reconcile dispatches each pending message on its own goroutine,
	// which this test does not wait on; it checks only that the pass
	// itself runs without panicking.
	s.reconcile(ctx)
}

func TestEnsureMainSessionMarksQRPendingOnStart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.Write([]byte(`{}`))
			return
		}
	})
	mux.HandleFunc("/api/sessions/start", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "main", "status": "SCAN_QR_CODE"})
	})
	bridgeServer := httptest.NewServer(mux)
	defer bridgeServer.Close()

	s := newTestSupervisor(t, bridgeServer.URL)
	s.cfg = &config.Config{WebhookBaseURL: "http://localhost:8080"}

	err := s.ensureMainSession(context.Background())
	require.NoError(t, err)

	systemUser, err := s.store.Users().GetByPhone(context.Background(), systemUserPhone)
	require.NoError(t, err)
	session, err := s.store.Sessions().GetOrCreate(context.Background(), systemUser.ID, storage.SessionKindMain)
	require.NoError(t, err)
	require.Equal(t, storage.SessionStatusQRPending, session.Status)
}
