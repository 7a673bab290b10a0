// Package supervisor owns the process lifecycle: the startup and
// shutdown sequences, the periodic health-probe loop, and the single set
// of process-wide instances (storage, vault, bridge client, queue, worker
// pool) that every other component receives as an explicit parameter. No
// mutable globals anywhere.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/zapa-app/zapa/internal/agent"
	"github.com/zapa-app/zapa/internal/apierrors"
	"github.com/zapa-app/zapa/internal/bridge"
	"github.com/zapa-app/zapa/internal/config"
	"github.com/zapa-app/zapa/internal/queue"
	"github.com/zapa-app/zapa/internal/storage"
	"github.com/zapa-app/zapa/internal/vault"
)

// systemUserPhone is the sentinel owner of the single MAIN bridge
// session. Session.user_id is a required FK and the service-number
// session isn't owned by any end user, so it is parked on a reserved
// system user row instead of relaxing the FK. Never routable to a real
// end user: it fails phone_number validation at the httpapi boundary by
// construction.
const systemUserPhone = "system:main-session"

// Supervisor owns every process-wide dependency and drives the startup/
// shutdown sequence and health-probe loop.
type Supervisor struct {
	cfg *config.Config

	store   *storage.Store
	vault   *vault.Vault
	bridge  *bridge.Client
	queue   *queue.Queue
	workers *queue.WorkerPool
	engine  *agent.Engine
	cron    *cron.Cron

	mainSessionName string

	mu          sync.RWMutex
	lastHealth  Health
	probeCancel context.CancelFunc
}

// New opens storage, verifies the vault key, and constructs the bridge
// client and outbound queue. The rest of startup (ensure MAIN session,
// start workers, start probes) runs in Start, so the caller can wire
// HTTP handlers to the constructed dependencies before anything begins
// accepting traffic.
func New(cfg *config.Config) (*Supervisor, error) {
	store, err := storage.Open(cfg.DatabaseURL, 5, 10)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorageUnavailable, "auto-migrate", err)
	}

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "construct vault", err)
	}

	bridgeClient := bridge.New(bridge.Config{
		BaseURL:        cfg.BridgeBaseURL,
		APIKey:         cfg.BridgeAPIKey,
		Timeout:        cfg.BridgeTimeout,
		ConnectTimeout: cfg.BridgeConnTimeout,
	})

	if err := store.DB().AutoMigrate(&queue.OutboundMessage{}); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorageUnavailable, "auto-migrate outbound queue", err)
	}

	q := queue.New(store.DB(), queue.RetryConfig{
		MaxRetries:        cfg.QueueMaxRetries,
		RetryBaseDelay:    cfg.QueueRetryBaseDelay,
		VisibilityTimeout: cfg.VisibilityTimeout,
	})

	s := &Supervisor{
		cfg:    cfg,
		store:  store,
		vault:  v,
		bridge: bridgeClient,
		queue:  q,
	}

	s.workers = queue.NewWorkerPool(q, s.send, s.onSent, queue.WorkerPoolConfig{
		Concurrency: cfg.WorkerCount,
	})
	s.engine = agent.New(store, v, s.enqueueReply)

	return s, nil
}

// Store, Vault, Queue, Engine, Bridge expose the single process-wide
// instances to the HTTP and webhook layers.
func (s *Supervisor) Store() *storage.Store  { return s.store }
func (s *Supervisor) Vault() *vault.Vault    { return s.vault }
func (s *Supervisor) Queue() *queue.Queue    { return s.queue }
func (s *Supervisor) Engine() *agent.Engine  { return s.engine }
func (s *Supervisor) Bridge() *bridge.Client { return s.bridge }

// DispatchAgent adapts Engine.HandleIncoming to webhook.AgentDispatcher's
// signature, run on its own goroutine by the webhook handler so a slow
// LLM round trip never blocks the HTTP response.
func (s *Supervisor) DispatchAgent(ctx context.Context, userID uuid.UUID, phoneNumber string, msg *storage.Message) {
	if err := s.engine.HandleIncoming(ctx, userID, phoneNumber, msg); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("supervisor: agent dispatch failed")
	}
}

// enqueueReply adapts Queue.Enqueue to agent.Sender's signature.
func (s *Supervisor) enqueueReply(ctx context.Context, toNumber, content string, priority int) error {
	_, err := s.queue.Enqueue(ctx, toNumber, content, nil, nil, priority)
	return err
}

// send adapts the bridge client to queue.Sender, the one place the
// outbound queue and the bridge meet.
func (s *Supervisor) send(ctx context.Context, m *queue.OutboundMessage) (string, error) {
	return s.bridge.SendText(ctx, s.mainSessionName, m.ToNumber, m.Content)
}

// onSent attaches the bridge's external id to the matching stored
// OUTGOING row so a later message.sent/message.failed webhook can
// correlate by it.
func (s *Supervisor) onSent(ctx context.Context, m *queue.OutboundMessage, externalID string) {
	if externalID == "" {
		return
	}
	recipientJID := bridge.NormalizeJID(m.ToNumber)
	if err := s.store.Messages().AttachExternalID(ctx, recipientJID, m.Content, externalID); err != nil {
		log.Error().Err(err).Str("outbound_id", m.ID.String()).Msg("supervisor: failed to attach external id")
	}
}

// Start configures the bridge's webhook, ensures the MAIN session
// exists, recovers stuck queue items, runs the startup reconciliation
// pass, and starts the queue workers, the health-probe loop, and the
// maintenance scheduler. It returns once everything is running; callers
// start the HTTP listener next.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.ensureMainSession(ctx); err != nil {
		if s.cfg.StartupBridgeFatal {
			return err
		}
		log.Warn().Err(err).Msg("supervisor: bridge unreachable at startup, continuing degraded")
	}

	if n, err := s.queue.RecoverStuck(ctx); err != nil {
		log.Error().Err(err).Msg("supervisor: visibility-timeout recovery sweep failed")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("supervisor: recovered stuck outbound messages")
	}

	s.reconcile(ctx)

	s.workers.Start(ctx)

	probeCtx, cancel := context.WithCancel(ctx)
	s.probeCancel = cancel
	go s.probeLoop(probeCtx)

	s.startCron(ctx)

	log.Info().Msg("supervisor: startup sequence complete")
	return nil
}

// ensureMainSession makes sure the MAIN service session exists on both
// sides, ours and the bridge's. A QR-pending session is logged as a
// warning and its QR code printed to the terminal; it never blocks
// startup and does not change the health status.
func (s *Supervisor) ensureMainSession(ctx context.Context) error {
	systemUser, err := s.store.Users().GetOrCreateByPhone(ctx, systemUserPhone)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "get-or-create system user", err)
	}
	session, err := s.store.Sessions().GetOrCreate(ctx, systemUser.ID, storage.SessionKindMain)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "get-or-create main session", err)
	}
	s.mainSessionName = session.ID.String()

	webhookURL := s.cfg.WebhookBaseURL + "/webhooks/whatsapp"
	if err := s.bridge.ConfigureWebhook(ctx, s.mainSessionName, webhookURL); err != nil {
		return apierrors.Wrap(apierrors.KindBridgeUnreachable, "configure bridge webhook", err)
	}

	info, err := s.bridge.CreateSession(ctx, s.mainSessionName)
	if err != nil {
		return apierrors.Wrap(apierrors.KindBridgeUnreachable, "create main bridge session", err)
	}

	status := storage.SessionStatus(info.Status)
	if err := s.store.Sessions().UpdateStatus(ctx, session.ID, status); err != nil {
		log.Error().Err(err).Msg("supervisor: failed to persist main session status")
	}

	if status == storage.SessionStatusQRPending {
		log.Warn().Str("session", s.mainSessionName).
			Msg("MAIN session is QR-pending, scan the code below to connect the service number")
		s.printQR(ctx)
	}
	return nil
}

// printQR renders the bridge's pending QR code to the terminal for an
// operator to scan. Failure here is logged, not fatal: it never blocks
// startup.
func (s *Supervisor) printQR(ctx context.Context) {
	qr, err := s.bridge.GetQR(ctx, s.mainSessionName)
	if err != nil {
		log.Warn().Err(err).Msg("supervisor: could not fetch QR code for terminal rendering")
		return
	}
	var buf bytes.Buffer
	qrterminal.GenerateHalfBlock(qr.QR, qrterminal.L, &buf)
	fmt.Println(buf.String())
}

// reconcile replays crash-orphaned work: messages stored INCOMING with
// no later reply within 60s are re-dispatched as agent jobs.
func (s *Supervisor) reconcile(ctx context.Context) {
	cutoff := time.Now().Add(-60 * time.Second)
	pending, err := s.store.Messages().FindUnansweredIncoming(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("supervisor: reconciliation scan failed")
		return
	}
	if len(pending) == 0 {
		return
	}
	log.Warn().Int("count", len(pending)).Msg("supervisor: replaying unanswered incoming messages")
	for i := range pending {
		msg := pending[i]
		user, err := s.store.Users().Get(ctx, msg.UserID)
		if err != nil {
			log.Error().Err(err).Str("message_id", fmt.Sprint(msg.ID)).Msg("supervisor: reconciliation could not load user")
			continue
		}
		go s.DispatchAgent(context.Background(), user.ID, user.PhoneNumber, &msg)
	}
}

// probeLoop runs the health-probe loop at cfg.HealthProbeInterval
// (default 30s); the last result is cheap to read via Health().
func (s *Supervisor) probeLoop(ctx context.Context) {
	interval := s.cfg.HealthProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.recordHealth(s.probe(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recordHealth(s.probe(ctx))
		}
	}
}

func (s *Supervisor) recordHealth(h Health) {
	s.mu.Lock()
	s.lastHealth = h
	s.mu.Unlock()
}

// Health returns the last probed snapshot.
func (s *Supervisor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHealth
}

// Reinitialize re-runs the bridge-facing part of startup, backing the
// admin `POST /admin/integration/reinitialize` endpoint.
func (s *Supervisor) Reinitialize(ctx context.Context) error {
	return s.ensureMainSession(ctx)
}

// startCron schedules the maintenance sweeps: an hourly purge of
// expired auth codes and a repeating visibility-timeout recovery pass.
func (s *Supervisor) startCron(ctx context.Context) {
	c := cron.New()
	_, _ = c.AddFunc("@hourly", func() {
		n, err := s.store.AuthCodes().PurgeExpired(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("supervisor: auth code purge failed")
			return
		}
		if n > 0 {
			log.Info().Int64("count", n).Msg("supervisor: purged expired auth codes")
		}
	})
	_, _ = c.AddFunc("@every 5m", func() {
		if n, err := s.queue.RecoverStuck(ctx); err != nil {
			log.Error().Err(err).Msg("supervisor: periodic visibility-timeout sweep failed")
		} else if n > 0 {
			log.Warn().Int64("count", n).Msg("supervisor: periodic sweep recovered stuck outbound messages")
		}
	})
	c.Start()
	s.cron = c
}

// Shutdown stops the maintenance scheduler and health probes, drains
// the worker pool, then closes storage. grace bounds how long it waits
// for in-flight sends to finish.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration) error {
	if s.cron != nil {
		cronStopCtx := s.cron.Stop()
		<-cronStopCtx.Done()
	}
	if s.probeCancel != nil {
		s.probeCancel()
	}

	done := make(chan struct{})
	go func() {
		s.workers.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Msg("supervisor: worker pool did not drain within grace period")
	}

	return s.store.Close()
}
