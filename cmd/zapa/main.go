// Command zapa is the single process entry point: it loads
// configuration, builds the supervisor (which owns storage, the vault,
// the bridge client, and the outbound queue), runs the startup sequence,
// and serves the HTTP surface until an interrupt triggers a graceful
// shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapa-app/zapa/internal/authn"
	"github.com/zapa-app/zapa/internal/config"
	"github.com/zapa-app/zapa/internal/httpapi"
	"github.com/zapa-app/zapa/internal/logging"
	"github.com/zapa-app/zapa/internal/supervisor"
)

const shutdownGrace = 15 * time.Second

// @title Zapa API
// @version 1.0
// @description WhatsApp-native personal assistant platform: public user
// @description surface plus an admin/integration surface.
// @contact.name Zapa
// @license.name MIT
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("zapa: failed to load configuration")
	}

	logging.Init(string(cfg.Environment), cfg.LogFile)
	log.Info().Str("env", string(cfg.Environment)).Msg("zapa: starting")

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("zapa: failed to construct supervisor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("zapa: startup sequence failed")
	}

	authSvc := authn.New(authn.Config{
		UserSecret:  []byte(cfg.UserJWTSecret),
		AdminSecret: []byte(cfg.AdminJWTSecret),
		UserTTL:     cfg.UserJWTTTL,
		AdminTTL:    cfg.AdminJWTTTL,
	})

	app := httpapi.New(httpapi.Deps{
		Store:         sup.Store(),
		Vault:         sup.Vault(),
		Queue:         sup.Queue(),
		Authn:         authSvc,
		Supervisor:    sup,
		WebhookSecret: cfg.WebhookSecret,
		CORSOrigins:   cfg.CORSOrigins,
		Production:    cfg.Environment == config.EnvProduction,
	})

	go func() {
		addr := ":" + cfg.HTTPPort
		log.Info().Str("addr", addr).Msg("zapa: http server listening")
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("zapa: http server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("zapa: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("zapa: http server shutdown error")
	}
	if err := sup.Shutdown(shutdownCtx, shutdownGrace); err != nil {
		log.Error().Err(err).Msg("zapa: supervisor shutdown error")
	}
	log.Info().Msg("zapa: shutdown complete")
}
