package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/accord-hub/accord-hub/internal/api/http"
	appAudit "github.com/accord-hub/accord-hub/internal/application/audit"
	appDispute "github.com/accord-hub/accord-hub/internal/application/dispute"
	appNegotiation "github.com/accord-hub/accord-hub/internal/application/negotiation"
	"github.com/accord-hub/accord-hub/internal/application/supervisor"
	"github.com/accord-hub/accord-hub/internal/config"
	"github.com/accord-hub/accord-hub/internal/domain/dispute"
	"github.com/accord-hub/accord-hub/internal/domain/negotiation"
	"github.com/accord-hub/accord-hub/internal/infrastructure/arbitration"
	"github.com/accord-hub/accord-hub/internal/infrastructure/keystore"
	"github.com/accord-hub/accord-hub/internal/infrastructure/postgres"
	"github.com/accord-hub/accord-hub/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	sessionRepo := postgres.NewNegotiationRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	disputeRepo := postgres.NewDisputeRepository(pool)

	// infrastructure
	sseHub := sse.NewHub()
	keyStore, err := keystore.NewFromEnv()
	if err != nil {
		log.Fatalf("keystore error: %v", err)
	}

	signatureMode, err := negotiation.ParseSignatureMode(cfg.SignatureMode)
	if err != nil {
		log.Fatalf("signature mode error: %v", err)
	}
	var signer negotiation.Signer
	var verifier negotiation.Verifier
	if signatureMode != negotiation.SignatureModeOff {
		hmacSigner, err := negotiation.NewHMACSigner(keyStore.DefaultKeyID(), keyStore.Keys())
		if err != nil {
			log.Fatalf("signer error: %v", err)
		}
		signer = hmacSigner
		verifier = hmacSigner
	}

	// services
	auditKey := loadHexKey(os.Getenv("AUDIT_SIGNING_KEY"))
	auditSvc := appAudit.NewService(auditRepo, sseHub, keyStore.DefaultKeyID(), auditKey, logger)

	negotiationSvc, err := appNegotiation.NewService(sessionRepo, signer, verifier, auditSvc, appNegotiation.Config{
		SignatureMode:     signatureMode,
		MaxParticipants:   cfg.MaxParticipants,
		MinDeadlineWindow: cfg.MinDeadlineWindow,
	}, logger)
	if err != nil {
		log.Fatalf("negotiation service error: %v", err)
	}

	var escalator dispute.Escalator = arbitration.NewLogEscalator(logger)
	if cfg.ArbitrationURL != "" {
		escalator = arbitration.NewHTTPEscalator(cfg.ArbitrationURL, cfg.ArbitrationTimeout, logger)
	}
	disputeSvc := appDispute.NewService(disputeRepo, negotiationSvc, escalator, logger)

	// background timeout sweeper
	sweeper := supervisor.New(sessionRepo, auditSvc, supervisor.Config{
		Interval:  cfg.SupervisorEvery,
		BatchSize: cfg.SupervisorBatch,
	}, logger)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	// API server
	apiServer := httpapi.NewServer(negotiationSvc, disputeSvc, auditSvc, sseHub, cfg.APITokens)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stopSweeper()
	sseHub.Stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

func loadHexKey(hexStr string) []byte {
	if hexStr == "" {
		return nil
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}
	return b
}
