// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"krishi-billing/internal/config"
	"krishi-billing/internal/domain"
	pg "krishi-billing/internal/infra/db/postgres"
	"krishi-billing/internal/infra/logging"
	"krishi-billing/internal/infra/metrics"
	"krishi-billing/internal/infra/phonepe"
	red "krishi-billing/internal/infra/redis"
	"krishi-billing/internal/infra/sched"
	"krishi-billing/internal/infra/security"
	"krishi-billing/internal/infra/web"
	"krishi-billing/internal/infra/worker"
	"krishi-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed startup checks)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Encryption (payer mobile numbers at rest) ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 16 && len(encKey) != 24 && len(encKey) != 32 {
		if !cfg.Runtime.Dev {
			logger.Fatal().Err(domain.ErrConfiguration).Msg("security.encryption_key must be 16, 24 or 32 bytes")
		}
		logger.Warn().Msg("security.encryption_key not a valid AES length; using dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Repositories ----
	txnRepo := pg.NewTransactionRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool, encSvc)
	eventRepo := pg.NewWebhookEventRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Gateway ----
	gateway := phonepe.NewGateway(cfg.PhonePe, logger)

	// ---- Use cases ----
	billingUC := usecase.NewBillingUseCase(
		subRepo, txnRepo, eventRepo, gateway, tm, locker,
		phonepe.GenerateMerchantTransactionID,
		cfg.Billing.TrialDays, cfg.Billing.MaxChargeAttempts,
		logger,
	)

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.SessionTTL)
	srv := web.NewServer(billingUC, auth, cfg.Admin.Password, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Background workers ----
	pool4 := worker.NewPool(4, logger)
	pool4.Start(ctx)
	billingWorker := sched.NewBillingWorker(billingUC, subRepo, pool4, cfg.Billing.ChargeInterval, logger)
	go billingWorker.Start(ctx)
	reconciler := sched.NewStatusReconciler(billingUC, txnRepo, cfg.Billing.ReconcileInterval, cfg.Billing.StaleAfter, logger)
	go reconciler.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	pool4.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
