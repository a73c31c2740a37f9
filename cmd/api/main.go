package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/config"
	"voice-receptionist/internal/conversation"
	"voice-receptionist/internal/dialogue"
	"voice-receptionist/internal/notify"
	"voice-receptionist/internal/pricing"
	"voice-receptionist/internal/speech"
	"voice-receptionist/internal/telephony"
	"voice-receptionist/internal/tenants"
	"voice-receptionist/pkg/logger"
	"voice-receptionist/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A .env file is optional; real deployments set the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error(".env load failed", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	tokens, err := auth.NewMediaTokenManager(cfg.Media)
	if err != nil {
		log.Error("media tokens init failed", "err", err)
		os.Exit(1)
	}
	signatures, err := auth.NewSignatureValidator(cfg.Twilio.AuthToken)
	if err != nil {
		log.Error("twilio signature validator init failed", "err", err)
		os.Exit(1)
	}

	estimator, err := pricing.NewEstimator(pricing.MinuteRate{
		Currency:                cfg.Pricing.Currency,
		RatePerMinuteMicros:     cfg.Pricing.RatePerMinuteMicros,
		BillingIncrementSeconds: cfg.Pricing.BillingIncrementSeconds,
	})
	if err != nil {
		log.Error("pricing init failed", "err", err)
		os.Exit(1)
	}

	callRepo := calls.NewPostgresRepo(db)
	directory := tenants.NewPostgresDirectory(db)

	openaiClient := dialogue.NewOpenAIClient(cfg.OpenAI)
	policy := dialogue.NewOpenAIPolicy(openaiClient, dialogue.SettingsFromConfig(cfg.OpenAI))
	voice := speech.NewCachedSynthesizer(
		speech.NewOpenAISynthesizer(openaiClient, cfg.OpenAI),
		speech.NewRedisCache(rdb),
		cfg.Media.CacheTTL,
	)

	notifier, err := notify.NewNotifier(callRepo, directory, notify.Options{
		Workers:      cfg.Notify.Workers,
		SendTimeout:  cfg.Notify.SendTimeout,
		DashboardURL: cfg.Notify.DashboardURL,
	}, log, notify.NewEmailChannel(cfg.Notify), notify.NewSMSChannel(cfg.Twilio))
	if err != nil {
		log.Error("notifier init failed", "err", err)
		os.Exit(1)
	}

	orchestrator := conversation.NewOrchestrator(callRepo, directory, policy, voice, tokens, cfg.App.PublicBaseURL, conversation.OptionsFromConfig(cfg.Conversation))
	orchestrator.Notifier = notifier
	orchestrator.Costs = estimator

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	deps := routeDeps{
		webhooks: telephony.TwilioWebhookHandler{
			Engine: orchestrator,
			Render: telephony.RenderOptions{SayVoice: cfg.Conversation.SayVoice},
		},
		db:  db,
		rdb: rdb,
	}
	if cfg.Twilio.ValidateSignatures {
		deps.signatures = auth.RequireTwilioSignature(signatures, cfg.App.PublicBaseURL)
	} else {
		log.Warn("twilio signature validation disabled")
	}
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "public_base_url", cfg.App.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Webhooks are drained; let queued notifications finish.
	if err := notifier.Close(shutdownCtx); err != nil {
		log.Error("notifier drain incomplete", "err", err)
	}
}
