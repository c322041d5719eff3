package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/clinicflow/appointment-engine/internal/api"
	"github.com/clinicflow/appointment-engine/internal/api/router"
	appconfig "github.com/clinicflow/appointment-engine/internal/config"
	"github.com/clinicflow/appointment-engine/internal/appointments"
	"github.com/clinicflow/appointment-engine/internal/knowledge"
	"github.com/clinicflow/appointment-engine/internal/locks"
	"github.com/clinicflow/appointment-engine/internal/notify"
	"github.com/clinicflow/appointment-engine/internal/observability/metrics"
	"github.com/clinicflow/appointment-engine/internal/orchestrator"
	"github.com/clinicflow/appointment-engine/internal/retry"
	"github.com/clinicflow/appointment-engine/internal/session"
	"github.com/clinicflow/appointment-engine/pkg/logging"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting appointment engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Slot store
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := appointments.NewRepository(pool)

	// Per-doctor booking lock: redis when configured, in-process otherwise.
	var locker locks.DoctorLocker
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
		locker = locks.NewRedisLocker(redisClient)
		logger.Info("using redis doctor locks", "addr", cfg.RedisAddr)
	} else {
		locker = locks.NewMemoryLocker()
		logger.Warn("REDIS_ADDR not set; using in-process doctor locks")
	}

	booker := appointments.NewService(store, locker, appointments.ServiceConfig{
		PastTolerance: cfg.BookingPastTolerance,
		LockTTL:       cfg.BookingLockTTL,
		StoreTimeout:  cfg.StoreCallTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.BookingRetryMaxAttempts,
			BaseDelay:   cfg.BookingRetryBaseDelay,
			MaxDelay:    cfg.BookingRetryMaxDelay,
		},
	}, logger)

	// Notification channels
	senders := make(map[notify.Channel]notify.Sender)
	if cfg.TwilioAccountSID != "" {
		sms, err := notify.NewTwilioSMSSender(notify.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			BaseURL:    cfg.TwilioBaseURL,
			Timeout:    cfg.NotifyCallTimeout,
		}, logger)
		if err != nil {
			logger.Error("twilio config invalid", "error", err)
			os.Exit(1)
		}
		senders[notify.ChannelSMS] = sms
	}
	if email := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); email != nil {
		senders[notify.ChannelEmail] = email
	}
	if len(senders) == 0 {
		logger.Warn("no notification gateways configured; confirmations will be logged only")
		senders[notify.ChannelSMS] = notify.NewStubSender(logger)
	}

	engineMetrics := metrics.NewEngineMetrics(nil)
	health := notify.NewHealthRegistry(cfg.NotifyCircuitThreshold, cfg.NotifyCircuitCooldown)
	dispatcher := notify.NewDispatcher(senders, health, notify.DispatcherConfig{
		Retry: retry.Policy{
			MaxAttempts: cfg.NotifyRetryMaxAttempts,
			BaseDelay:   cfg.NotifyRetryBaseDelay,
			MaxDelay:    cfg.NotifyCircuitCooldown,
		},
		CallTimeout: cfg.NotifyCallTimeout,
		OnCircuitOpen: func(ch notify.Channel) {
			engineMetrics.ObserveCircuitOpen(string(ch))
		},
	}, logger)

	// Knowledge retriever
	var retriever knowledge.Retriever
	if cfg.GeminiAPIKey != "" {
		genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
		if err != nil {
			logger.Error("failed to create genai client", "error", err)
			os.Exit(1)
		}
		defer func() { _ = genaiClient.Close() }()

		embedder, err := knowledge.NewGeminiEmbedder(genaiClient, cfg.EmbeddingModel)
		if err != nil {
			logger.Error("failed to create embedder", "error", err)
			os.Exit(1)
		}
		knowledgeStore := knowledge.NewMemoryStore(embedder, logger)
		if err := knowledge.LoadDirectory(ctx, knowledge.LoaderConfig{
			Dir:          cfg.KnowledgeDir,
			ChunkSize:    cfg.KnowledgeChunkSize,
			ChunkOverlap: cfg.KnowledgeChunkOverlap,
		}, knowledgeStore, logger); err != nil {
			logger.Error("failed to load knowledge base", "error", err)
			os.Exit(1)
		}
		retriever = knowledgeStore
	} else {
		logger.Warn("GEMINI_API_KEY not set; knowledge queries will return no passages")
	}

	machine := session.NewMachine(session.Config{
		SlotDuration:          cfg.SessionSlotDuration,
		PastTolerance:         cfg.BookingPastTolerance,
		MaxValidationFailures: cfg.MaxValidationFailures,
		RetrievalTopK:         cfg.RetrieverTopK,
	})

	engine := orchestrator.New(machine, booker, dispatcher, retriever, orchestrator.StaticDirectory{
		notify.ChannelSMS:   cfg.OperatorPhone,
		notify.ChannelEmail: cfg.OperatorEmail,
	}, orchestrator.Config{
		MaxEffectsPerTurn: cfg.MaxEffectsPerTurn,
		SessionTTL:        cfg.SessionTTL,
		ReapInterval:      cfg.SessionReapInterval,
		ChannelOrder:      notify.ParseChannels(cfg.ChannelOrder()),
		RetrievalTopK:     cfg.RetrieverTopK,
		RetrievalTimeout:  cfg.RetrieverCallTimeout,
	}, logger, engineMetrics)
	engine.StartReaper(ctx)
	defer engine.Close()

	services := map[string]api.Pinger{
		"database": api.PingerFunc(func(ctx context.Context) error { return pool.Ping(ctx) }),
	}
	if redisClient != nil {
		services["redis"] = api.PingerFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	handler := api.NewHandler(engine, version, services, logger)
	r := router.New(&router.Config{
		Logger:         logger,
		Handler:        handler,
		ChatHandler:    api.NewChatHandler(engine, logger),
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
