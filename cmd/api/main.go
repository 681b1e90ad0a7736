package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dtnewman/appt-booking/internal/api/router"
	"github.com/dtnewman/appt-booking/internal/chat"
	appconfig "github.com/dtnewman/appt-booking/internal/config"
	"github.com/dtnewman/appt-booking/internal/notify"
	"github.com/dtnewman/appt-booking/internal/observability/metrics"
	"github.com/dtnewman/appt-booking/internal/scheduling"
	"github.com/dtnewman/appt-booking/pkg/logging"
)

func main() {
	// Load .env in development; ignore absence in deployed environments.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid TIMEZONE", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "error", err)
		os.Exit(1)
	}

	var sender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
	} else {
		logger.Warn("SENDGRID_API_KEY not set, using stub email sender")
		sender = notify.NewStubEmailSender(logger)
	}

	repo := scheduling.NewRepository(pool)
	schedulingService := scheduling.NewService(repo, sender, loc, logger)
	schedulingHandler := scheduling.NewHandler(schedulingService, logger)

	var chatHandler *chat.Handler
	if cfg.OpenAIAPIKey != "" {
		intents := chat.NewIntentClient(
			openai.NewClient(cfg.OpenAIAPIKey),
			cfg.OpenAIModel,
			cfg.OpenAITimeout,
			cfg.LLMSchemaAttempts,
			loc,
		)
		historyStore := chat.NewRedisHistoryStore(redisClient, nil)
		chatService := chat.NewService(intents, schedulingService, historyStore, logger,
			cfg.SlotCandidateLimit, cfg.SlotPresentLimit)
		chatHandler = chat.NewHandler(chatService, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set, chat endpoint disabled")
	}

	r := router.New(&router.Config{
		Logger:             logger,
		SchedulingHandler:  schedulingHandler,
		ChatHandler:        chatHandler,
		MetricsHandler:     promhttp.Handler(),
		HTTPMetrics:        metrics.NewHTTPMetrics(nil),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatRateLimit:      cfg.ChatRateLimit,
		ChatRateBurst:      cfg.ChatRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // chat turns wait on the LLM
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
