package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sealed_love_auth/internal/auth"
	"sealed_love_auth/internal/config"
	consumeLink "sealed_love_auth/internal/http_server/handlers/consume_link"
	"sealed_love_auth/internal/http_server/handlers/refresh"
	requestCode "sealed_love_auth/internal/http_server/handlers/request_code"
	verifyCode "sealed_love_auth/internal/http_server/handlers/verify_code"
	"sealed_love_auth/internal/lib/code"
	rateLimit "sealed_love_auth/internal/middleware/ratelimit"
	"sealed_love_auth/internal/rabbitmq"
	"sealed_love_auth/internal/session"
	"sealed_love_auth/internal/storage/postgres"
	redisrepo "sealed_love_auth/internal/storage/redis"
	"sealed_love_auth/internal/tokens"
	"sealed_love_auth/internal/verification"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting auth service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	ephemeral, err := redisrepo.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Error("failed to connect redis", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer ephemeral.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer msgBroker.Close()

	codeManager := verification.New(log, ephemeral, cfg.Auth.CodeTTL, code.Generate)
	tokenManager := tokens.New(log, ephemeral, codeManager, cfg.Auth.CodeTTL)
	authService := auth.New(log, storage, codeManager, msgBroker)
	issuer := session.New(cfg.Auth.SessionSecret, cfg.Auth.SessionMaxAge, cfg.Auth.AdminEmails)
	limiter := rateLimit.New(log, ephemeral)

	router := setupRouter(log, cfg, codeManager, tokenManager, authService, issuer, limiter, msgBroker, storage)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	cfg *config.Config,
	codeManager *verification.Manager,
	tokenManager *tokens.Manager,
	authService *auth.Auth,
	issuer *session.Issuer,
	limiter *rateLimit.Limiter,
	msgBroker *rabbitmq.RabbitMQClient,
	users *postgres.PostgresRepo,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	validate := validator.New()

	r.With(limiter.RequestCode()).Post("/auth/code",
		requestCode.New(log, validate, tokenManager, msgBroker, cfg.Auth.CodeTTL, cfg.HTTPServer.BaseURL),
	)
	r.With(limiter.VerifyCode()).Post("/auth/verify",
		verifyCode.New(log, validate, authService, issuer),
	)
	r.With(limiter.ConsumeLink()).Get("/auth/magic",
		consumeLink.New(log, tokenManager, codeManager, authService, issuer),
	)
	r.With(limiter.Refresh()).Post("/auth/refresh",
		refresh.New(log, issuer, users),
	)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
