package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devicelink/devicelink/internal/server/authversion"
	"github.com/devicelink/devicelink/internal/server/handlers"
	"github.com/devicelink/devicelink/internal/server/middleware"
	"github.com/devicelink/devicelink/internal/server/recognition"
	"github.com/devicelink/devicelink/internal/server/sms"
	"github.com/devicelink/devicelink/internal/server/storage/devfile"
	"github.com/devicelink/devicelink/internal/server/storage/sqlite"
	"github.com/devicelink/devicelink/internal/server/verification"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

type config struct {
	addr        string
	dbPath      string
	deviceDir   string
	redisURL    string
	jwtSecret   string
	tokenTTL    time.Duration
	logLevel    string
	verifyRate  int
	verifyEvery time.Duration
}

func main() {
	showVersion := flag.Bool("version", false, "Show version information")

	cfg := config{}
	flag.StringVar(&cfg.addr, "addr", envOr("DEVICELINK_ADDR", ":8080"), "Listen address")
	flag.StringVar(&cfg.dbPath, "db", envOr("DEVICELINK_DB", "devicelink.db"), "Path to SQLite database")
	flag.StringVar(&cfg.deviceDir, "device-dir", envOr("DEVICELINK_DEVICE_DIR", "devices"), "Directory for device record files")
	flag.StringVar(&cfg.redisURL, "redis", envOr("DEVICELINK_REDIS", "redis://localhost:6379/0"), "Redis URL for verification challenges")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", os.Getenv("DEVICELINK_JWT_SECRET"), "JWT signing secret")
	flag.DurationVar(&cfg.tokenTTL, "token-ttl", 24*time.Hour, "Access token lifetime")
	flag.StringVar(&cfg.logLevel, "log-level", envOr("DEVICELINK_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.IntVar(&cfg.verifyRate, "verify-rate", 5, "Verification requests allowed per window per IP")
	flag.DurationVar(&cfg.verifyEvery, "verify-window", 5*time.Minute, "Verification rate limit window")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := newLogger(cfg.logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	if cfg.jwtSecret == "" {
		return fmt.Errorf("jwt secret is required (set DEVICELINK_JWT_SECRET or --jwt-secret)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open sqlite storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close sqlite storage", "error", err)
		}
	}()

	devices, err := devfile.New(cfg.deviceDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open device store: %w", err)
	}

	redisClient, err := verification.NewRedisClient(ctx, cfg.redisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close redis client", "error", err)
		}
	}()

	jwtConfig := handlers.JWTConfig{
		Secret:         []byte(cfg.jwtSecret),
		AccessTokenTTL: cfg.tokenTTL,
	}

	invalidator := authversion.New(store, logger)
	engine := recognition.NewEngine(devices, logger)
	verifier := verification.NewService(
		verification.NewRedisCache(redisClient),
		store,
		devices,
		sms.NewLogSender(logger),
		logger,
	)

	recognizeHandler := handlers.NewRecognizeHandler(logger, engine)
	verifyHandler := handlers.NewVerifyHandler(logger, verifier, jwtConfig)
	syncHandler := handlers.NewSyncHandler(logger, store, devices, store, invalidator)
	userHandler := handlers.NewUserHandler(logger, store, devices, store, invalidator, jwtConfig)
	healthHandler := handlers.NewHealthHandler(logger, Version)

	auth := middleware.AuthMiddleware(logger, jwtConfig, invalidator)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.HandleFunc("POST /api/v1/device/recognize", recognizeHandler.Recognize)
	mux.HandleFunc("POST /api/v1/verify/issue", verifyHandler.Issue)
	mux.HandleFunc("POST /api/v1/verify/consume", verifyHandler.Consume)
	mux.Handle("/api/v1/sync", auth(http.HandlerFunc(syncHandler.HandleSync)))
	mux.Handle("POST /api/v1/user/handle", auth(http.HandlerFunc(userHandler.UpdateHandle)))
	mux.Handle("POST /api/v1/user/pin", auth(http.HandlerFunc(userHandler.SetPIN)))
	mux.Handle("POST /api/v1/user/reset", auth(http.HandlerFunc(userHandler.Reset)))

	// Verification endpoints carry the brute-force risk; everything else
	// gets a loose default.
	rateLimit := middleware.RateLimitByPathMiddleware([]middleware.PathRateLimit{
		{Path: "/api/v1/verify/issue", Rate: cfg.verifyRate, Window: cfg.verifyEvery},
		{Path: "/api/v1/verify/consume", Rate: cfg.verifyRate * 2, Window: cfg.verifyEvery},
	}, 300, time.Minute, logger)

	handler := middleware.RecoveryMiddleware(logger)(
		middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(
			rateLimit(mux)))

	server := &http.Server{
		Addr:              cfg.addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			"addr", cfg.addr,
			"version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printVersion() {
	fmt.Printf("Devicelink Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
