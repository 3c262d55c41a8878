package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/config"
	"github.com/turbotransfer/host/internal/database"
	"github.com/turbotransfer/host/internal/discovery"
	"github.com/turbotransfer/host/internal/handler"
	"github.com/turbotransfer/host/internal/hostexec"
	"github.com/turbotransfer/host/internal/jobs"
	"github.com/turbotransfer/host/internal/middleware"
	"github.com/turbotransfer/host/internal/redis"
	"github.com/turbotransfer/host/internal/repository"
	"github.com/turbotransfer/host/internal/service"
	"github.com/turbotransfer/host/internal/sse"
	"github.com/turbotransfer/host/internal/transfer"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	analyticsRepo := repository.NewAnalyticsRepository(db.DB)
	blocklistRepo := repository.NewBlocklistRepository(db.DB)

	analyticsService := service.NewAnalyticsService(analyticsRepo, broker)

	store, err := transfer.NewStore(analyticsService, broker, transfer.Options{
		Root:                cfg.UploadDir,
		OverwriteDuplicates: cfg.OverwriteDuplicates,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open transfer store")
	}
	defer store.WaitThumbnails()

	registry := service.NewSessionRegistry(blocklistRepo, store, broker, service.RegistryOptions{
		PINTTL:      cfg.PINTTL(),
		MaxSessions: cfg.MaxSessions,
	})
	if err := registry.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start session registry")
	}

	pairingService := service.NewPairingService(registry, service.PairingOptions{
		FingerprintSecret: cfg.FingerprintSecret,
		PublicScheme:      cfg.PublicScheme,
		PublicHost:        cfg.PublicHost,
		Port:              cfg.Port,
		HostAddress:       discovery.PrimaryIP,
	})
	executor := hostexec.NewExecutor(hostexec.Options{DryRun: cfg.CommandsDryRun})
	clipboardService := service.NewClipboardService(cfg.ClipboardMaxBytes, broker)
	commandService := service.NewCommandService(registry, executor)

	var verifyLimiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.VerifyRatePerMin)
	if redisClient != nil {
		verifyLimiter = middleware.NewRedisLimiter(redisClient.Client, cfg.VerifyRatePerMin)
	}

	var spa http.Handler
	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		spa = handler.NewSPAHandler(cfg.StaticDir)
	} else {
		log.Warn().Str("dir", cfg.StaticDir).Msg("static directory not found, web client disabled")
	}

	router := handler.NewRouter(handler.RouterConfig{
		Session: handler.NewSessionHandler(pairingService, registry),
		Files:   handler.NewFilesHandler(store, analyticsService),
		Host:    handler.NewHostHandler(executor, clipboardService, commandService),
		Events:  handler.NewEventsHandler(broker),
		SPA:     spa,
		DB:      db,

		HostAuth:        middleware.NewHostMiddleware(cfg.HostTokenHash, cfg.TrustLoopbackAsHost),
		SessionAuth:     middleware.NewSessionMiddleware(registry),
		VerifyLimit:     middleware.NewRateLimitMiddleware(verifyLimiter, "verify"),
		BodyLimit:       middleware.NewBodyLimitMiddleware(config.JSONBodyLimit),
		SecurityHeaders: middleware.NewSecurityHeadersMiddleware(cfg.TLSEnabled()),
	})

	cleanupJob := jobs.NewCleanupJob(registry, store, config.TempFileMaxAge, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	if cfg.MDNSEnabled {
		advertiser, err := discovery.Advertise(cfg.MDNSInstance, cfg.Port)
		if err != nil {
			log.Warn().Err(err).Msg("mdns advertisement unavailable")
		} else {
			defer advertiser.Shutdown()
		}
	}

	// No write timeout: uploads and downloads stream for as long as they take.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: config.ServerReadHeaderTimeout,
		IdleTimeout:       config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Bool("tls", cfg.TLSEnabled()).
			Str("uploadDir", store.Root()).
			Msg("starting server")

		var err error
		if cfg.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	if cfg.TrustLoopbackAsHost && cfg.PublicScheme == "https" && !cfg.TLSEnabled() {
		log.Warn().Msg("TLS is terminated outside this process; if a proxy on this machine forwards LAN traffic, set TRUST_LOOPBACK_AS_HOST=false and use HOST_TOKEN_HASH")
	}

	if target, err := pairingService.PairingTarget(); err == nil {
		log.Info().Str("url", target).Msg("pairing target")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	// Stopping the registry first lets open streams see sessions_reset.
	if err := registry.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop session registry")
	}

	// Event streams only end when their subscription closes.
	broker.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
