package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voicerooms/internal/core/domain"
	"voicerooms/internal/core/services"
	httphandlers "voicerooms/internal/handlers/http"
	infrabackup "voicerooms/internal/infrastructure/backup"
	"voicerooms/internal/infrastructure/distributed"
	"voicerooms/internal/infrastructure/gateway"
	"voicerooms/internal/infrastructure/monitoring"
	"voicerooms/internal/infrastructure/platform/memory"
	"voicerooms/internal/infrastructure/reliability"
	"voicerooms/internal/infrastructure/repositories"
	"voicerooms/pkg/backup"
	"voicerooms/pkg/circuitbreaker"
	"voicerooms/pkg/config"
	"voicerooms/pkg/logger"
	"voicerooms/pkg/retry"
	"voicerooms/pkg/tracing"
	"voicerooms/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var version = "dev"

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/voicerooms/config.yaml",
	"config.yaml",
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "token":
		if err := issueToken(cfg, flag.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			os.Exit(1)
		}
		return
	case "backups":
		if err := listBackups(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "backups: %v\n", err)
			os.Exit(1)
		}
		return
	case "restore":
		if err := restoreBackup(cfg, flag.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "restore: %v\n", err)
			os.Exit(1)
		}
		return
	}

	zapLogger := logger.Must(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Sugar().Fatalw("voicerooms stopped with error", "error", err)
	}
}

func loadConfig(explicit string) (*config.Config, error) {
	if explicit != "" {
		return config.Load(explicit)
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	// No file: defaults plus env overrides.
	return config.Load("")
}

// issueToken prints an operator token: voicerooms token <operator> [guild,...]
func issueToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: voicerooms token <operator> [guild_id,...]")
	}
	if len(cfg.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret is not configured")
	}

	var guilds []domain.GuildID
	if len(args) > 1 {
		for _, raw := range strings.Split(args[1], ",") {
			id, err := validation.ParseSnowflake("guild_id", raw)
			if err != nil {
				return err
			}
			guilds = append(guilds, domain.GuildID(id))
		}
	}

	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	token, err := auth.GenerateToken(args[0], guilds)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func backupService(cfg *config.Config) (*backup.BackupService, error) {
	storage, err := backup.NewFileStorage(cfg.Backup.Directory)
	if err != nil {
		return nil, err
	}
	return backup.NewBackupService(storage), nil
}

// listBackups prints stored snapshots: voicerooms backups
func listBackups(cfg *config.Config) error {
	service, err := backupService(cfg)
	if err != nil {
		return err
	}
	infos, err := service.ListBackups(context.Background())
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%s\t%s\n", info.Name, info.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// restoreBackup replaces the database with a snapshot: voicerooms restore <name>
// The service must be stopped.
func restoreBackup(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: voicerooms restore <backup-name>")
	}
	service, err := backupService(cfg)
	if err != nil {
		return err
	}
	if err := service.RestoreBackup(context.Background(), args[0], cfg.Database.Path); err != nil {
		return err
	}
	fmt.Printf("restored %s to %s\n", args[0], cfg.Database.Path)
	return nil
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	startTime := time.Now()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(cfg.Tracing, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("failed to flush traces", "error", err)
		}
	}()

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repository factory", "error", err)
		}
	}()

	// Platform state arrives over the gateway bridge and is mirrored in
	// memory; every lifecycle call goes through the reliability wrapper.
	mirror := memory.New()
	platform := reliability.NewPlatformWrapper(mirror, reliability.Config{
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		CallTimeout:       cfg.Platform.CallTimeout,
		Retry: retry.Config{
			Enabled:      cfg.Platform.Retry.MaxAttempts > 0,
			MaxAttempts:  cfg.Platform.Retry.MaxAttempts,
			InitialDelay: cfg.Platform.Retry.InitialDelay,
			MaxDelay:     cfg.Platform.Retry.MaxDelay,
			Multiplier:   2,
			Jitter:       true,
		},
		CircuitBreaker: circuitbreaker.Config{
			FailureThreshold:    cfg.Platform.CircuitBreaker.FailureThreshold,
			SuccessThreshold:    cfg.Platform.CircuitBreaker.SuccessThreshold,
			Timeout:             cfg.Platform.CircuitBreaker.OpenTimeout,
			MaxRequestsHalfOpen: cfg.Platform.CircuitBreaker.MaxRequestsHalfOpen,
		},
	}, log)

	collector := monitoring.NewPrometheusCollector(nil)
	store := repoFactory.Store()

	guilds := services.NewGuildConfigService(store, services.GuildConfigDefaults{
		CooldownSeconds:    cfg.Rooms.DefaultCooldownSeconds,
		StartupCleanupMode: domain.CleanupMode(cfg.Rooms.StartupCleanupMode),
		CacheTTL:           cfg.Rooms.SettingsCacheTTL,
	}, log)
	defer guilds.Close()

	manager := services.NewLifecycleManager(services.LifecycleDeps{
		Store:    store,
		Platform: platform,
		Config:   guilds,
		Guard:    repoFactory.CreateProvisionGuard(),
		Events:   repoFactory.CreateEventPublisher(),
		Metrics:  collector,
		Logger:   log,
	}, services.LifecycleConfig{CleanupDelay: cfg.Rooms.CleanupDelay})
	defer manager.Close()

	prefs := services.NewPreferencesService(store, guilds, manager, log)
	reconciler := services.NewReconciler(manager, log)

	if cfg.Backup.Enabled {
		service, err := backupService(cfg)
		if err != nil {
			return fmt.Errorf("failed to open backup storage: %w", err)
		}
		scheduler := infrabackup.NewScheduler(service, store, infrabackup.Config{
			Interval:  cfg.Backup.Interval,
			Retention: cfg.Backup.Retention,
		}, log)
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	sweeper := services.NewSweeper(manager, cfg.Rooms.SweepInterval, cfg.Rooms.CooldownRetention, log)
	go sweeper.Run(ctx)

	if bus := repoFactory.EventBus(); bus != nil {
		go func() {
			err := bus.Subscribe(ctx, func(env distributed.Envelope) error {
				// Another instance changed rooms of this guild.
				guilds.Invalidate(env.Event.GuildID)
				log.Debugw("remote room event",
					"type", env.Event.Type,
					"guild_id", env.Event.GuildID,
					"room_id", env.Event.RoomID,
					"instance_id", env.InstanceID,
				)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event subscription ended", "error", err)
			}
		}()
	}

	checker := monitoring.NewHealthChecker()
	checker.AddStoreCheck(store, cfg.Monitoring.HealthInterval, 2*time.Second)
	checker.AddPlatformCheck(platform.BreakerState, cfg.Monitoring.HealthInterval, time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, cfg.Monitoring.HealthInterval, 2*time.Second)
	}
	checker.StartBackgroundChecks(ctx)

	var gatewayServer *gateway.WebSocketServer
	var gatewayHandler http.HandlerFunc
	if cfg.Gateway.Enabled {
		gatewayServer = gateway.NewWebSocketServer(manager, mirror, collector, gateway.Config{
			PingInterval:      cfg.Gateway.PingInterval,
			PongTimeout:       cfg.Gateway.PongTimeout,
			MaxMessageSize:    cfg.Gateway.MaxMessageSizeBytes,
			MessagesPerSecond: cfg.Gateway.MessagesPerSecond,
			Burst:             cfg.Gateway.Burst,
			AllowedOrigins:    cfg.Auth.AllowedOrigins,
		}, log)
		// Persisted rooms are only checked once the adapter has replayed
		// the guild state; before that the mirror reports every room gone.
		gatewayServer.OnReady(reconciler.RunAtStartup)
		gatewayHandler = gatewayServer.HandleWebSocket
	} else {
		log.Warnw("gateway bridge disabled, startup reconciliation will not run")
	}

	var authService services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:      cfg,
		Logger:      log,
		Requests:    logger.NewContextLogger(zapLogger),
		Auth:        authService,
		Rooms:       httphandlers.NewRoomHandler(manager, guilds, reconciler),
		Preferences: httphandlers.NewPreferencesHandler(prefs),
		Health:      httphandlers.NewHealthHandler(checker, startTime),
		Gateway:     gatewayHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting voicerooms", "address", cfg.Server.Address, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if gatewayServer != nil {
		if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
			log.Warnw("gateway did not drain in time", "error", err)
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	log.Infow("voicerooms stopped", "managed_rooms", len(manager.Rooms().Snapshot()))
	return nil
}
