package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/amirk1998/account-manager/internal/audit"
	"github.com/amirk1998/account-manager/internal/config"
	"github.com/amirk1998/account-manager/internal/database"
	"github.com/amirk1998/account-manager/internal/logger"
	"github.com/amirk1998/account-manager/internal/notify"
	"github.com/amirk1998/account-manager/internal/ratelimit"
	"github.com/amirk1998/account-manager/internal/repository"
	"github.com/amirk1998/account-manager/internal/service"
	"github.com/amirk1998/account-manager/pkg/validator"
)

const rateLimiterCleanupInterval = time.Hour

type Application struct {
	config         *config.Config
	db             *sql.DB
	log            *zap.Logger
	accountService *service.AccountService
	auditLogger    *audit.Logger
	auditMonitor   *audit.Monitor
	rateLimiter    *ratelimit.RateLimiter

	// session of the console user, empty when logged out
	sessionToken string
	username     string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	app, err := initializeApplication(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}
	defer app.cleanup()

	fmt.Println("===========================================")
	fmt.Println("  Account Manager")
	fmt.Println("===========================================")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		cancel()
	}()

	go app.rateLimiter.StartCleanupWorker(ctx, rateLimiterCleanupInterval)
	go app.auditMonitor.Run(ctx, cfg.MonitorInterval)

	app.runCLI(ctx)
}

// initializeApplication sets up all application components
func initializeApplication(cfg *config.Config, log *zap.Logger) (*Application, error) {
	dbConfig := database.Config{
		Path:          cfg.DBPath,
		EncryptionKey: cfg.DBEncryptionKey,
		MaxOpenConns:  25,
		MaxIdleConns:  5,
		MaxLifetime:   1 * time.Hour,
		MaxIdleTime:   10 * time.Minute,
	}

	db, err := database.Connect(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := database.Migrate(db, logger.NewGooseAdapter(log)); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	auditLogger, err := audit.NewLogger(db, cfg.AuditLogPath, cfg.AuditAsyncMode, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	rateLimiter := ratelimit.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	accountService := service.NewAccountService(
		database.NewTransactionManager(db),
		repository.NewUserRepository(db),
		rateLimiter,
		auditLogger,
		notify.NewLogNotifier(log),
		log,
		service.WithValidator(validator.New(validator.WithStrongPasswords(cfg.RequireStrongPassword))),
		service.WithResetTokenTTL(cfg.ResetTokenTTL),
	)

	log.Info("application initialized",
		zap.String("db_path", cfg.DBPath),
		zap.Bool("audit_async", cfg.AuditAsyncMode),
		zap.Int("rate_limit_rps", cfg.RateLimitRPS),
		zap.Duration("reset_token_ttl", cfg.ResetTokenTTL),
	)

	return &Application{
		config:         cfg,
		db:             db,
		log:            log,
		accountService: accountService,
		auditLogger:    auditLogger,
		auditMonitor:   audit.NewMonitor(auditLogger, log),
		rateLimiter:    rateLimiter,
	}, nil
}

// cleanup flushes the audit trail and closes the database
func (app *Application) cleanup() {
	if app.auditLogger != nil {
		if err := app.auditLogger.Close(); err != nil {
			app.log.Error("failed to close audit logger", zap.Error(err))
		}
	}

	if app.db != nil {
		stats := database.GetStats(app.db)
		app.log.Debug("connection pool stats",
			zap.Int("open", stats.OpenConnections),
			zap.Int64("wait_count", stats.WaitCount),
		)
		if err := app.db.Close(); err != nil {
			app.log.Error("failed to close database", zap.Error(err))
		}
	}

	app.log.Info("shutdown complete")
}
