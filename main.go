// forumd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forumd/config"
	"forumd/database"
	"forumd/export"
	"forumd/handlers"
	"forumd/models"
	"forumd/utils"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

type Application struct {
	db             *database.DatabaseService
	logger         *slog.Logger
	settings       *config.Settings
	storage        models.StorageService
	reportLimiter  *models.RateLimiter
	loginLimiter   *models.RateLimiter
	exportLimiter  *models.RateLimiter
	pendingSecrets *models.PendingSecretStore
	exports        *export.Manager
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService              { return a.db }
func (a *Application) Logger() *slog.Logger                       { return a.logger }
func (a *Application) Settings() *config.Settings                 { return a.settings }
func (a *Application) Storage() models.StorageService             { return a.storage }
func (a *Application) ReportLimiter() *models.RateLimiter         { return a.reportLimiter }
func (a *Application) LoginLimiter() *models.RateLimiter          { return a.loginLimiter }
func (a *Application) ExportLimiter() *models.RateLimiter         { return a.exportLimiter }
func (a *Application) PendingSecrets() *models.PendingSecretStore { return a.pendingSecrets }
func (a *Application) Exports() *export.Manager                   { return a.exports }

var (
	dbPath       string
	settingsPath string
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "forumd",
	Short: "forumd - forum moderation center and member profiles",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if utils.GetEnv("FORUMD_DEBUG", "false") == "true" {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := database.InitDB(dbPath, logger)
		if err != nil {
			return err
		}
		defer ds.DB.Close()
		logger.Info("Database is up to date", "path", dbPath)
		return nil
	},
}

var (
	adminName     string
	adminEmail    string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Long: `Creates a member in the Administrator group.

Example:
  forumd create-admin --name admin --email admin@example.com --password hunter22`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(adminPassword) < config.MinPasswordLen {
			return fmt.Errorf("password must be at least %d characters", config.MinPasswordLen)
		}
		ds, err := database.InitDB(dbPath, logger)
		if err != nil {
			return err
		}
		defer ds.DB.Close()

		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		id, err := ds.CreateMember(cmd.Context(), adminName, adminName, adminEmail, string(hash), models.GroupAdmin)
		if err != nil {
			return err
		}
		logger.Info("Administrator created", "member_id", id, "name", adminName)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup [dir]",
	Short: "Write a consistent copy of the database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := utils.GetEnv("FORUMD_BACKUP_DIR", config.DefaultSettings().BackupDir)
		if len(args) == 1 {
			dir = args[0]
		}
		ds, err := database.InitDB(dbPath, logger)
		if err != nil {
			return err
		}
		defer ds.DB.Close()
		path, err := ds.BackupDatabase(cmd.Context(), dir)
		if err != nil {
			return err
		}
		logger.Info("Backup written", "path", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", utils.GetEnv("FORUMD_DB_PATH", "./forumd.db?_journal_mode=WAL&_foreign_keys=on"), "SQLite database DSN")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", utils.GetEnv("FORUMD_SETTINGS", "./settings.yaml"), "moderation settings file")

	createAdminCmd.Flags().StringVar(&adminName, "name", "", "login name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "email address")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "password")
	_ = createAdminCmd.MarkFlagRequired("name")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(serveCmd, migrateCmd, createAdminCmd, backupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newStorage picks S3 when FORUMD_S3_ENABLED is set, else a directory on disk.
func newStorage(ctx context.Context, prefix, localDir, urlPrefix string) (models.StorageService, error) {
	if utils.GetEnv("FORUMD_S3_ENABLED", "false") != "true" {
		return &utils.LocalStorage{Dir: localDir, URLPrefix: urlPrefix}, nil
	}
	s3, err := utils.NewS3Storage(ctx,
		utils.GetEnv("FORUMD_S3_ENDPOINT", ""),
		utils.GetEnv("FORUMD_S3_ACCESS_KEY", ""),
		utils.GetEnv("FORUMD_S3_SECRET_KEY", ""),
		utils.GetEnv("FORUMD_S3_BUCKET", ""),
		utils.GetEnv("FORUMD_S3_REGION", "us-east-1"),
		utils.GetEnv("FORUMD_S3_PUBLIC_URL", ""),
		prefix,
		utils.GetEnv("FORUMD_S3_USE_SSL", "true") == "true",
	)
	if err != nil {
		return nil, err
	}
	return s3, nil
}

func serve() error {
	port := utils.GetEnv("FORUMD_PORT", "8080")
	uploadDir := utils.GetEnv("FORUMD_UPLOAD_DIR", "./uploads")

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	exportDir := utils.GetEnv("FORUMD_EXPORT_DIR", settings.Export.Dir)

	dbService, err := database.InitDB(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := dbService.DB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	if err := handlers.LoadTemplates(); err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Storage Service Init ---
	storageService, err := newStorage(ctx, "avatars", uploadDir, "/uploads")
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	// Exports carry personal data and stay on local disk behind the download handler.
	exportStorage := &utils.LocalStorage{Dir: exportDir, URLPrefix: "/exports"}

	rateLimitPrune := utils.GetEnvDuration("FORUMD_RATE_PRUNE", config.DefaultRateLimitPrune)
	rateLimitExpire := utils.GetEnvDuration("FORUMD_RATE_EXPIRE", config.DefaultRateLimitExpire)
	reportEvery, err := time.ParseDuration(settings.Reports.Every)
	if err != nil {
		reportEvery, _ = time.ParseDuration(config.DefaultRateLimitEvery)
	}
	loginEvery := utils.GetEnvDuration("FORUMD_LOGIN_EVERY", "10s")
	loginBurst := utils.GetEnvInt("FORUMD_LOGIN_BURST", 5)

	app := &Application{
		db:             dbService,
		logger:         logger,
		settings:       settings,
		storage:        storageService,
		reportLimiter:  models.NewRateLimiter(reportEvery, settings.Reports.Burst, rateLimitPrune, rateLimitExpire),
		loginLimiter:   models.NewRateLimiter(loginEvery, loginBurst, rateLimitPrune, rateLimitExpire),
		exportLimiter:  models.NewRateLimiter(time.Minute, 2, rateLimitPrune, rateLimitExpire),
		pendingSecrets: models.NewPendingSecretStore(settings.PendingTFATTL()),
		exports: export.NewManager(dbService, exportStorage, logger, settings.Export.Workers,
			config.DefaultExportQueue, settings.ExportRetention()),
	}

	mux := handlers.SetupRouter(app)
	if local, ok := storageService.(*utils.LocalStorage); ok {
		mux.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(local.Dir))))
	}

	var s3PublicURL string
	if s3Store, ok := storageService.(*utils.S3Storage); ok {
		s3PublicURL = s3Store.PublicURL
	}

	finalHandler := handlers.AppContextMiddleware(app, handlers.CSRFMiddleware(handlers.NewSecurityHeadersMiddleware(s3PublicURL)(mux)))
	server := &http.Server{Addr: ":" + port, Handler: finalHandler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.exports.Run(gctx, 5*time.Minute)
	})
	g.Go(func() error {
		maintenance(gctx, app)
		return nil
	})
	g.Go(func() error {
		logger.Info("forumd server started successfully",
			"version", config.AppVersion,
			"address", "http://localhost:"+port,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed unexpectedly: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return err
	}
	logger.Info("Server exiting")
	return nil
}

// maintenance runs the periodic housekeeping: expired sessions, warning
// decay and export retention.
func maintenance(ctx context.Context, app *Application) {
	every := utils.GetEnvDuration("FORUMD_MAINTENANCE_EVERY", "1h")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	lastDecay := time.Time{}

	for {
		if n, err := app.db.PruneSessions(ctx); err != nil {
			app.logger.Error("Failed to prune sessions", "error", err)
		} else if n > 0 {
			app.logger.Info("Pruned expired sessions", "count", n)
		}
		if n, err := app.exports.Prune(ctx); err != nil {
			app.logger.Error("Failed to prune exports", "error", err)
		} else if n > 0 {
			app.logger.Info("Pruned expired exports", "count", n)
		}
		// Decay is defined per day.
		if decay := app.settings.Warnings.Decay; decay > 0 && time.Since(lastDecay) >= 24*time.Hour {
			if n, err := app.db.DecayWarnings(ctx, decay); err != nil {
				app.logger.Error("Failed to decay warnings", "error", err)
			} else {
				lastDecay = time.Now()
				if n > 0 {
					app.logger.Info("Decayed warning levels", "members", n, "points", decay)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
