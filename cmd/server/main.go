/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the weighbridge checkpoint server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (file, then WEIGHBRIDGE_* environment)
  3. Initialize logger
  4. Open the store (sqlite or postgres)
  5. Create API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --config   Config file (default: ./configs/config.yaml if present)
  --port     HTTP server port, overrides server.port
  --db       SQLite database path, overrides database.path
  --demo     Enable /api/scenarios for demo data

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server --db=./data/weighbridge.db

  # Run with in-memory database and demo scenarios
  ./server --db=":memory:" --demo

  # Run against PostgreSQL
  WEIGHBRIDGE_DATABASE_DRIVER=postgres WEIGHBRIDGE_DATABASE_HOST=db ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/warp/weighbridge/api"
	"github.com/warp/weighbridge/checkpoint"
	"github.com/warp/weighbridge/config"
	"github.com/warp/weighbridge/store/postgres"
	"github.com/warp/weighbridge/store/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// backend is what both database stores provide.
type backend interface {
	checkpoint.TxStore
	checkpoint.Catalog
	api.Seeder
	Close() error
}

func main() {
	configFile := pflag.String("config", "", "config file path")
	port := pflag.Int("port", 0, "HTTP server port")
	dbPath := pflag.String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	demo := pflag.Bool("demo", false, "enable demo scenario routes")
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := initLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer store.Close()

	handler := api.NewHandler(store, store, cfg.Quality.StrictParameters, log)
	if *demo {
		handler.Seeder = store
	}
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("driver", cfg.Database.Driver),
			zap.Bool("strict_quality", cfg.Quality.StrictParameters),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func openStore(cfg *config.Config) (backend, error) {
	db := cfg.Database
	switch db.Driver {
	case "postgres":
		level := logger.Warn
		if cfg.Log.Level == "debug" {
			level = logger.Info
		}
		return postgres.Open(postgres.Config{
			Host:         db.Host,
			Port:         db.Port,
			User:         db.User,
			Password:     db.Password,
			DBName:       db.DBName,
			SSLMode:      db.SSLMode,
			MaxOpenConns: db.MaxOpenConns,
			LogLevel:     level,
		})
	default:
		if db.Path != ":memory:" {
			if err := ensureDir(db.Path); err != nil {
				return nil, err
			}
		}
		return sqlite.New(db.Path)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	return nil
}
