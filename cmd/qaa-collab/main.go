package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appcontentbiz/QAA/internal/auth"
	"github.com/appcontentbiz/QAA/internal/collab"
	"github.com/appcontentbiz/QAA/internal/config"
	"github.com/appcontentbiz/QAA/internal/database"
	"github.com/appcontentbiz/QAA/internal/directory"
	"github.com/appcontentbiz/QAA/internal/logging"
	"github.com/appcontentbiz/QAA/internal/server"
	"github.com/appcontentbiz/QAA/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qaa-collab",
		Short: "QAA real-time collaboration coordinator",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("token-issuer", defaults.GetString("auth.issuer"), "Expected credential issuer")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite directory database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address (empty selects the in-process store)")
	cmd.PersistentFlags().Int("lock-lease-seconds", defaults.GetInt("lock.lease_seconds"), "Edit lock lease in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Credential signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "auth.issuer", "token-issuer")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "lock.lease_seconds", "lock-lease-seconds")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	coordinationStore, closeStore, err := openStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	directoryService, err := directory.NewService(directory.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Revocations:   coordinationStore,
		Accounts:      directoryService,
	})
	if err != nil {
		return err
	}

	registry := collab.NewRegistry()
	coordinator, err := collab.NewCoordinator(collab.Config{
		Store:     coordinationStore,
		Registry:  registry,
		Access:    directoryService,
		Logger:    logger,
		LockLease: appConfig.LockLease,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:    verifier,
		Coordinator: coordinator,
		Registry:    registry,
		Store:       coordinationStore,
		Access:      directoryService,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// openStore selects the coordination store: Redis when an address is
// configured, otherwise the in-process store suitable for single-instance
// deployments only.
func openStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (store.Store, func(), error) {
	if appConfig.RedisAddress == "" {
		logger.Warn("no redis address configured, using in-process coordination store; " +
			"run a single coordinator instance only")
		return store.NewMemoryStore(nil), func() {}, nil
	}

	redisStore, err := store.OpenRedis(ctx, appConfig.RedisAddress)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("coordination store connected", zap.String("address", appConfig.RedisAddress))
	return redisStore, func() {
		if err := redisStore.Close(); err != nil {
			logger.Warn("failed to close coordination store", zap.Error(err))
		}
	}, nil
}
