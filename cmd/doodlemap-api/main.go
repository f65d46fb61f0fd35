package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/auth"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/config"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/database"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/logging"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/posts"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/server"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "doodlemap-api",
		Short: "Doodlemap geotagged drawing feed backend",
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Post storage driver (sqlite, mongo)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("mongo-uri", defaults.GetString("mongo.uri"), "MongoDB connection URI")
	flags.String("mongo-database", defaults.GetString("mongo.database"), "MongoDB database name")
	flags.String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")
	flags.String("session-cookie", defaults.GetString("session.cookie_name"), "Session cookie name")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.Duration("store-timeout", defaults.GetDuration("store.timeout"), "Timeout applied to each storage call")
	flags.Int("vote-retry-limit", defaults.GetInt("store.vote_retry_limit"), "Optimistic vote update attempts before giving up")
	flags.Int("max-content-bytes", defaults.GetInt("posts.max_content_bytes"), "Maximum decoded drawing size")
	flags.String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "mongo.database", "mongo-database")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "session.cookie_name", "session-cookie")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "store.timeout", "store-timeout")
	bindFlag(cmd, "store.vote_retry_limit", "vote-retry-limit")
	bindFlag(cmd, "posts.max_content_bytes", "max-content-bytes")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
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

	handler, closeStores, err := buildHandler(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildHandler wires storage, services and the HTTP router. The returned
// function releases the database connections.
func buildHandler(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (http.Handler, func(), error) {
	var closers []func()
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			closers[index]()
		}
	}

	// The user directory always lives in SQLite; posts follow database.driver.
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, closeAll, err
	}
	closers = append(closers, closeGorm(db, logger))

	store, closeStore, err := openPostStore(ctx, appConfig, db, logger)
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}
	closers = append(closers, closeStore)

	postsService, err := posts.NewService(posts.ServiceConfig{
		Store:           store,
		Clock:           time.Now,
		IDProvider:      posts.NewUUIDProvider(),
		Logger:          logger,
		StoreTimeout:    appConfig.StoreTimeout,
		MaxContentBytes: appConfig.MaxContentBytes,
	})
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Users:            userService,
		PostsService:     postsService,
		Realtime:         server.NewRealtimeDispatcher(),
		Logger:           logger,
		AllowedOrigins:   appConfig.AllowedOrigins,
		MaxContentBytes:  appConfig.MaxContentBytes,
	})
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}
	return handler, closeAll, nil
}

func openPostStore(ctx context.Context, appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (posts.Store, func(), error) {
	if appConfig.DatabaseDriver != config.DriverMongo {
		store, err := posts.NewGormStore(posts.GormStoreConfig{
			Database:       db,
			VoteRetryLimit: appConfig.VoteRetryLimit,
		})
		return store, func() {}, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, appConfig.StoreTimeout)
	defer cancel()
	client, mongoDatabase, err := database.OpenMongo(connectCtx, appConfig.MongoURI, appConfig.MongoDatabase, logger)
	if err != nil {
		return nil, func() {}, err
	}
	disconnect := func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer disconnectCancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}

	store, err := posts.NewMongoStore(posts.MongoStoreConfig{
		Database:       mongoDatabase,
		VoteRetryLimit: appConfig.VoteRetryLimit,
	})
	if err != nil {
		disconnect()
		return nil, func() {}, err
	}
	if err := store.EnsureIndexes(connectCtx); err != nil {
		disconnect()
		return nil, func() {}, err
	}
	return store, disconnect, nil
}

func closeGorm(db *gorm.DB, logger *zap.Logger) func() {
	return func() {
		sqlDB, err := db.DB()
		if err != nil {
			return
		}
		if err := sqlDB.Close(); err != nil {
			logger.Warn("database close failed", zap.Error(err))
		}
	}
}
