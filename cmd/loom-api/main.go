package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/loomlabs/loom/backend/internal/archive"
	"github.com/loomlabs/loom/backend/internal/assistant"
	"github.com/loomlabs/loom/backend/internal/chat"
	"github.com/loomlabs/loom/backend/internal/config"
	"github.com/loomlabs/loom/backend/internal/database"
	"github.com/loomlabs/loom/backend/internal/files"
	"github.com/loomlabs/loom/backend/internal/ids"
	"github.com/loomlabs/loom/backend/internal/logging"
	"github.com/loomlabs/loom/backend/internal/projects"
	"github.com/loomlabs/loom/backend/internal/search"
	"github.com/loomlabs/loom/backend/internal/server"
	"github.com/loomlabs/loom/backend/internal/shares"
	"github.com/loomlabs/loom/backend/internal/threads"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loom-api",
		Short: "Loom chat backend service",
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
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("public.base_url"), "Public base URL for share links")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("assistant-api-base", defaults.GetString("assistant.api_base"), "Assistant API base URL")
	cmd.PersistentFlags().String("assistant-id", defaults.GetString("assistant.assistant_id"), "Assistant identifier")
	cmd.PersistentFlags().Int("poll-interval-ms", defaults.GetInt("assistant.poll_interval_ms"), "Run poll interval in milliseconds")
	cmd.PersistentFlags().Int("poll-max-ticks", defaults.GetInt("assistant.poll_max_ticks"), "Run poll tick ceiling")
	cmd.PersistentFlags().String("search-api-base", defaults.GetString("search.api_base"), "Web search API base URL")
	cmd.PersistentFlags().String("blob-endpoint", defaults.GetString("blob.endpoint"), "Blob storage endpoint")
	cmd.PersistentFlags().String("blob-bucket", defaults.GetString("blob.bucket"), "Blob storage bucket")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "public.base_url", "public-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "assistant.api_base", "assistant-api-base")
	bindFlag(cmd, "assistant.assistant_id", "assistant-id")
	bindFlag(cmd, "assistant.poll_interval_ms", "poll-interval-ms")
	bindFlag(cmd, "assistant.poll_max_ticks", "poll-max-ticks")
	bindFlag(cmd, "search.api_base", "search-api-base")
	bindFlag(cmd, "blob.endpoint", "blob-endpoint")
	bindFlag(cmd, "blob.bucket", "blob-bucket")
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

	idProvider := ids.NewUUIDProvider()

	gateway, err := assistant.NewClient(assistant.ClientConfig{
		APIBase: appConfig.AssistantAPIBase,
		APIKey:  appConfig.AssistantAPIKey,
		OrgID:   appConfig.AssistantOrgID,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	poller := assistant.NewPoller(assistant.PollerConfig{
		Interval: appConfig.PollInterval,
		MaxTicks: appConfig.PollMaxTicks,
		Logger:   logger,
	})

	var searcher chat.Searcher
	if appConfig.SearchAPIKey != "" {
		searchClient, err := search.NewClient(search.ClientConfig{
			APIBase:    appConfig.SearchAPIBase,
			APIKey:     appConfig.SearchAPIKey,
			MaxResults: appConfig.SearchMaxResults,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		searcher = searchClient
	} else {
		logger.Warn("search.api_key not set, web search disabled")
	}

	projectService, err := projects.NewService(projects.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	threadService, err := threads.NewService(threads.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	shareService, err := shares.NewService(shares.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    idProvider,
		PublicBaseURL: appConfig.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	sessionIssuer := shares.NewSessionIssuer(shares.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.ShareSigningSecret),
	})

	var fileStore *files.Store
	if appConfig.BlobEndpoint != "" {
		objects, err := files.NewMinioStore(ctx, files.MinioConfig{
			Endpoint:  appConfig.BlobEndpoint,
			AccessKey: appConfig.BlobAccessKey,
			SecretKey: appConfig.BlobSecretKey,
			Bucket:    appConfig.BlobBucket,
			UseSSL:    appConfig.BlobUseSSL,
		})
		if err != nil {
			return err
		}
		fileStore, err = files.NewStore(files.StoreConfig{
			Database:   db,
			Objects:    objects,
			Clock:      time.Now,
			IDProvider: idProvider,
			Limits: files.Limits{
				MaxUploadBytes:        appConfig.MaxUploadBytes,
				CleanupThresholdBytes: appConfig.CleanupThresholdBytes,
				CleanupTargetBytes:    appConfig.CleanupTargetBytes,
				RetentionDays:         appConfig.RetentionDays,
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("blob.endpoint not set, file storage disabled")
	}

	chatConfig := chat.ServiceConfig{
		Gateway:     gateway,
		Poller:      poller,
		Searcher:    searcher,
		Threads:     threadService,
		AssistantID: appConfig.AssistantID,
		Logger:      logger,
	}
	if fileStore != nil {
		chatConfig.Files = fileStore
	}
	chatService, err := chat.NewService(chatConfig)
	if err != nil {
		return err
	}

	archiveConfig := archive.BuilderConfig{
		Messages: chatService,
		Logger:   logger,
	}
	if fileStore != nil {
		archiveConfig.Files = fileStore
	}
	archiveBuilder, err := archive.NewBuilder(archiveConfig)
	if err != nil {
		return err
	}

	serverDeps := server.Dependencies{
		Chat:     chatService,
		Projects: projectService,
		Threads:  threadService,
		Shares:   shareService,
		Sessions: sessionIssuer,
		Uploader: gateway,
		Archive:  archiveBuilder,
		Logger:   logger,
	}
	if fileStore != nil {
		serverDeps.Files = fileStore
	}
	handler, err := server.NewHTTPHandler(serverDeps)
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
