package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshforge/listings/pkg/auth"
	"github.com/meshforge/listings/pkg/cache"
	"github.com/meshforge/listings/pkg/config"
	"github.com/meshforge/listings/pkg/eventbus"
	"github.com/meshforge/listings/pkg/health"
	"github.com/meshforge/listings/pkg/httpapi"
	"github.com/meshforge/listings/pkg/idempotency"
	"github.com/meshforge/listings/pkg/listing"
	"github.com/meshforge/listings/pkg/listingdb"
	"github.com/meshforge/listings/pkg/log"
	"github.com/meshforge/listings/pkg/metrics"
	"github.com/meshforge/listings/pkg/objectstore"
	"github.com/meshforge/listings/pkg/readmodel"
	"github.com/meshforge/listings/pkg/sweeper"
	"github.com/meshforge/listings/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gateway",
	Short:   "Listing marketplace API gateway",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("gateway version %s\ncommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	logger := log.WithComponent("gateway")

	cfg, err := config.LoadGateway()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := listingdb.Open(cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		return fmt.Errorf("open listingdb: %w", err)
	}
	defer repo.Close()

	store, err := objectstore.NewMinioStore(objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}

	bus, err := eventbus.Dial(cfg.NATSEndpoint, cfg.NATSMaxReconnectWait, log.WithComponent("eventbus"))
	if err != nil {
		return fmt.Errorf("dial event bus: %w", err)
	}
	defer bus.Close(context.Background())

	if err := bus.EnsureStream(context.Background(), "VALIDATE", []string{
		cfg.EventValidateImageStart, cfg.EventValidateModelStart, cfg.EventValidationComplete,
	}); err != nil {
		return fmt.Errorf("ensure validate stream: %w", err)
	}
	if err := bus.EnsureStream(context.Background(), "LISTING", []string{cfg.EventIndexListing}); err != nil {
		return fmt.Errorf("ensure listing stream: %w", err)
	}

	redisCache := cache.NewRedisCache(cache.Config{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
	})
	defer redisCache.Close()

	verifier := auth.NewVerifier(cfg.AuthorizationURL, cfg.AuthorizationRealm, cfg.AuthorizationClientID)

	uploadAuthorizer := upload.New(store, upload.DefaultKindConfigs(), cfg.UploadURLExpiry)

	listingSvc := listing.New(repo, bus, listing.Config{
		Subjects: listing.Subjects{
			ImageValidationStart: cfg.EventValidateImageStart,
			ModelValidationStart: cfg.EventValidateModelStart,
			IndexListing:         cfg.EventIndexListing,
			ValidationComplete:   cfg.EventValidationComplete,
		},
	})

	validationSub, err := listingSvc.StartValidationCompleteConsumer()
	if err != nil {
		return fmt.Errorf("start validation-complete consumer: %w", err)
	}
	defer validationSub.Drain(context.Background())

	fileSweeper := sweeper.New(listingSvc, cfg.SweeperInterval, cfg.SweeperGracePeriod)
	fileSweeper.Start()
	defer fileSweeper.Stop()

	assembler := readmodel.New(listingSvc, store, redisCache, readmodel.Config{
		PrivateBucket:   "models-private",
		PublicBaseURL:   cfg.PublicFilesURL,
		ModelSignExpiry: cfg.SignedGetExpiry,
	})

	idem := idempotency.New(redisCache, cfg.IdempotencyLockTTL, cfg.IdempotencyDataTTL, log.WithComponent("idempotency"))

	aggregator := health.NewAggregator(
		health.Dependency{Name: "database", Check: func(ctx context.Context) health.Result {
			if err := repo.Ping(ctx); err != nil {
				return health.Result{Healthy: false, Message: err.Error()}
			}
			return health.Result{Healthy: true}
		}},
		health.Dependency{Name: "cache", Check: func(ctx context.Context) health.Result {
			if err := redisCache.Ping(ctx); err != nil {
				return health.Result{Healthy: false, Message: err.Error()}
			}
			return health.Result{Healthy: true}
		}},
		health.Dependency{Name: "object_store", Check: health.NewTCPChecker(cfg.S3Endpoint).Check},
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Config: httpapi.Config{
			AllowedOrigin: cfg.DomainName,
			ReadTimeout:   cfg.HTTPReadTimeout,
			WriteTimeout:  cfg.HTTPWriteTimeout,
		},
		Verifier:    verifier,
		Uploads:     uploadAuthorizer,
		Listings:    listingSvc,
		ReadModel:   assembler,
		Idempotency: idem,
		Health:      aggregator,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Int("port", cfg.APIPort).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)

	logger.Info().Msg("shutdown complete")
	return nil
}
