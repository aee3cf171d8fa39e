package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshforge/listings/pkg/config"
	"github.com/meshforge/listings/pkg/eventbus"
	"github.com/meshforge/listings/pkg/health"
	"github.com/meshforge/listings/pkg/indexer"
	"github.com/meshforge/listings/pkg/listingdb"
	"github.com/meshforge/listings/pkg/log"
	"github.com/meshforge/listings/pkg/metrics"
	"github.com/meshforge/listings/pkg/searchindex"
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
	Use:     "indexer",
	Short:   "Listing search-indexing worker",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("indexer version %s\ncommit: %s\n", Version, Commit))
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
	Short: "Run the indexing worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	logger := log.WithComponent("indexer")

	cfg, err := config.LoadIndexer()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := listingdb.Open(cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		return fmt.Errorf("open listingdb: %w", err)
	}
	defer repo.Close()

	bus, err := eventbus.Dial(cfg.NATSEndpoint, cfg.NATSMaxReconnectWait, log.WithComponent("eventbus"))
	if err != nil {
		return fmt.Errorf("dial event bus: %w", err)
	}
	defer bus.Close(context.Background())

	if err := bus.EnsureStream(context.Background(), "LISTING", []string{cfg.EventIndexListing}); err != nil {
		return fmt.Errorf("ensure listing stream: %w", err)
	}

	index := searchindex.New(cfg.TypesenseURL, cfg.TypesenseAPIKey)
	if err := index.Bootstrap(context.Background()); err != nil {
		return fmt.Errorf("bootstrap search index: %w", err)
	}

	worker := indexer.New(repo, index, bus, indexer.Config{
		IndexListingSubject: cfg.EventIndexListing,
		PublicBaseURL:       cfg.PublicFilesURL,
	})

	sub, err := worker.Start()
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	aggregator := health.NewAggregator(
		health.Dependency{Name: "database", Check: func(ctx context.Context) health.Result {
			if err := repo.Ping(ctx); err != nil {
				return health.Result{Healthy: false, Message: err.Error()}
			}
			return health.Result{Healthy: true}
		}},
		health.Dependency{Name: "search_index", Check: health.NewHTTPChecker(cfg.TypesenseURL + "/health").Check},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", aggregator.ServeHTTP)
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.IndexWorkerPort),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.IndexWorkerPort).Msg("indexer listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
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
	_ = sub.Drain(ctx)
	_ = srv.Shutdown(ctx)

	logger.Info().Msg("shutdown complete")
	return nil
}
