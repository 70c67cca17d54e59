// Command keywordpipeline runs one keyword enrichment pass: load keywords,
// fan batches out across the configured metrics endpoints, and persist,
// submit, and checkpoint the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/accumulator"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/api"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/budget"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/clock/system"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/config"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/dispatcher"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/endpoint"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/logging"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/pipeline"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/runner"
	gcssink "github.com/JakeFAU/keyword-volume-pipeline/internal/sinks/gcs"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/sinks/memory"
	pgsink "github.com/JakeFAU/keyword-volume-pipeline/internal/sinks/postgres"
	pssink "github.com/JakeFAU/keyword-volume-pipeline/internal/sinks/pubsub"
	filesource "github.com/JakeFAU/keyword-volume-pipeline/internal/source/file"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/source/sitemap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "keywordpipeline: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()

	pool, err := endpoint.New(
		cfg.Endpoints.URLs,
		endpoint.Config{
			Interval:            time.Duration(cfg.Endpoints.IntervalSeconds) * time.Second,
			FailureThreshold:    cfg.Endpoints.FailureThreshold,
			HealthCheckInterval: time.Duration(cfg.Endpoints.HealthCheckInterval) * time.Second,
		},
		nil,
		clk,
		logger.Named("endpoint"),
	)
	if err != nil {
		return fmt.Errorf("build endpoint pool: %w", err)
	}

	disp := dispatcher.NewHTTP(dispatcher.Config{
		RequestTimeout: time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second,
		UserAgent:      cfg.Dispatch.UserAgent,
	}, logger.Named("dispatcher"))

	batchRunner := runner.New(pool, disp, clk, runner.Config{
		MaxRetries:           cfg.Runner.MaxRetries,
		RetryDelayBase:       time.Duration(cfg.Runner.RetryDelayBaseMs) * time.Millisecond,
		RetryDelayMax:        time.Duration(cfg.Runner.RetryDelayMaxMs) * time.Millisecond,
		CircuitThreshold:     cfg.Runner.CircuitThreshold,
		CircuitCooldown:      time.Duration(cfg.Runner.CircuitCooldownSeconds) * time.Second,
		FailureRateThreshold: cfg.Runner.FailureRateThreshold,
		MinSampleBatches:     cfg.Runner.MinSampleBatches,
	}, logger.Named("runner"))

	persistence, checkpoints, closeStore, err := buildPersistence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	submission, err := buildSubmission(ctx, cfg, logger)
	if err != nil {
		return err
	}

	commit, closeCommit, err := buildCommit(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCommit()

	acc := accumulator.New(persistence, submission, clk, accumulator.Config{
		FlushThreshold: cfg.Pipeline.FlushThreshold,
	}, logger.Named("accumulator"))

	checkpointer := budget.New(checkpoints, commit, clk, budget.Config{
		MaxRuntime:     cfg.MaxRuntime(),
		SafetyMargin:   time.Duration(cfg.Budget.SafetyMarginMinutes) * time.Minute,
		SaveInterval:   cfg.Budget.SaveInterval,
		CommitInterval: cfg.Budget.CommitInterval,
		CommitEnabled:  cfg.Budget.CommitEnabled,
	}, logger.Named("budget"))

	source, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	pipe := pipeline.New(source, batchRunner, acc, checkpointer, pipeline.Config{
		BatchSize: cfg.Pipeline.BatchSize,
	}, logger.Named("pipeline"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(pool, batchRunner, checkpointer, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("observability server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("observability server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability server shutdown failed", zap.Error(err))
		}
	}()

	result, err := pipe.Run(ctx)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	if result.Outcome != pipeline.Completed {
		logger.Warn("run ended early", zap.String("outcome", string(result.Outcome)))
	}
	return nil
}

func buildPersistence(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (keywords.PersistenceSink, keywords.CheckpointStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("db.dsn not set, using in-memory persistence")
		store := memory.NewStore()
		return store, store, func() {}, nil
	}
	store, err := pgsink.NewStore(ctx, pgsink.StoreConfig{DSN: cfg.DB.DSN})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build postgres store: %w", err)
	}
	return store, store, store.Close, nil
}

func buildSubmission(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (keywords.SubmissionSink, error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("pubsub.project_id not set, submission disabled")
		return nil, nil
	}
	sub, err := pssink.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("build pubsub submitter: %w", err)
	}
	return sub, nil
}

func buildCommit(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (keywords.CommitSink, func(), error) {
	if !cfg.Budget.CommitEnabled {
		logger.Info("external commits disabled")
		return nil, func() {}, nil
	}
	committer, err := gcssink.New(ctx, cfg.Storage.GCSBucket, cfg.Storage.Prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("build gcs committer: %w", err)
	}
	return committer, func() {
		if err := committer.Close(); err != nil {
			logger.Warn("close gcs committer failed", zap.Error(err))
		}
	}, nil
}

func buildSource(cfg config.Config, logger *zap.Logger) (keywords.KeywordSource, error) {
	switch cfg.Source.Kind {
	case "file":
		return filesource.New(cfg.Source.Path), nil
	case "sitemap":
		return sitemap.New(cfg.Source.SitemapURL, sitemap.Config{
			UserAgent: cfg.Dispatch.UserAgent,
			Timeout:   time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second,
		}, logger.Named("sitemap")), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}
