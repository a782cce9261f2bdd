// Package main is the imagery refresh worker. It long-polls the refresh
// queue and re-fetches comprehensive imagery for each enqueued farm so that
// dashboard reads hit warm provider caches.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"farmsight/internal/config"
	"farmsight/internal/external"
	"farmsight/internal/imagery"
	"farmsight/internal/queue"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "eu-central-1"
		}
		provider = config.NewSSMProvider(region)
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.AWS.RefreshQueueURL == "" {
		return fmt.Errorf("SQS_REFRESH_JOBS must be set for the refresh worker")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("refresh worker starting",
		"environment", cfg.Environment,
		"queue_url", cfg.AWS.RefreshQueueURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	creds := external.NewCredentialSource(cfg.EOS.APIKey, cfg.EOS.SecretID, provider)
	eosClient := external.NewEOSClient(
		&http.Client{Timeout: 30 * time.Second},
		external.EOSClientConfig{
			Credentials: creds,
			BaseURL:     cfg.EOS.BaseURL,
			Logger:      logger,
		},
	)
	poller := external.NewPoller(eosClient, logger,
		external.WithPollBounds(cfg.EOS.PollMaxAttempts, cfg.EOS.PollInterval),
	)
	imagerySvc := imagery.NewService(eosClient, poller, logger)

	consumer := queue.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.AWS.RefreshQueueURL, logger)

	return consumer.Run(ctx, func(ctx context.Context, job queue.RefreshJob) error {
		bundle, err := imagerySvc.GetComprehensiveImagery(ctx, job.ViewID, job.Geometry, job.Indices)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "imagery refreshed",
			"job_id", job.JobID,
			"farm_id", job.FarmID,
			"view_id", bundle.ViewID,
			"indices", len(bundle.VegetationIndices),
		)
		return nil
	})
}
