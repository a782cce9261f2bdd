// Package main is the Lambda entry point for the FarmSight API. API Gateway
// proxy events are bridged onto the same handler tree the HTTP server uses.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"farmsight/internal/api"
	"farmsight/internal/api/lambdarouter"
	"farmsight/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "eu-central-1"
	}

	cfg, err := config.LoadConfig(config.NewSSMProvider(region))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("farmsight lambda starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	app, err := api.Build(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("building service graph: %w", err)
	}

	router := lambdarouter.New(app.Handler())
	lambda.Start(router.Handle)
	return nil
}
