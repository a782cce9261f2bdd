// Package api wires the FarmSight service graph: configuration, credentials,
// the EOS client and poller, the aggregation services, and the handler tree.
// Both the local HTTP server and the Lambda entry point build from here.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"farmsight/internal/api/handlers"
	"farmsight/internal/auth"
	"farmsight/internal/config"
	"farmsight/internal/core"
	"farmsight/internal/external"
	"farmsight/internal/imagery"
	"farmsight/internal/ledger"
	"farmsight/internal/metrics"
	"farmsight/internal/queue"
	"farmsight/internal/registry"
	"farmsight/internal/stats"
)

// eosHTTPTimeout bounds a single submission or status request to the imagery
// provider. Poll-loop patience lives in the Poller, not here.
const eosHTTPTimeout = 30 * time.Second

// App holds the wired service graph.
type App struct {
	Server  *core.Server
	handler http.Handler
}

// Handler returns the fully-wrapped HTTP handler, gzip included.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Build constructs the service graph from configuration.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	var secretProvider config.SecretProvider
	if cfg.Environment != "local" {
		secretProvider = config.NewSSMProvider(cfg.AWS.Region)
	}

	creds := external.NewCredentialSource(cfg.EOS.APIKey, cfg.EOS.SecretID, secretProvider)

	eosClient := external.NewEOSClient(
		&http.Client{Timeout: eosHTTPTimeout},
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
	statsSvc := stats.NewService(eosClient, poller, logger)

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.CookieName)
	farmRegistry := registry.NewFarmRegistry(ctx, cfg.AWS, logger)
	ledgerClient := ledger.NewClient(cfg.Ledger, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Observability.EnableMetrics {
		collector, err := metrics.NewCloudWatchCollector(ctx, cfg.AWS.Region, cfg.Observability.MetricNamespace, logger)
		if err != nil {
			logger.Warn("metrics collector unavailable, continuing without", "error", err)
		} else {
			srv.Metrics = collector
		}
	}

	eosHandler := handlers.NewEOSHandler(imagerySvc, statsSvc, logger)
	renderHandler := handlers.NewRenderHandler(creds, cfg.EOS.BaseURL, cfg.EOS.RenderTile, logger)
	farmsHandler := handlers.NewFarmsHandler(farmRegistry, verifier, logger)
	traceHandler := handlers.NewTraceHandler(ledgerClient, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		eosHandler.Routes,
		renderHandler.Routes,
		farmsHandler.Routes,
		traceHandler.Routes,
	)

	if cfg.AWS.RefreshQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Warn("refresh queue unavailable, continuing without", "error", err)
		} else {
			trigger := queue.NewRefreshTrigger(sqs.NewFromConfig(awsCfg), cfg.AWS.RefreshQueueURL, logger)
			refreshHandler := handlers.NewRefreshHandler(trigger, logger)
			srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
				refreshHandler.Routes(r)
			})
		}
	}

	srv.MountRoutes()

	return &App{
		Server:  srv,
		handler: gzhttp.GzipHandler(srv.Handler()),
	}, nil
}
