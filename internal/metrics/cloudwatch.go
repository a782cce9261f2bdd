// Package metrics emits API telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient abstracts the PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// putTimeout bounds a single metric publication so a slow CloudWatch endpoint
// cannot pile up goroutines.
const putTimeout = 2 * time.Second

// CloudWatchCollector publishes request count and latency metrics with
// Method, Endpoint, and Status dimensions. Publication is asynchronous and
// best-effort: a failed put is logged, never surfaced to the request path.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchCollector creates a collector publishing to the given
// namespace in the given region. Returns an error if AWS configuration
// cannot be resolved.
func NewCloudWatchCollector(ctx context.Context, region, namespace string, logger *slog.Logger) (*CloudWatchCollector, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewCloudWatchCollectorWithClient(cloudwatch.NewFromConfig(awsCfg), namespace, logger), nil
}

// NewCloudWatchCollectorWithClient injects a client, for tests.
func NewCloudWatchCollectorWithClient(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRequest emits APIRequestCount and APILatency for one completed
// request.
func (c *CloudWatchCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String("Method"), Value: aws.String(method)},
		{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
		{Name: aws.String("Status"), Value: aws.String(status)},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("APIRequestCount"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String("APILatency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
		defer cancel()

		if _, err := c.client.PutMetricData(ctx, input); err != nil {
			c.logger.Error("failed to record request metrics",
				"error", err.Error(),
				"endpoint", endpoint,
			)
		}
	}()
}
