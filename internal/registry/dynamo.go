// Package registry provides the farm registry: a small key-value store of
// farm records backed by DynamoDB, with a static fallback for environments
// where no table is reachable.
package registry

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"farmsight/internal/config"
	"farmsight/internal/types"
)

// Farm is a registered farm with its display name and location.
type Farm struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

// FarmList is the registry listing plus its provenance: "dynamodb" when read
// from the table, "fallback" when served from the built-in records.
type FarmList struct {
	Source string `json:"source"`
	Items  []Farm `json:"items"`
}

// fallbackFarms are served when no DynamoDB table is configured, so that the
// platform's demo farms stay reachable without AWS credentials.
var fallbackFarms = []Farm{
	{ID: "2BH", Name: "2 Butterflies Homestead", Lat: ptr(0.5143), Lng: ptr(35.2698)},
	{ID: "NOAH", Name: "Noah's Joy", Lat: ptr(-1.17), Lng: ptr(36.83)},
}

func ptr(f float64) *float64 { return &f }

// dynamoAPI is the subset of the DynamoDB client the registry uses.
type dynamoAPI interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// FarmRegistry reads and writes farm records. A nil client degrades reads to
// the static fallback and rejects writes.
type FarmRegistry struct {
	client dynamoAPI
	table  string
	logger *slog.Logger
}

// NewFarmRegistry builds a registry against the configured table. When table
// resolution fails (no credentials, no region) the registry still works in
// fallback mode for reads.
func NewFarmRegistry(ctx context.Context, cfg config.AWSConfig, logger *slog.Logger) *FarmRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		logger.Warn("farm registry running in fallback mode", "error", err)
		return &FarmRegistry{table: cfg.FarmsTable, logger: logger}
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})

	return &FarmRegistry{client: client, table: cfg.FarmsTable, logger: logger}
}

// newFarmRegistryWithClient injects a client, for tests.
func newFarmRegistryWithClient(client dynamoAPI, table string, logger *slog.Logger) *FarmRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &FarmRegistry{client: client, table: table, logger: logger}
}

// List returns all registered farms, falling back to the built-in records
// when no table is configured.
func (r *FarmRegistry) List(ctx context.Context) (*FarmList, error) {
	if r.client == nil {
		return &FarmList{Source: "fallback", Items: fallbackFarms}, nil
	}

	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(r.table),
	})
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRegistry,
			"failed to list farms from registry",
			err,
		)
	}

	items := make([]Farm, 0, len(out.Items))
	for _, it := range out.Items {
		items = append(items, Farm{
			ID:   stringAttr(it["id"]),
			Name: stringAttr(it["name"]),
			Lat:  numberAttr(it["lat"]),
			Lng:  numberAttr(it["lng"]),
		})
	}

	return &FarmList{Source: "dynamodb", Items: items}, nil
}

// Put upserts a farm record. ID and name are required.
func (r *FarmRegistry) Put(ctx context.Context, farm Farm) error {
	if farm.ID == "" || farm.Name == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"id and name are required",
			nil,
		)
	}
	if r.client == nil {
		return types.NewAppError(
			types.ErrCodeUpstreamRegistry,
			"farm registry is not configured for writes",
			nil,
		)
	}

	item := map[string]ddbtypes.AttributeValue{
		"id":   &ddbtypes.AttributeValueMemberS{Value: farm.ID},
		"name": &ddbtypes.AttributeValueMemberS{Value: farm.Name},
	}
	if farm.Lat != nil {
		item["lat"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatFloat(*farm.Lat, 'f', -1, 64)}
	}
	if farm.Lng != nil {
		item["lng"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatFloat(*farm.Lng, 'f', -1, 64)}
	}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	if err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamRegistry,
			"failed to store farm record",
			err,
		)
	}

	r.logger.InfoContext(ctx, "farm record stored", "farm_id", farm.ID)
	return nil
}

func stringAttr(av ddbtypes.AttributeValue) string {
	if s, ok := av.(*ddbtypes.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numberAttr(av ddbtypes.AttributeValue) *float64 {
	n, ok := av.(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return nil
	}
	return &f
}
