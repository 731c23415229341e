package xray

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsxray "github.com/aws/aws-sdk-go-v2/service/xray"
	"github.com/aws/aws-sdk-go-v2/service/xray/types"
	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/models"
)

// API is the slice of the X-Ray query surface the pipeline consumes. Both
// calls are idempotent reads.
type API interface {
	TraceIDs(ctx context.Context, start, end time.Time) ([]string, error)
	BatchTraces(ctx context.Context, ids []string) ([]models.Trace, error)
}

type Config struct {
	Region  string
	Profile string

	BatchSize     int
	Concurrency   int
	RetryAttempts int
}

type Client struct {
	api    *awsxray.Client
	logger *zap.Logger
}

func NewClient(ctx context.Context, cfg *Config, logger *zap.Logger) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		api:    awsxray.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// TraceIDs lists every trace id in [start, end]. Sampling is disabled so the
// listing is exhaustive; pages are drained in order.
func (c *Client) TraceIDs(ctx context.Context, start, end time.Time) ([]string, error) {
	input := &awsxray.GetTraceSummariesInput{
		StartTime:     aws.Time(start),
		EndTime:       aws.Time(end),
		Sampling:      aws.Bool(false),
		TimeRangeType: types.TimeRangeTypeTraceId,
	}

	var ids []string
	paginator := awsxray.NewGetTraceSummariesPaginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list trace summaries: %w", err)
		}
		for _, summary := range page.TraceSummaries {
			if summary.Id != nil {
				ids = append(ids, *summary.Id)
			}
		}
	}

	c.logger.Debug("listed trace summaries",
		zap.Int("count", len(ids)),
		zap.Time("start", start),
		zap.Time("end", end))

	return ids, nil
}

// BatchTraces hydrates full trace detail for up to batchLimit ids.
func (c *Client) BatchTraces(ctx context.Context, ids []string) ([]models.Trace, error) {
	var traces []models.Trace
	paginator := awsxray.NewBatchGetTracesPaginator(c.api, &awsxray.BatchGetTracesInput{
		TraceIds: ids,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch trace batch: %w", err)
		}
		for _, tr := range page.Traces {
			trace := models.Trace{}
			if tr.Id != nil {
				trace.ID = *tr.Id
			}
			for _, seg := range tr.Segments {
				if seg.Document != nil {
					trace.Segments = append(trace.Segments, *seg.Document)
				}
			}
			traces = append(traces, trace)
		}
		if len(page.UnprocessedTraceIds) > 0 {
			c.logger.Warn("backend left trace ids unprocessed",
				zap.Int("count", len(page.UnprocessedTraceIds)))
		}
	}
	return traces, nil
}
