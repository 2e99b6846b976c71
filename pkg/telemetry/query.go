package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ModelUsage represents aggregated usage for a single model.
type ModelUsage struct {
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	Errors           int64   `json:"errors"`
	Retries          int64   `json:"retries"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	AvgResponseMs    float64 `json:"avg_response_ms"`
}

// QueryService provides methods to query recorded chat metrics back out
// of Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against the given
// Prometheus server.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// scalar runs a query expected to reduce to a single sample and returns
// its value, or zero when the series does not exist yet.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetModelUsage retrieves aggregated request, retry, and token usage for
// a specific model.
func (q *QueryService) GetModelUsage(ctx context.Context, modelName string) (*ModelUsage, error) {
	usage := &ModelUsage{Model: modelName}

	requests, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{model=%q})`, MetricRequestsTotal, modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	usage.Requests = int64(requests)

	errorsTotal, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{model=%q, status="error"})`, MetricRequestsTotal, modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	usage.Errors = int64(errorsTotal)

	retries, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{model=%q})`, MetricRetriesTotal, modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to query retries: %w", err)
	}
	usage.Retries = int64(retries)

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{model=%q, type="prompt"})`, MetricTokensTotal, modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	usage.PromptTokens = int64(prompt)

	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{model=%q, type="completion"})`, MetricTokensTotal, modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	usage.CompletionTokens = int64(completion)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	avgQuery := fmt.Sprintf(`sum(%s_sum{model=%q}) / sum(%s_count{model=%q})`,
		MetricResponseTimeMs, modelName, MetricResponseTimeMs, modelName)
	avg, err := q.scalar(ctx, avgQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query response time: %w", err)
	}
	usage.AvgResponseMs = avg

	return usage, nil
}

// ListModels returns the model names that have recorded requests.
func (q *QueryService) ListModels(ctx context.Context) ([]string, error) {
	result, _, err := q.queryAPI.Query(ctx,
		fmt.Sprintf(`group by (model) (%s)`, MetricRequestsTotal), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				models = append(models, string(name))
			}
		}
	}
	return models, nil
}
