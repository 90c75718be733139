// Package inference talks to the local model server over HTTP and adapts it
// to the embedding, generation, rerank and span-extraction ports. Every call
// goes through the shared resilience executor.
package inference

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rialtolabs/ragcore/internal/infrastructure/resilience"
	"github.com/rialtolabs/ragcore/internal/observability/metrics"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client

	exec     *resilience.Executor
	recorder *metrics.EngineMetrics
	service  string
}

func New(
	baseURL, genModel, embedModel string,
	timeout time.Duration,
	exec *resilience.Executor,
	recorder *metrics.EngineMetrics,
	service string,
) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		exec:       exec,
		recorder:   recorder,
		service:    service,
	}
}

// execute runs fn under the resilience policy and counts terminal failures.
func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := c.exec.Execute(ctx, operation, fn, classifyInferenceError)
	if err != nil {
		c.recorder.ObserveInferenceFailure(c.service, operation)
	}
	return err
}
