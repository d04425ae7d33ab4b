package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"passwordless-auth/internal/config"
)

// ESClient indexes audit events. Only bulk writes and a liveness probe
// are needed.
type ESClient struct {
	Client *elasticsearch.Client
	config config.ElasticsearchConfig
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.IsDevelopment(), // dev clusters use self-signed certs
			},
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		RetryOnStatus:       []int{502, 503, 504, 429},
		MaxRetries:          3,
		CompressRequestBody: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{Client: client, config: esConfig}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := esClient.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	logger.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
		zap.String("audit_index", esConfig.Index))
	return esClient, nil
}

// Close is a no-op; the transport holds no resources that need releasing.
func (e *ESClient) Close() {}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Ping(e.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping cluster: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk sends an NDJSON bulk body to index. It fails if the request or
// any item in it failed, reporting the first item error.
func (e *ESClient) Bulk(ctx context.Context, index string, body io.Reader) error {
	res, err := e.Client.Bulk(body,
		e.Client.Bulk.WithContext(ctx),
		e.Client.Bulk.WithIndex(index),
	)
	if err != nil {
		return fmt.Errorf("error executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch bulk error: %s", res.Status())
	}

	var summary bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		return fmt.Errorf("error decoding bulk response: %w", err)
	}
	if !summary.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range summary.Items {
		for _, result := range item {
			if result.Status < 300 {
				continue
			}
			failed++
			if first == "" {
				first = result.Error.Type + ": " + result.Error.Reason
			}
		}
	}
	return fmt.Errorf("elasticsearch bulk request had %d failed items, first: %s", failed, first)
}
