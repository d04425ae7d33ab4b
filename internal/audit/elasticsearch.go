package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// BulkIndexer is the subset of client.ESClient the sink needs.
type BulkIndexer interface {
	Bulk(ctx context.Context, index string, body io.Reader) error
}

type ElasticsearchSink struct {
	client BulkIndexer
	index  string
}

func NewElasticsearchSink(client BulkIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

// Write indexes the batch with the event id as document id, so a retried
// batch does not duplicate documents.
func (s *ElasticsearchSink) Write(ctx context.Context, events []Event) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		meta := map[string]map[string]string{"index": {"_id": e.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to encode bulk meta: %w", err)
		}
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
	}

	if err := s.client.Bulk(ctx, s.index, &buf); err != nil {
		return fmt.Errorf("failed to index audit events: %w", err)
	}
	return nil
}
