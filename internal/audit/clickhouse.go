package audit

import (
	"context"
	"fmt"
)

// BatchInserter is the subset of client.ClickHouseClient the sink needs.
type BatchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

type ClickHouseSink struct {
	client BatchInserter
	table  string
}

func NewClickHouseSink(client BatchInserter, table string) *ClickHouseSink {
	return &ClickHouseSink{client: client, table: table}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the events table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id String,
		event_type LowCardinality(String),
		subject_key String,
		identity_id String,
		reason String,
		occurred_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(occurred_at)
	ORDER BY (event_type, occurred_at)
	TTL toDateTime(occurred_at) + INTERVAL 180 DAY`, s.table)

	if err := s.client.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Write(ctx context.Context, events []Event) error {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.ID, string(e.Type), e.SubjectKey, e.IdentityID, e.Reason, e.OccurredAt,
		})
	}

	query := fmt.Sprintf("INSERT INTO %s (event_id, event_type, subject_key, identity_id, reason, occurred_at)", s.table)
	if err := s.client.BatchInsert(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to insert audit events: %w", err)
	}
	return nil
}
