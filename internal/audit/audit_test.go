package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"passwordless-auth/internal/audit"
	"passwordless-auth/internal/util"
)

func TestMain(m *testing.M) {
	util.Replace(zap.NewNop())
	goleak.VerifyTestMain(m)
}

type memorySink struct {
	mu      sync.Mutex
	batches [][]audit.Event
	err     error
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Write(ctx context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]audit.Event(nil), events...))
	return s.err
}

func (s *memorySink) snapshot() [][]audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]audit.Event(nil), s.batches...)
}

func (s *memorySink) total() int {
	n := 0
	for _, b := range s.snapshot() {
		n += len(b)
	}
	return n
}

func TestPipelineFlushesOnBatchSize(t *testing.T) {
	sink := &memorySink{}
	p := audit.NewPipeline([]audit.Sink{sink}, 16, 2, time.Hour)

	for i := 0; i < 4; i++ {
		p.Record(audit.Event{Type: audit.EventOTPRequested, SubjectKey: "a@x.com"})
	}
	require.Eventually(t, func() bool { return sink.total() == 4 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())

	for _, b := range sink.snapshot() {
		assert.Len(t, b, 2)
		for _, e := range b {
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.OccurredAt.IsZero())
		}
	}
}

func TestPipelineFlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	p := audit.NewPipeline([]audit.Sink{sink}, 16, 100, 10*time.Millisecond)
	defer p.Close()

	p.Record(audit.Event{Type: audit.EventSessionRevoked})
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPipelineFlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	p := audit.NewPipeline([]audit.Sink{sink}, 16, 100, time.Hour)

	p.Record(audit.Event{Type: audit.EventOTPVerified})
	p.Record(audit.Event{Type: audit.EventOTPRejected})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, 2, sink.total())

	p.Record(audit.Event{Type: audit.EventOTPVerified})
	assert.Equal(t, 2, sink.total())
}

func TestPipelineKeepsWritingToHealthySinks(t *testing.T) {
	broken := &memorySink{err: errors.New("unavailable")}
	healthy := &memorySink{}
	p := audit.NewPipeline([]audit.Sink{broken, healthy}, 16, 1, time.Hour)

	p.Record(audit.Event{Type: audit.EventMagicLinkIssued})
	p.Record(audit.Event{Type: audit.EventMagicLinkVerified})
	require.NoError(t, p.Close())

	assert.Equal(t, 2, healthy.total())
	assert.Equal(t, 2, broken.total())
}

type fakeClickHouse struct {
	execs []string
	query string
	rows  [][]interface{}
}

func (f *fakeClickHouse) Exec(ctx context.Context, query string, args ...interface{}) error {
	f.execs = append(f.execs, query)
	return nil
}

func (f *fakeClickHouse) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	f.query, f.rows = query, data
	return nil
}

func TestClickHouseSink(t *testing.T) {
	ch := &fakeClickHouse{}
	sink := audit.NewClickHouseSink(ch, "auth_events")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, sink.EnsureTable(context.Background()))
	require.Len(t, ch.execs, 1)
	assert.Contains(t, ch.execs[0], "CREATE TABLE IF NOT EXISTS auth_events")

	err := sink.Write(context.Background(), []audit.Event{
		{ID: "e1", Type: audit.EventOTPVerified, SubjectKey: "a@x.com", IdentityID: "u1", OccurredAt: now},
	})
	require.NoError(t, err)
	assert.Contains(t, ch.query, "INSERT INTO auth_events")
	require.Len(t, ch.rows, 1)
	assert.Equal(t, []interface{}{"e1", "otp_verified", "a@x.com", "u1", "", now}, ch.rows[0])
}

type fakeBulk struct {
	index string
	body  []byte
}

func (f *fakeBulk) Bulk(ctx context.Context, index string, body io.Reader) error {
	f.index = index
	var err error
	f.body, err = io.ReadAll(body)
	return err
}

func TestElasticsearchSink(t *testing.T) {
	es := &fakeBulk{}
	sink := audit.NewElasticsearchSink(es, "auth-events")

	err := sink.Write(context.Background(), []audit.Event{
		{ID: "e1", Type: audit.EventOTPRequested, SubjectKey: "a@x.com"},
		{ID: "e2", Type: audit.EventOTPRateLimited, SubjectKey: "a@x.com", Reason: "retry_after=12s"},
	})
	require.NoError(t, err)
	assert.Equal(t, "auth-events", es.index)

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(es.body))
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 4)
	assert.Equal(t, map[string]interface{}{"index": map[string]interface{}{"_id": "e1"}}, lines[0])
	assert.Equal(t, "otp_requested", lines[1]["event_type"])
	assert.Equal(t, "retry_after=12s", lines[3]["reason"])
}
