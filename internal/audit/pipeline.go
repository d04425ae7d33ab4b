package audit

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"passwordless-auth/internal/util"
)

const sinkTimeout = 10 * time.Second

// Pipeline buffers events and writes them to every sink in batches, on
// size or on interval, whichever comes first. Recording never blocks: a
// full buffer drops the event.
type Pipeline struct {
	sinks         []Sink
	events        chan Event
	batchSize     int
	flushInterval time.Duration
	group         errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func NewPipeline(sinks []Sink, bufferSize, batchSize int, flushInterval time.Duration) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}

	p := &Pipeline{
		sinks:         sinks,
		events:        make(chan Event, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
	p.group.Go(p.run)
	return p
}

func (p *Pipeline) Record(event Event) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.events <- event:
	default:
		util.Warn("Audit buffer full, dropping event", zap.String("event_type", string(event.Type)))
	}
}

func (p *Pipeline) run() error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, p.batchSize)
	for {
		select {
		case event, ok := <-p.events:
			if !ok {
				p.flush(batch)
				return nil
			}
			batch = append(batch, event)
			if len(batch) >= p.batchSize {
				p.flush(batch)
				batch = make([]Event, 0, p.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(batch)
				batch = make([]Event, 0, p.batchSize)
			}
		}
	}
}

func (p *Pipeline) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.Write(ctx, batch)
		cancel()
		if err != nil {
			util.Error("Failed to write audit batch",
				zap.String("sink", sink.Name()),
				zap.Int("events", len(batch)),
				zap.Error(err))
		}
	}
}

// Close flushes buffered events and stops the pipeline. Safe to call
// more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	err := p.group.Wait()
	util.Info("Audit pipeline stopped")
	return err
}
