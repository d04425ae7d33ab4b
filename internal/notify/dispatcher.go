package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

type job struct {
	address string
	msg     model.Message
}

// Dispatcher hands messages to a Notifier on background workers so that
// callers never wait on the transport. Delivery is best effort: a full
// queue drops the message, and failures are logged and not retried.
type Dispatcher struct {
	notifier model.Notifier
	timeout  time.Duration
	jobs     chan job
	group    errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers immediately; Close stops them.
func NewDispatcher(notifier model.Notifier, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &Dispatcher{
		notifier: notifier,
		timeout:  timeout,
		jobs:     make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.group.Go(d.work)
	}
	return d
}

// Dispatch enqueues a message without blocking and reports whether it
// was accepted.
func (d *Dispatcher) Dispatch(address string, msg model.Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		util.Warn("Dispatcher closed, dropping notification", zap.String("kind", msg.Kind))
		return false
	}

	select {
	case d.jobs <- job{address: address, msg: msg}:
		return true
	default:
		util.Warn("Notification queue full, dropping notification", zap.String("kind", msg.Kind))
		return false
	}
}

func (d *Dispatcher) work() error {
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		start := time.Now()
		err := d.notifier.Deliver(ctx, j.address, j.msg)
		cancel()

		if err != nil {
			util.Error("Notification delivery failed",
				zap.String("kind", j.msg.Kind),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			continue
		}
		util.Debug("Notification delivered",
			zap.String("kind", j.msg.Kind),
			zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}

// Close stops accepting messages, delivers what is queued, and waits for
// the workers. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	err := d.group.Wait()
	util.Info("Notification dispatcher stopped")
	return err
}
