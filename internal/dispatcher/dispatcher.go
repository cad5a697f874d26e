// Package dispatcher drains PENDING notifications: it claims bounded
// batches oldest-first, invokes the channel sender for each, and records
// the outcome per row.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-notify/internal/models"
)

// Queue is the slice of the notifications repository the dispatcher needs.
type Queue interface {
	RequeueStale(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error)
	ClaimPending(ctx context.Context, batchSize int, now time.Time) ([]models.Delivery, error)
	MarkSent(ctx context.Context, notificationID string, now time.Time) error
	MarkFailed(ctx context.Context, notificationID, errorMessage string, now time.Time) error
}

// Options tunes one drain run.
type Options struct {
	BatchSize   int
	Workers     int           // bounded per-notification send concurrency
	SendTimeout time.Duration // per-notification send timeout
	StaleClaim  time.Duration // SENDING rows older than this are requeued
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:   100,
		Workers:     4,
		SendTimeout: 15 * time.Second,
		StaleClaim:  10 * time.Minute,
	}
}

// RunStats summarizes one drain run for the heartbeat.
type RunStats struct {
	Sent     int
	Failed   int
	Requeued int64
}

// Details renders the heartbeat details line.
func (s RunStats) Details() string {
	return fmt.Sprintf("Sent: %d, Failed: %d, Requeued: %d", s.Sent, s.Failed, s.Requeued)
}

// Dispatcher drains the pending notification queue.
type Dispatcher struct {
	queue   Queue
	senders SenderRegistry
	opts    Options
	logger  *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates the dispatcher.
func New(queue Queue, senders SenderRegistry, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultOptions().SendTimeout
	}
	if opts.StaleClaim <= 0 {
		opts.StaleClaim = DefaultOptions().StaleClaim
	}
	return &Dispatcher{
		queue:   queue,
		senders: senders,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Drain claims and delivers pending notifications until the queue is empty
// or the context is cancelled. One notification's failure never aborts the
// batch; unclaimed PENDING rows are left for the next invocation.
func (d *Dispatcher) Drain(ctx context.Context) (RunStats, error) {
	stats := RunStats{}

	requeued, err := d.queue.RequeueStale(ctx, d.opts.StaleClaim, d.now())
	if err != nil {
		return stats, fmt.Errorf("failed to requeue stale claims: %w", err)
	}
	stats.Requeued = requeued
	if requeued > 0 {
		d.logger.Warn("Requeued stale claimed notifications",
			zap.Int64("count", requeued),
		)
	}

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		batch, err := d.queue.ClaimPending(ctx, d.opts.BatchSize, d.now())
		if err != nil {
			return stats, fmt.Errorf("failed to claim pending notifications: %w", err)
		}
		if len(batch) == 0 {
			return stats, nil
		}

		sent, failed := d.deliverBatch(ctx, batch)
		stats.Sent += sent
		stats.Failed += failed

		if len(batch) < d.opts.BatchSize {
			return stats, nil
		}
	}
}

// deliverBatch sends one claimed batch with bounded concurrency. Claimed
// rows are independent, so order within the batch does not matter.
func (d *Dispatcher) deliverBatch(ctx context.Context, batch []models.Delivery) (int, int) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		sent   int
		failed int
	)
	sem := make(chan struct{}, d.opts.Workers)

	for i := range batch {
		delivery := &batch[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ok := d.deliverOne(ctx, delivery)
			mu.Lock()
			if ok {
				sent++
			} else {
				failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return sent, failed
}

// deliverOne attempts one send and records the outcome. Returns true when
// the notification reached SENT.
func (d *Dispatcher) deliverOne(ctx context.Context, delivery *models.Delivery) bool {
	sender, ok := d.senders[delivery.Channel]
	if !ok {
		d.fail(ctx, delivery, fmt.Sprintf("no sender registered for channel %s", delivery.Channel))
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	if err := sender.Send(sendCtx, delivery); err != nil {
		d.fail(ctx, delivery, err.Error())
		return false
	}

	if err := d.queue.MarkSent(ctx, delivery.ID, d.now()); err != nil {
		d.logger.Error("Failed to mark notification sent",
			zap.String("notification_id", delivery.ID),
			zap.Error(err),
		)
		return false
	}

	d.logger.Debug("Notification sent",
		zap.String("notification_id", delivery.ID),
		zap.String("channel", delivery.Channel),
		zap.String("recipient_id", delivery.RecipientID),
	)
	return true
}

func (d *Dispatcher) fail(ctx context.Context, delivery *models.Delivery, cause string) {
	d.logger.Warn("Notification send failed",
		zap.String("notification_id", delivery.ID),
		zap.String("channel", delivery.Channel),
		zap.String("cause", cause),
	)
	if err := d.queue.MarkFailed(ctx, delivery.ID, cause, d.now()); err != nil {
		d.logger.Error("Failed to mark notification failed",
			zap.String("notification_id", delivery.ID),
			zap.Error(err),
		)
	}
}
