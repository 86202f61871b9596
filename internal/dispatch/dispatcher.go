package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"transferwatch/internal/model"
	"transferwatch/internal/notify"
	"transferwatch/internal/storage"
)

// FeedTopic is the broadcast topic for filtered transfer events.
const FeedTopic = "transfers"

// Feed is the live broadcast primitive; satisfied by feed.Hub.
type Feed interface {
	Publish(topic string, payload interface{})
}

// FeedMessage is the payload published to feed subscribers.
type FeedMessage struct {
	Event   model.TransferEvent `json:"event"`
	Verdict model.FilterVerdict `json:"verdict"`
}

// Config holds dispatcher settings.
type Config struct {
	Retry         RetryPolicy
	FlushInterval time.Duration
	MaxBatch      int
	DrainGrace    time.Duration
}

// Dispatcher fans filtered events out to persistence, notification, and the
// live feed. Sink failures are isolated: one sink failing never stops the
// others or subsequent events.
type Dispatcher struct {
	cfg       Config
	persister storage.Appender
	notifier  notify.Notifier
	feed      Feed
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	mu      sync.Mutex
	pending []model.TransferEvent
	last    *model.DispatchResult

	notifyWG sync.WaitGroup
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(cfg Config, persister storage.Appender, notifier notify.Notifier, feed Feed, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 5 * time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		persister: persister,
		notifier:  notifier,
		feed:      feed,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Dispatch routes one event according to its verdict. Persistence is
// initiated before the notification goroutine starts; the feed receives
// every non-duplicate verdict.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.TransferEvent, verdict model.FilterVerdict) {
	if verdict.ShowInFeed && d.feed != nil {
		d.feed.Publish(FeedTopic, FeedMessage{Event: event, Verdict: verdict})
	}

	if verdict.Reason != model.ReasonMatched {
		return
	}

	d.enqueue(ctx, event)

	if d.notifier != nil {
		d.notifyWG.Add(1)
		go func() {
			defer d.notifyWG.Done()
			d.notifyWithRetry(ctx, event)
		}()
	}
}

// Run drives the persistence flush loop until ctx is cancelled, then
// drains: pending writes are flushed and in-flight notifications get a
// bounded grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.flush(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainGrace)
			d.flush(drainCtx)
			cancel()

			done := make(chan struct{})
			go func() {
				d.notifyWG.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(d.cfg.DrainGrace):
				d.logger.Warn("notifier retries abandoned at shutdown")
			}
			return nil
		}
	}
}

// LastResult returns the most recent dispatch outcome.
func (d *Dispatcher) LastResult() *model.DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	result := *d.last
	return &result
}

// enqueue coalesces persistence writes; a full buffer flushes inline.
func (d *Dispatcher) enqueue(ctx context.Context, event model.TransferEvent) {
	d.mu.Lock()
	d.pending = append(d.pending, event)
	full := len(d.pending) >= d.cfg.MaxBatch
	d.mu.Unlock()

	d.recordDispatch(event)

	if full {
		d.flush(ctx)
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if d.persister == nil {
		return
	}
	if err := d.persister.AppendBatch(ctx, batch); err != nil {
		d.logger.Error("persistence write failed",
			zap.Int("events", len(batch)), zap.Error(err))
		d.setLastError(batch[len(batch)-1].TxHash, func(r *model.DispatchResult) {
			r.PersistError = err.Error()
		})
	}
}

func (d *Dispatcher) notifyWithRetry(ctx context.Context, event model.TransferEvent) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retry.MaxAttempts; attempt++ {
		lastErr = d.notifier.Send(ctx, event)
		if lastErr == nil {
			d.setLastError(event.TxHash, func(r *model.DispatchResult) {
				r.NotifyAttempts = attempt
				r.NotifyError = ""
			})
			return
		}

		transient := notify.IsTransient(lastErr)
		d.logger.Warn("notification attempt failed",
			zap.String("tx_hash", event.TxHash),
			zap.Int("attempt", attempt),
			zap.Bool("transient", transient),
			zap.Error(lastErr))

		if attempt == d.cfg.Retry.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, d.cfg.Retry.Delay(attempt, transient)); err != nil {
			break
		}
	}

	// Exhausted: the event stays processed, the failure is reported and
	// never retried later.
	d.logger.Error("notification abandoned",
		zap.String("tx_hash", event.TxHash),
		zap.Int("attempts", d.cfg.Retry.MaxAttempts),
		zap.Error(lastErr))
	d.setLastError(event.TxHash, func(r *model.DispatchResult) {
		r.NotifyAttempts = d.cfg.Retry.MaxAttempts
		if lastErr != nil {
			r.NotifyError = lastErr.Error()
		}
	})
}

func (d *Dispatcher) recordDispatch(event model.TransferEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = &model.DispatchResult{TxHash: event.TxHash, DispatchedAt: time.Now()}
}

func (d *Dispatcher) setLastError(txHash string, update func(*model.DispatchResult)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil || d.last.TxHash != txHash {
		d.last = &model.DispatchResult{TxHash: txHash, DispatchedAt: time.Now()}
	}
	update(d.last)
}
