package storage

import (
	"context"
	"strings"
	"sync"

	"transferwatch/internal/model"
)

const defaultRetention = 1000

// MemoryStore keeps the most recent events in memory, newest first,
// bounded to a retention count.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []model.TransferEvent
	retention int
}

// NewMemoryStore builds a MemoryStore with the given retention count.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &MemoryStore{retention: retention}
}

// AppendBatch records a batch, pruning the oldest entries past retention.
func (s *MemoryStore) AppendBatch(_ context.Context, events []model.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Within a batch the later event is the newer one.
	merged := make([]model.TransferEvent, 0, len(events)+len(s.events))
	for i := len(events) - 1; i >= 0; i-- {
		merged = append(merged, events[i])
	}
	merged = append(merged, s.events...)
	if len(merged) > s.retention {
		merged = merged[:s.retention]
	}
	s.events = merged
	return nil
}

// Recent returns up to limit events, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]model.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyLimit(s.events, limit), nil
}

// RecentForAddress returns up to limit events touching the address.
func (s *MemoryStore) RecentForAddress(_ context.Context, address string, limit int) ([]model.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]model.TransferEvent, 0, limit)
	for _, event := range s.events {
		if strings.EqualFold(event.From, address) || strings.EqualFold(event.To, address) {
			matched = append(matched, event)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func copyLimit(events []model.TransferEvent, limit int) []model.TransferEvent {
	n := len(events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.TransferEvent, n)
	copy(out, events[:n])
	return out
}

// Fanout writes to a primary Store plus extra appenders and reads from the
// primary. A failing extra appender is reported but does not undo the
// primary write.
type Fanout struct {
	primary Store
	extras  []Appender
}

// NewFanout builds a Fanout store.
func NewFanout(primary Store, extras ...Appender) *Fanout {
	return &Fanout{primary: primary, extras: extras}
}

// AppendBatch appends to the primary and every extra appender.
func (f *Fanout) AppendBatch(ctx context.Context, events []model.TransferEvent) error {
	if err := f.primary.AppendBatch(ctx, events); err != nil {
		return err
	}
	var firstErr error
	for _, extra := range f.extras {
		if err := extra.AppendBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recent reads from the primary store.
func (f *Fanout) Recent(ctx context.Context, limit int) ([]model.TransferEvent, error) {
	return f.primary.Recent(ctx, limit)
}

// RecentForAddress reads from the primary store.
func (f *Fanout) RecentForAddress(ctx context.Context, address string, limit int) ([]model.TransferEvent, error) {
	return f.primary.RecentForAddress(ctx, address, limit)
}
