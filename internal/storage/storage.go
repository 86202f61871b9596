package storage

import (
	"context"

	"transferwatch/internal/model"
)

// Appender is the write half of a persistence sink.
type Appender interface {
	AppendBatch(ctx context.Context, events []model.TransferEvent) error
}

// Store is a persistence sink with most-recent-first history reads.
type Store interface {
	Appender
	Recent(ctx context.Context, limit int) ([]model.TransferEvent, error)
	RecentForAddress(ctx context.Context, address string, limit int) ([]model.TransferEvent, error)
}
