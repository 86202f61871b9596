package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transferwatch/internal/model"
)

// Store provides Postgres persistence for transfer events.
type Store struct {
	pool      *pgxpool.Pool
	retention int
}

// NewStore connects a pool, ensures the schema, and configures the
// retention count; retention 0 disables trimming.
func NewStore(ctx context.Context, dsn string, retention int) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transfer_events (
			id           BIGSERIAL PRIMARY KEY,
			kind         TEXT NOT NULL,
			from_address TEXT NOT NULL,
			to_address   TEXT NOT NULL,
			amount       TEXT NOT NULL,
			raw_amount   TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			block_time   BIGINT NOT NULL DEFAULT 0,
			tx_hash      TEXT NOT NULL UNIQUE,
			token_symbol TEXT NOT NULL DEFAULT '',
			token_name   TEXT NOT NULL DEFAULT '',
			observed_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transfer_events_observed_at_idx
			ON transfer_events (observed_at DESC);
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool, retention: retention}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// AppendBatch inserts a batch of events and trims entries past retention.
func (s *Store) AppendBatch(ctx context.Context, events []model.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(`
			INSERT INTO transfer_events (
				kind, from_address, to_address, amount, raw_amount,
				block_number, block_time, tx_hash, token_symbol, token_name, observed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (tx_hash) DO NOTHING
		`,
			string(event.Kind),
			event.From,
			event.To,
			event.Amount,
			event.RawAmount,
			int64(event.BlockNumber),
			int64(event.BlockTime),
			event.TxHash,
			event.TokenSymbol,
			event.TokenName,
			event.ObservedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	// The batch must be closed before the trim query reuses the pool.
	if err := br.Close(); err != nil {
		return err
	}

	if s.retention > 0 {
		_, err := s.pool.Exec(ctx, `
			DELETE FROM transfer_events
			WHERE id NOT IN (
				SELECT id FROM transfer_events ORDER BY observed_at DESC LIMIT $1
			)
		`, s.retention)
		if err != nil {
			return fmt.Errorf("trim retention: %w", err)
		}
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.TransferEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, from_address, to_address, amount, raw_amount,
		       block_number, block_time, tx_hash, token_symbol, token_name, observed_at
		FROM transfer_events
		ORDER BY observed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentForAddress returns up to limit events touching the address.
func (s *Store) RecentForAddress(ctx context.Context, address string, limit int) ([]model.TransferEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, from_address, to_address, amount, raw_amount,
		       block_number, block_time, tx_hash, token_symbol, token_name, observed_at
		FROM transfer_events
		WHERE lower(from_address) = lower($1) OR lower(to_address) = lower($1)
		ORDER BY observed_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]model.TransferEvent, error) {
	var events []model.TransferEvent
	for rows.Next() {
		var event model.TransferEvent
		var kind string
		var blockNumber, blockTime int64
		if err := rows.Scan(
			&kind,
			&event.From,
			&event.To,
			&event.Amount,
			&event.RawAmount,
			&blockNumber,
			&blockTime,
			&event.TxHash,
			&event.TokenSymbol,
			&event.TokenName,
			&event.ObservedAt,
		); err != nil {
			return nil, err
		}
		event.Kind = model.TransferKind(kind)
		event.BlockNumber = uint64(blockNumber)
		event.BlockTime = uint64(blockTime)
		events = append(events, event)
	}
	return events, rows.Err()
}
