package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"transferwatch/internal/model"
)

// JsonlStore appends transfer events to a JSONL file. It is an Appender
// only; history reads come from the in-memory or Postgres store.
type JsonlStore struct {
	path string
	mu   sync.Mutex
}

// NewJsonlStore builds a JsonlStore writing to path.
func NewJsonlStore(path string) *JsonlStore {
	return &JsonlStore{path: path}
}

// AppendBatch appends a batch of events as JSON lines.
func (s *JsonlStore) AppendBatch(_ context.Context, events []model.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal transfer event: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write transfer event: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
