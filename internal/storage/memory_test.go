package storage

import (
	"context"
	"errors"
	"testing"

	"transferwatch/internal/model"
)

func event(hash, from, to string) model.TransferEvent {
	return model.TransferEvent{TxHash: hash, From: from, To: to, Amount: "1"}
}

func TestMemoryStoreNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	if err := store.AppendBatch(ctx, []model.TransferEvent{
		event("0x1", "0xa", "0xb"),
		event("0x2", "0xa", "0xb"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendBatch(ctx, []model.TransferEvent{event("0x3", "0xa", "0xb")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	want := []string{"0x3", "0x2", "0x1"}
	if len(got) != len(want) {
		t.Fatalf("want %d events, got %d", len(want), len(got))
	}
	for i, hash := range want {
		if got[i].TxHash != hash {
			t.Fatalf("position %d: want %s, got %s", i, hash, got[i].TxHash)
		}
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	store.AppendBatch(ctx, []model.TransferEvent{
		event("0x1", "0xa", "0xb"),
		event("0x2", "0xa", "0xb"),
		event("0x3", "0xa", "0xb"),
		event("0x4", "0xa", "0xb"),
	})

	got, _ := store.Recent(ctx, 0)
	if len(got) != 3 {
		t.Fatalf("retention 3 should keep 3 events, got %d", len(got))
	}
	if got[0].TxHash != "0x4" || got[2].TxHash != "0x2" {
		t.Fatalf("oldest events should be pruned, got %s..%s", got[0].TxHash, got[2].TxHash)
	}
}

func TestMemoryStoreRecentLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	store.AppendBatch(ctx, []model.TransferEvent{
		event("0x1", "0xa", "0xb"),
		event("0x2", "0xa", "0xb"),
		event("0x3", "0xa", "0xb"),
	})

	got, _ := store.Recent(ctx, 2)
	if len(got) != 2 || got[0].TxHash != "0x3" {
		t.Fatalf("limit 2 should return the 2 newest, got %+v", got)
	}
}

func TestMemoryStoreRecentForAddress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	store.AppendBatch(ctx, []model.TransferEvent{
		event("0x1", "0xAbCd", "0x1111"),
		event("0x2", "0x2222", "0x3333"),
		event("0x3", "0x4444", "0xabcd"),
	})

	got, _ := store.RecentForAddress(ctx, "0xABCD", 0)
	if len(got) != 2 {
		t.Fatalf("address match should be case-insensitive on both sides, got %d events", len(got))
	}
	if got[0].TxHash != "0x3" || got[1].TxHash != "0x1" {
		t.Fatalf("matches should stay newest first, got %s, %s", got[0].TxHash, got[1].TxHash)
	}
}

type errAppender struct{ err error }

func (a *errAppender) AppendBatch(context.Context, []model.TransferEvent) error { return a.err }

func TestFanoutExtraFailureKeepsPrimaryWrite(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore(10)
	fanout := NewFanout(primary, &errAppender{err: errors.New("disk full")})

	err := fanout.AppendBatch(ctx, []model.TransferEvent{event("0x1", "0xa", "0xb")})
	if err == nil {
		t.Fatalf("extra appender error should be reported")
	}

	got, _ := fanout.Recent(ctx, 0)
	if len(got) != 1 {
		t.Fatalf("primary write should survive the extra failure")
	}
}
