package filter

import (
	"fmt"
	"testing"
	"time"

	"transferwatch/internal/model"
)

const (
	walletA = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	walletB = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	walletC = "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestChain(clock *fakeClock, opts ...Option) *Chain {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewChain(nil, opts...)
}

func event(hash, from, to, amount string) model.TransferEvent {
	return model.TransferEvent{
		Kind:   model.KindToken,
		From:   from,
		To:     to,
		Amount: amount,
		TxHash: hash,
	}
}

func watchAll() model.WatchConfig {
	return model.WatchConfig{TrackingMode: model.TrackBoth}
}

func TestEvaluateScenario(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)

	cfg := model.WatchConfig{
		TrackingMode:    model.TrackBoth,
		ThresholdAmount: "0",
		WatchedWallets:  []model.WatchedWallet{{Address: walletA, Enabled: true}},
		CooldownSeconds: 60,
	}

	verdict := chain.Evaluate(event("0x111", walletA, walletB, "5"), cfg)
	if !verdict.Passed || verdict.Reason != model.ReasonMatched {
		t.Fatalf("event1: want matched, got %+v", verdict)
	}

	verdict = chain.Evaluate(event("0x111", walletA, walletB, "5"), cfg)
	if verdict.Reason != model.ReasonDuplicate || verdict.ShowInFeed {
		t.Fatalf("event2: want hidden duplicate, got %+v", verdict)
	}

	clock.Advance(10 * time.Second)
	verdict = chain.Evaluate(event("0x222", walletA, walletB, "5"), cfg)
	if verdict.Passed || verdict.Reason != model.ReasonCooldown {
		t.Fatalf("event3: want cooldown, got %+v", verdict)
	}
	if !verdict.ShowInFeed {
		t.Fatalf("event3: cooldown verdict must still reach the feed")
	}

	clock.Advance(51 * time.Second)
	verdict = chain.Evaluate(event("0x333", walletA, walletB, "5"), cfg)
	if !verdict.Passed || verdict.Reason != model.ReasonMatched {
		t.Fatalf("event4: want matched, got %+v", verdict)
	}
}

func TestDedupIdempotence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)
	cfg := watchAll()

	first := chain.Evaluate(event("0xabc", walletA, walletB, "1"), cfg)
	if first.Reason == model.ReasonDuplicate {
		t.Fatalf("first occurrence flagged duplicate: %+v", first)
	}
	second := chain.Evaluate(event("0xABC", walletC, walletA, "9"), cfg)
	if second.Reason != model.ReasonDuplicate {
		t.Fatalf("second occurrence not flagged duplicate: %+v", second)
	}
}

func TestDuplicateMutatesNoState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)
	cfg := model.WatchConfig{TrackingMode: model.TrackBoth, CooldownSeconds: 60}

	// Event below threshold marks the hash seen but stamps no cooldown.
	lowCfg := cfg
	lowCfg.ThresholdAmount = "100"
	chain.Evaluate(event("0x1", walletA, walletB, "1"), lowCfg)

	// The duplicate of it must not stamp cooldowns either, so a fresh
	// hash still matches right away.
	chain.Evaluate(event("0x1", walletA, walletB, "1000"), cfg)
	verdict := chain.Evaluate(event("0x2", walletA, walletB, "1"), cfg)
	if !verdict.Passed {
		t.Fatalf("cooldown stamped by a non-matched or duplicate event: %+v", verdict)
	}
}

func TestThresholdMonotonicity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	for i, tc := range []struct {
		threshold string
		pass      bool
	}{
		{"0", true},
		{"2.5", true},
		{"5", true},
		{"5.000001", false},
		{"50", false},
	} {
		chain := newTestChain(clock)
		cfg := watchAll()
		cfg.ThresholdAmount = tc.threshold

		verdict := chain.Evaluate(event(fmt.Sprintf("0x%d", i), walletA, walletB, "5"), cfg)
		passed := verdict.Reason != model.ReasonBelowThreshold
		if passed != tc.pass {
			t.Fatalf("threshold %s: want pass=%v, got %+v", tc.threshold, tc.pass, verdict)
		}
	}
}

func TestCooldownBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)
	cfg := model.WatchConfig{TrackingMode: model.TrackBoth, CooldownSeconds: 30}

	if verdict := chain.Evaluate(event("0x1", walletA, walletB, "1"), cfg); !verdict.Passed {
		t.Fatalf("initial event: %+v", verdict)
	}

	clock.Advance(29 * time.Second)
	if verdict := chain.Evaluate(event("0x2", walletA, walletC, "1"), cfg); verdict.Reason != model.ReasonCooldown {
		t.Fatalf("inside window: want cooldown, got %+v", verdict)
	}

	clock.Advance(1 * time.Second)
	if verdict := chain.Evaluate(event("0x3", walletA, walletC, "1"), cfg); !verdict.Passed {
		t.Fatalf("at window edge: want matched, got %+v", verdict)
	}
}

func TestCooldownCoversRecipient(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)
	cfg := model.WatchConfig{TrackingMode: model.TrackBoth, CooldownSeconds: 60}

	chain.Evaluate(event("0x1", walletA, walletB, "1"), cfg)

	clock.Advance(5 * time.Second)
	verdict := chain.Evaluate(event("0x2", walletC, walletB, "1"), cfg)
	if verdict.Reason != model.ReasonCooldown {
		t.Fatalf("recipient stamp not honored: %+v", verdict)
	}
}

func TestEmptyWatchListPassesAll(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)
	cfg := watchAll()

	for i, from := range []string{walletA, walletB, walletC} {
		verdict := chain.Evaluate(event(fmt.Sprintf("0x%d", i), from, walletC, "1"), cfg)
		if verdict.Reason == model.ReasonNotWatched {
			t.Fatalf("empty watch list rejected %s: %+v", from, verdict)
		}
	}
}

func TestDisabledWalletNotWatched(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)
	cfg := watchAll()
	cfg.WatchedWallets = []model.WatchedWallet{{Address: walletA, Enabled: false}}

	verdict := chain.Evaluate(event("0x1", walletA, walletB, "1"), cfg)
	if verdict.Reason != model.ReasonNotWatched {
		t.Fatalf("disabled wallet treated as watched: %+v", verdict)
	}
	if !verdict.ShowInFeed {
		t.Fatalf("not_watched verdict must still reach the feed")
	}
}

func TestSeenSetBulkEviction(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock, WithSeenCapacity(20))
	cfg := watchAll()

	for i := 0; i < 20; i++ {
		chain.Evaluate(event(fmt.Sprintf("0x%02d", i), walletA, walletB, "1"), cfg)
	}

	// The 21st insert evicts the oldest tenth (2 hashes) in one sweep.
	chain.Evaluate(event("0xnew", walletA, walletB, "1"), cfg)

	if verdict := chain.Evaluate(event("0x00", walletA, walletB, "1"), cfg); verdict.Reason == model.ReasonDuplicate {
		t.Fatalf("oldest hash should have been evicted")
	}
	if verdict := chain.Evaluate(event("0x05", walletA, walletB, "1"), cfg); verdict.Reason != model.ReasonDuplicate {
		t.Fatalf("recent hash evicted too early: %+v", verdict)
	}
	if verdict := chain.Evaluate(event("0xnew", walletA, walletB, "1"), cfg); verdict.Reason != model.ReasonDuplicate {
		t.Fatalf("newest hash must stay in the set: %+v", verdict)
	}
}

func TestStatsCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	chain := newTestChain(clock)
	cfg := watchAll()

	chain.Evaluate(event("0x1", walletA, walletB, "1"), cfg)
	chain.Evaluate(event("0x1", walletA, walletB, "1"), cfg)

	stats := chain.Stats()
	if stats.Processed != 2 || stats.Matched != 1 || stats.Duplicates != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
