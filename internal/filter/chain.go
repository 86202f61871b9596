package filter

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"transferwatch/internal/model"
)

const (
	defaultSeenCapacity = 10000
	cooldownMaxAge      = time.Hour
)

// Clock abstracts time for testability.
type Clock func() time.Time

// Chain runs the ordered filter checks: duplicate, threshold, watch list,
// cooldown. The order is a correctness requirement: the mark-processed step
// and the cooldown stamps are side effects that must never happen for a
// duplicate.
type Chain struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
	capacity  int
	cooldowns map[string]time.Time
	stats     model.FilterStats
	now       Clock
	logger    *zap.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock replaces the wall clock, for tests.
func WithClock(clock Clock) Option {
	return func(c *Chain) { c.now = clock }
}

// WithSeenCapacity bounds the recently-seen hash set.
func WithSeenCapacity(capacity int) Option {
	return func(c *Chain) {
		if capacity > 0 {
			c.capacity = capacity
		}
	}
}

// NewChain builds a filter chain.
func NewChain(logger *zap.Logger, opts ...Option) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{
		seen:      make(map[string]struct{}),
		capacity:  defaultSeenCapacity,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate runs one event through the chain under the snapshot cfg and
// returns the verdict. Safe for concurrent use; the duplicate-check and
// mark-processed steps are atomic with respect to other events.
func (c *Chain) Evaluate(event model.TransferEvent, cfg model.WatchConfig) model.FilterVerdict {
	hash := strings.ToLower(event.TxHash)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Processed++

	if _, dup := c.seen[hash]; dup {
		c.stats.Duplicates++
		return model.FilterVerdict{Passed: false, Reason: model.ReasonDuplicate, ShowInFeed: false}
	}
	c.markSeen(hash)

	if !c.aboveThreshold(event, cfg) {
		c.stats.BelowThreshold++
		return model.FilterVerdict{Passed: false, Reason: model.ReasonBelowThreshold, ShowInFeed: true}
	}

	if !cfg.IsWatched(event.From) && !cfg.IsWatched(event.To) {
		c.stats.NotWatched++
		return model.FilterVerdict{Passed: false, Reason: model.ReasonNotWatched, ShowInFeed: true}
	}

	if cfg.CooldownSeconds > 0 {
		if c.inCooldown(event.From, cfg.Cooldown(), now) || c.inCooldown(event.To, cfg.Cooldown(), now) {
			c.stats.Cooldowns++
			return model.FilterVerdict{Passed: false, Reason: model.ReasonCooldown, ShowInFeed: true}
		}
	}

	c.cooldowns[strings.ToLower(event.From)] = now
	c.cooldowns[strings.ToLower(event.To)] = now
	c.pruneCooldowns(now)

	c.stats.Matched++
	return model.FilterVerdict{Passed: true, Reason: model.ReasonMatched, ShowInFeed: true}
}

// Stats returns a copy of the verdict counters.
func (c *Chain) Stats() model.FilterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset clears the seen set and cooldown map. Used when the watch target
// changes and previously-seen hashes no longer apply.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]struct{})
	c.seenOrder = c.seenOrder[:0]
	c.cooldowns = make(map[string]time.Time)
}

// markSeen records a hash, evicting the oldest tenth in bulk when the set
// is full.
func (c *Chain) markSeen(hash string) {
	if len(c.seenOrder) >= c.capacity {
		evict := c.capacity / 10
		if evict < 1 {
			evict = 1
		}
		for _, old := range c.seenOrder[:evict] {
			delete(c.seen, old)
		}
		c.seenOrder = append(c.seenOrder[:0], c.seenOrder[evict:]...)
	}
	c.seen[hash] = struct{}{}
	c.seenOrder = append(c.seenOrder, hash)
}

func (c *Chain) aboveThreshold(event model.TransferEvent, cfg model.WatchConfig) bool {
	if cfg.ThresholdAmount == "" || cfg.ThresholdAmount == "0" {
		return true
	}
	threshold, ok := new(big.Rat).SetString(cfg.ThresholdAmount)
	if !ok {
		// Validation rejects unparseable thresholds; treat a stray one
		// as no threshold rather than dropping everything.
		return true
	}
	amount, ok := event.AmountRat()
	if !ok {
		c.logger.Warn("unparseable event amount", zap.String("tx_hash", event.TxHash), zap.String("amount", event.Amount))
		return false
	}
	return amount.Cmp(threshold) >= 0
}

func (c *Chain) inCooldown(address string, window time.Duration, now time.Time) bool {
	last, ok := c.cooldowns[strings.ToLower(address)]
	if !ok {
		return false
	}
	return now.Sub(last) < window
}

func (c *Chain) pruneCooldowns(now time.Time) {
	for address, last := range c.cooldowns {
		if now.Sub(last) > cooldownMaxAge {
			delete(c.cooldowns, address)
		}
	}
}
