package subscription

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"transferwatch/internal/model"
	"transferwatch/internal/token"
	"transferwatch/internal/watch"
)

// ErrAttemptsExhausted is returned when the manager gives up reconnecting.
// This is the one fatal ingestion condition; it is surfaced, not retried.
var ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")

// Conn is the chain connection the manager drives; satisfied by chain.Client.
type Conn interface {
	SubscribeLogs(ctx context.Context, addresses []common.Address, topic0 []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer establishes a Conn.
type Dialer func(ctx context.Context) (Conn, error)

// Config holds manager settings.
type Config struct {
	BaseDelay       time.Duration
	MaxAttempts     int
	CandidateBuffer int
	RecentBlocks    int
	FetchRetries    int
}

// Manager owns the live chain subscription. It emits raw transfer
// candidates, tracks the connection state machine, and reconnects with
// linear backoff until MaxAttempts consecutive failures.
type Manager struct {
	cfg     Config
	dial    Dialer
	store   *watch.Store
	logger  *zap.Logger
	out     chan model.RawCandidate
	events  chan model.ConnectionStatus
	changes <-chan watch.Change
	recent  *recentBlockSet

	mu        sync.RWMutex
	status    model.ConnectionStatus
	tokenMeta model.TokenMeta
}

// NewManager builds a Manager. dial is injectable for tests; pass
// DialChain for the real transport.
func NewManager(cfg Config, dial Dialer, store *watch.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.CandidateBuffer <= 0 {
		cfg.CandidateBuffer = 256
	}
	if cfg.RecentBlocks <= 0 {
		cfg.RecentBlocks = 128
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 3
	}
	return &Manager{
		cfg:     cfg,
		dial:    dial,
		store:   store,
		logger:  logger,
		out:     make(chan model.RawCandidate, cfg.CandidateBuffer),
		events:  make(chan model.ConnectionStatus, 16),
		changes: store.Subscribe(),
		recent:  newRecentBlockSet(cfg.RecentBlocks),
		status:  model.ConnectionStatus{State: model.StateDisconnected, ChangedAt: time.Now()},
	}
}

// Candidates returns the raw candidate stream. The channel is closed when
// Run returns; it is the pipeline's drain signal.
func (m *Manager) Candidates() <-chan model.RawCandidate {
	return m.out
}

// StatusEvents returns connection state transitions for observability.
func (m *Manager) StatusEvents() <-chan model.ConnectionStatus {
	return m.events
}

// Status returns the current connection status.
func (m *Manager) Status() model.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// TokenMeta returns the metadata of the tracked contract as of the last
// successful (or defaulted) fetch.
func (m *Manager) TokenMeta() model.TokenMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenMeta
}

// Run drives the connection until ctx is cancelled or reconnect attempts
// are exhausted. The candidate channel is closed on return.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.out)

	attempt := 0
	redial := false
	for {
		switch {
		case attempt > 0:
			m.setStatus(model.StateReconnecting, attempt)
			if err := sleepCtx(ctx, ReconnectDelay(m.cfg.BaseDelay, attempt)); err != nil {
				m.setStatus(model.StateDisconnected, 0)
				return nil
			}
		case redial:
			// The drop itself is not a dial failure; the redial gets the
			// full MaxAttempts budget, waiting one base delay first.
			m.setStatus(model.StateReconnecting, 1)
			if err := sleepCtx(ctx, ReconnectDelay(m.cfg.BaseDelay, 1)); err != nil {
				m.setStatus(model.StateDisconnected, 0)
				return nil
			}
		default:
			m.setStatus(model.StateConnecting, 0)
		}

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setStatus(model.StateDisconnected, 0)
				return nil
			}
			attempt++
			m.logger.Warn("connect failed", zap.Int("attempt", attempt), zap.Error(err))
			if attempt >= m.cfg.MaxAttempts {
				m.setStatus(model.StateFailed, attempt)
				return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, attempt, err)
			}
			continue
		}

		attempt = 0
		redial = false
		m.setStatus(model.StateConnected, 0)
		if head, headErr := conn.LatestBlockNumber(ctx); headErr == nil {
			m.logger.Info("chain head at connect", zap.Uint64("block", head))
		}

		dropErr := m.serve(ctx, conn)
		conn.Close()
		m.setStatus(model.StateDisconnected, 0)

		if ctx.Err() != nil {
			return nil
		}
		m.logger.Warn("connection lost", zap.Error(dropErr))
		redial = true
	}
}

// serve runs subscription sessions on one connection until the transport
// drops. A config change to the watch target tears the session down and
// resubscribes on the same connection; no event is processed under a mixed
// old/new config.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	for {
		cfg := m.store.Current()

		if cfg.WantsTokens() {
			contract := common.HexToAddress(cfg.TrackedContract)
			meta := token.FetchMetaOrDefault(ctx, conn, contract, m.logger)
			m.mu.Lock()
			m.tokenMeta = meta
			m.mu.Unlock()
		}

		sess, err := m.openSession(ctx, conn, cfg)
		if err != nil {
			return err
		}

		resubscribe, err := m.pump(ctx, conn, sess, cfg)
		sess.close()
		if !resubscribe {
			return err
		}

		m.recent.Clear()
		m.logger.Info("watch target changed, resubscribing",
			zap.String("contract", m.store.Current().TrackedContract),
			zap.String("mode", string(m.store.Current().TrackingMode)))
	}
}

type session struct {
	logsCh   chan types.Log
	logsSub  ethereum.Subscription
	headsCh  chan *types.Header
	headsSub ethereum.Subscription
	pending  []types.Log
}

func (s *session) close() {
	if s.logsSub != nil {
		s.logsSub.Unsubscribe()
	}
	if s.headsSub != nil {
		s.headsSub.Unsubscribe()
	}
}

func (m *Manager) openSession(ctx context.Context, conn Conn, cfg model.WatchConfig) (*session, error) {
	sess := &session{}

	if cfg.WantsTokens() {
		sess.logsCh = make(chan types.Log, 64)
		sub, err := conn.SubscribeLogs(ctx,
			[]common.Address{common.HexToAddress(cfg.TrackedContract)},
			[]common.Hash{model.TransferEventTopic},
			sess.logsCh,
		)
		if err != nil {
			return nil, fmt.Errorf("subscribe logs: %w", err)
		}
		sess.logsSub = sub
	}

	if cfg.WantsNative() || cfg.ConfirmationDepth > 0 {
		sess.headsCh = make(chan *types.Header, 16)
		sub, err := conn.SubscribeNewHeads(ctx, sess.headsCh)
		if err != nil {
			sess.close()
			return nil, fmt.Errorf("subscribe heads: %w", err)
		}
		sess.headsSub = sub
	}

	return sess, nil
}

// pump moves events from the session to the candidate channel. Returns
// (true, nil) when the session must be rebuilt for a config change, or
// (false, err) when the transport dropped.
func (m *Manager) pump(ctx context.Context, conn Conn, sess *session, cfg model.WatchConfig) (bool, error) {
	var logsErr, headsErr <-chan error
	if sess.logsSub != nil {
		logsErr = sess.logsSub.Err()
	}
	if sess.headsSub != nil {
		headsErr = sess.headsSub.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case err := <-logsErr:
			return false, fmt.Errorf("log subscription: %w", err)

		case err := <-headsErr:
			return false, fmt.Errorf("head subscription: %w", err)

		case log := <-sess.logsCh:
			if log.Removed {
				continue
			}
			if cfg.ConfirmationDepth > 0 {
				sess.pending = append(sess.pending, log)
				continue
			}
			candidate := model.RawCandidate{
				Log:         &log,
				BlockNumber: log.BlockNumber,
				BlockTime:   m.blockTime(ctx, conn, log.BlockNumber),
				ObservedAt:  time.Now(),
			}
			if !m.emit(ctx, candidate) {
				return false, ctx.Err()
			}

		case head := <-sess.headsCh:
			if head == nil || head.Number == nil {
				continue
			}
			if !m.onHead(ctx, conn, sess, cfg, head.Number.Uint64()) {
				return false, ctx.Err()
			}

		case change := <-m.changes:
			if changedAny(change.Changed, "tracked_contract", "tracking_mode", "confirmation_depth") {
				return true, nil
			}
			// Threshold, wallet, and cooldown changes only affect the
			// filter chain; the subscription stays up.
			cfg = change.New
		}
	}
}

func (m *Manager) onHead(ctx context.Context, conn Conn, sess *session, cfg model.WatchConfig, head uint64) bool {
	// Release pending token logs that reached confirmation depth.
	if cfg.ConfirmationDepth > 0 && len(sess.pending) > 0 {
		kept := sess.pending[:0]
		for i := range sess.pending {
			log := sess.pending[i]
			if log.BlockNumber+cfg.ConfirmationDepth <= head {
				candidate := model.RawCandidate{
					Log:         &log,
					BlockNumber: log.BlockNumber,
					BlockTime:   m.blockTime(ctx, conn, log.BlockNumber),
					ObservedAt:  time.Now(),
				}
				if !m.emit(ctx, candidate) {
					return false
				}
				continue
			}
			kept = append(kept, log)
		}
		sess.pending = kept
	}

	if !cfg.WantsNative() {
		return true
	}

	if head < cfg.ConfirmationDepth {
		return true
	}
	target := head - cfg.ConfirmationDepth
	if !m.recent.Add(target) {
		// Duplicate head delivery; block already scanned.
		return true
	}

	block, err := m.blockWithRetry(ctx, conn, target)
	if err != nil {
		m.logger.Warn("block fetch failed, skipping native scan",
			zap.Uint64("block", target), zap.Error(err))
		return true
	}

	observed := time.Now()
	for _, tx := range block.Transactions() {
		if tx.Value().Sign() <= 0 || tx.To() == nil {
			continue
		}
		candidate := model.RawCandidate{
			Tx:          tx,
			BlockNumber: target,
			BlockTime:   block.Time(),
			ObservedAt:  observed,
		}
		if !m.emit(ctx, candidate) {
			return false
		}
	}
	return true
}

// blockTime resolves the containing block's chain timestamp. The client
// caches headers, so repeated logs from one block cost a single fetch.
// A failed lookup stamps zero rather than delaying the candidate.
func (m *Manager) blockTime(ctx context.Context, conn Conn, number uint64) uint64 {
	ts, err := conn.BlockTimestamp(ctx, number)
	if err != nil {
		m.logger.Warn("block timestamp fetch failed",
			zap.Uint64("block", number), zap.Error(err))
		return 0
	}
	return ts
}

func (m *Manager) blockWithRetry(ctx context.Context, conn Conn, number uint64) (*types.Block, error) {
	var block *types.Block
	var err error
	for attempt := 0; attempt < m.cfg.FetchRetries; attempt++ {
		block, err = conn.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err == nil {
			return block, nil
		}
		if sleepErr := sleepCtx(ctx, ReconnectDelay(m.cfg.BaseDelay/4, attempt+1)); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, err
}

func (m *Manager) emit(ctx context.Context, candidate model.RawCandidate) bool {
	select {
	case m.out <- candidate:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) setStatus(state model.ConnectionState, attempt int) {
	status := model.ConnectionStatus{State: state, Attempt: attempt, ChangedAt: time.Now()}
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	select {
	case m.events <- status:
	default:
	}

	m.logger.Info("connection state",
		zap.String("state", string(state)), zap.Int("attempt", attempt))
}

func changedAny(changed []string, fields ...string) bool {
	for _, field := range fields {
		for _, name := range changed {
			if name == field {
				return true
			}
		}
	}
	return false
}

// recentBlockSet is a bounded set of recently scanned block numbers,
// guarding against duplicate head delivery from the transport.
type recentBlockSet struct {
	capacity int
	order    []uint64
	members  map[uint64]struct{}
}

func newRecentBlockSet(capacity int) *recentBlockSet {
	return &recentBlockSet{
		capacity: capacity,
		members:  make(map[uint64]struct{}),
	}
}

// Add records a block number, returning false if it was already present.
func (s *recentBlockSet) Add(number uint64) bool {
	if _, ok := s.members[number]; ok {
		return false
	}
	if len(s.order) >= s.capacity {
		evict := s.capacity / 10
		if evict < 1 {
			evict = 1
		}
		for _, old := range s.order[:evict] {
			delete(s.members, old)
		}
		s.order = append(s.order[:0], s.order[evict:]...)
	}
	s.members[number] = struct{}{}
	s.order = append(s.order, number)
	return true
}

// Clear empties the set.
func (s *recentBlockSet) Clear() {
	s.order = s.order[:0]
	s.members = make(map[uint64]struct{})
}
