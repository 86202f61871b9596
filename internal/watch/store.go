package watch

import (
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"transferwatch/internal/model"
)

// Change is emitted to subscribers whenever the watch configuration is
// replaced. Consumers treat New as a full snapshot, never a diff to apply.
type Change struct {
	Old     model.WatchConfig
	New     model.WatchConfig
	Changed []string
}

// Store owns the mutable watch configuration. The current snapshot is
// replaced wholesale on every accepted update; readers never observe a
// partially-applied one.
type Store struct {
	mu      sync.RWMutex
	current model.WatchConfig
	subs    []chan Change
	logger  *zap.Logger
}

// NewStore validates the initial configuration and builds a Store.
func NewStore(initial model.WatchConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := Validate(initial); err != nil {
		return nil, fmt.Errorf("initial watch config: %w", err)
	}
	return &Store{current: initial, logger: logger}, nil
}

// Current returns the current snapshot.
func (s *Store) Current() model.WatchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe returns a channel that receives configuration changes. The
// channel is buffered; a subscriber that falls behind loses intermediate
// snapshots but always receives a later, complete one.
func (s *Store) Subscribe() <-chan Change {
	ch := make(chan Change, 4)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Apply validates and installs a new snapshot, notifying subscribers with
// the changed field names. An invalid snapshot is rejected and the previous
// one stays in effect.
func (s *Store) Apply(next model.WatchConfig) error {
	if err := Validate(next); err != nil {
		s.logger.Warn("watch config rejected", zap.Error(err))
		return err
	}

	s.mu.Lock()
	old := s.current
	changed := diffFields(old, next)
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.current = next
	subs := make([]chan Change, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	change := Change{Old: old, New: next, Changed: changed}
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
			// Drop for a full subscriber; the next accepted update
			// carries a complete snapshot anyway.
			s.logger.Warn("watch config subscriber lagging, change dropped")
		}
	}

	s.logger.Info("watch config applied", zap.Strings("changed", changed))
	return nil
}

// WatchFile reloads the watch configuration whenever the backing file
// changes. Invalid reloads are logged and the previous snapshot kept.
func (s *Store) WatchFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read watch file: %w", err)
	}

	v.OnConfigChange(func(fsnotify.Event) {
		next, err := fromViper(v)
		if err != nil {
			s.logger.Warn("watch file reload rejected", zap.String("path", path), zap.Error(err))
			return
		}
		if err := s.Apply(next); err != nil {
			s.logger.Warn("watch file reload rejected", zap.String("path", path), zap.Error(err))
		}
	})
	v.WatchConfig()
	return nil
}

// LoadFile reads a watch configuration file into a snapshot.
func LoadFile(path string) (model.WatchConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return model.WatchConfig{}, fmt.Errorf("read watch file: %w", err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (model.WatchConfig, error) {
	v.SetDefault("tracking-mode", string(model.TrackBoth))
	v.SetDefault("threshold-amount", "0")
	v.SetDefault("cooldown-seconds", 0)
	v.SetDefault("confirmation-depth", 0)

	rawWallets, _ := v.Get("watched-wallets").([]interface{})
	wallets, err := ParseWallets(rawWallets)
	if err != nil {
		return model.WatchConfig{}, err
	}

	cfg := model.WatchConfig{
		TrackedContract:   v.GetString("tracked-contract"),
		TrackingMode:      model.TrackingMode(v.GetString("tracking-mode")),
		ThresholdAmount:   v.GetString("threshold-amount"),
		WatchedWallets:    wallets,
		CooldownSeconds:   v.GetInt("cooldown-seconds"),
		ConfirmationDepth: v.GetUint64("confirmation-depth"),
	}
	if cfg.TrackedContract != "" {
		normalized, err := normalizeAddress(cfg.TrackedContract)
		if err != nil {
			return model.WatchConfig{}, fmt.Errorf("tracked-contract: %w", err)
		}
		cfg.TrackedContract = normalized
	}
	return cfg, nil
}

// Validate checks a snapshot for structural errors.
func Validate(cfg model.WatchConfig) error {
	switch cfg.TrackingMode {
	case model.TrackToken, model.TrackNative, model.TrackBoth:
	default:
		return fmt.Errorf("invalid tracking mode: %q", cfg.TrackingMode)
	}

	if cfg.WantsTokens() {
		if cfg.TrackedContract == "" {
			return fmt.Errorf("tracked contract is required in %s mode", cfg.TrackingMode)
		}
		if !common.IsHexAddress(cfg.TrackedContract) {
			return fmt.Errorf("invalid tracked contract: %s", cfg.TrackedContract)
		}
	}

	if cfg.ThresholdAmount != "" {
		threshold, ok := new(big.Rat).SetString(cfg.ThresholdAmount)
		if !ok {
			return fmt.Errorf("invalid threshold amount: %s", cfg.ThresholdAmount)
		}
		if threshold.Sign() < 0 {
			return fmt.Errorf("threshold amount must not be negative: %s", cfg.ThresholdAmount)
		}
	}

	if cfg.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds must not be negative: %d", cfg.CooldownSeconds)
	}

	for _, wallet := range cfg.WatchedWallets {
		if !common.IsHexAddress(wallet.Address) {
			return fmt.Errorf("invalid watched wallet address: %s", wallet.Address)
		}
	}

	return nil
}

func diffFields(old, next model.WatchConfig) []string {
	var changed []string
	if old.TrackedContract != next.TrackedContract {
		changed = append(changed, "tracked_contract")
	}
	if old.TrackingMode != next.TrackingMode {
		changed = append(changed, "tracking_mode")
	}
	if old.ThresholdAmount != next.ThresholdAmount {
		changed = append(changed, "threshold_amount")
	}
	if !reflect.DeepEqual(old.WatchedWallets, next.WatchedWallets) {
		changed = append(changed, "watched_wallets")
	}
	if old.CooldownSeconds != next.CooldownSeconds {
		changed = append(changed, "cooldown_seconds")
	}
	if old.ConfirmationDepth != next.ConfirmationDepth {
		changed = append(changed, "confirmation_depth")
	}
	return changed
}
