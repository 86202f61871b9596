package model

import (
	"strings"
	"time"
)

// TrackingMode selects which transfer kinds the watcher subscribes to.
type TrackingMode string

const (
	TrackToken  TrackingMode = "token"
	TrackNative TrackingMode = "native"
	TrackBoth   TrackingMode = "both"
)

// WatchedWallet is one entry of the watch list.
type WatchedWallet struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// WatchConfig is the mutable watch configuration. Consumers receive it as a
// read-only snapshot that is replaced wholesale on change, never mutated.
type WatchConfig struct {
	TrackedContract   string          `json:"tracked_contract"`
	TrackingMode      TrackingMode    `json:"tracking_mode"`
	ThresholdAmount   string          `json:"threshold_amount"`
	WatchedWallets    []WatchedWallet `json:"watched_wallets"`
	CooldownSeconds   int             `json:"cooldown_seconds"`
	ConfirmationDepth uint64          `json:"confirmation_depth"`
}

// Cooldown returns the cooldown window as a duration.
func (c WatchConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// WantsTokens reports whether the tracking mode includes token transfers.
func (c WatchConfig) WantsTokens() bool {
	return c.TrackingMode == TrackToken || c.TrackingMode == TrackBoth
}

// WantsNative reports whether the tracking mode includes native transfers.
func (c WatchConfig) WantsNative() bool {
	return c.TrackingMode == TrackNative || c.TrackingMode == TrackBoth
}

// IsWatched reports whether addr matches an enabled watch-list entry.
// An empty watch list means every address is watched.
func (c WatchConfig) IsWatched(addr string) bool {
	if len(c.WatchedWallets) == 0 {
		return true
	}
	for _, wallet := range c.WatchedWallets {
		if wallet.Enabled && strings.EqualFold(wallet.Address, addr) {
			return true
		}
	}
	return false
}

// HasWatchList reports whether any wallet entries are configured.
func (c WatchConfig) HasWatchList() bool {
	return len(c.WatchedWallets) > 0
}
