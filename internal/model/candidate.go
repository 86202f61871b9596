package model

import (
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// RawCandidate is an undecoded transfer candidate handed from the
// subscription manager to the normalizer. Exactly one of Log or Tx is set.
// BlockTime is the containing block's unix timestamp, zero when the
// lookup failed.
type RawCandidate struct {
	Log         *types.Log
	Tx          *types.Transaction
	BlockNumber uint64
	BlockTime   uint64
	ObservedAt  time.Time
}

// IsNative reports whether the candidate is a native-value transaction.
func (c RawCandidate) IsNative() bool {
	return c.Tx != nil
}
