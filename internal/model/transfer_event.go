package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEventTopic is the canonical Transfer(address,address,uint256) topic0.
var TransferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// TransferKind distinguishes native-currency from token transfers.
type TransferKind string

const (
	KindNative TransferKind = "native"
	KindToken  TransferKind = "token"
)

// TransferEvent is the normalized representation of a value movement.
// It is immutable once constructed.
type TransferEvent struct {
	Kind        TransferKind `json:"kind"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Amount      string       `json:"amount"`
	RawAmount   string       `json:"raw_amount"`
	BlockNumber uint64       `json:"block_number"`
	BlockTime   uint64       `json:"block_time"`
	TxHash      string       `json:"tx_hash"`
	TokenSymbol string       `json:"token_symbol"`
	TokenName   string       `json:"token_name"`
	ObservedAt  time.Time    `json:"observed_at"`
}

// FromAddress returns the sender as a checksummed address.
func (e TransferEvent) FromAddress() common.Address {
	return common.HexToAddress(e.From)
}

// ToAddress returns the recipient as a checksummed address.
func (e TransferEvent) ToAddress() common.Address {
	return common.HexToAddress(e.To)
}

// AmountRat parses the human-unit amount into an exact rational.
func (e TransferEvent) AmountRat() (*big.Rat, bool) {
	if e.Amount == "" {
		return nil, false
	}
	return new(big.Rat).SetString(e.Amount)
}

// FormatAmount converts a base-unit value into a human-unit decimal string.
func FormatAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}
