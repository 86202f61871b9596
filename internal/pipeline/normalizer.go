package pipeline

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"transferwatch/internal/model"
	"transferwatch/internal/watch"
)

// NativeMeta is the display metadata for native-currency transfers.
var NativeMeta = model.TokenMeta{Decimals: 18, Symbol: "ETH", Name: "Ether"}

// Normalizer converts raw candidates into TransferEvents. The watch-list
// membership check runs before any decoding or formatting, since almost
// all chain traffic is irrelevant.
type Normalizer struct {
	store     *watch.Store
	tokenMeta func() model.TokenMeta
	signer    types.Signer
	logger    *zap.Logger
}

// NewNormalizer builds a Normalizer. tokenMeta supplies the tracked
// contract's metadata; signer recovers native-transfer senders and may be
// nil when native tracking is off.
func NewNormalizer(store *watch.Store, tokenMeta func() model.TokenMeta, signer types.Signer, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenMeta == nil {
		tokenMeta = func() model.TokenMeta { return model.TokenMeta{} }
	}
	return &Normalizer{store: store, tokenMeta: tokenMeta, signer: signer, logger: logger}
}

// Normalize converts one candidate. The second return is false when the
// candidate is irrelevant or malformed; malformed payloads are logged and
// never fatal.
func (n *Normalizer) Normalize(candidate model.RawCandidate) (model.TransferEvent, bool) {
	if candidate.IsNative() {
		return n.normalizeNative(candidate)
	}
	return n.normalizeLog(candidate)
}

func (n *Normalizer) normalizeLog(candidate model.RawCandidate) (model.TransferEvent, bool) {
	log := candidate.Log
	if log == nil {
		return model.TransferEvent{}, false
	}

	from, to, err := transferAddresses(log)
	if err != nil {
		n.logger.Warn("malformed transfer log dropped",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint64("block", log.BlockNumber),
			zap.Error(err))
		return model.TransferEvent{}, false
	}

	cfg := n.store.Current()
	if cfg.HasWatchList() && !cfg.IsWatched(from.Hex()) && !cfg.IsWatched(to.Hex()) {
		return model.TransferEvent{}, false
	}

	if len(log.Data) < 32 {
		n.logger.Warn("malformed transfer log dropped",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint64("block", log.BlockNumber),
			zap.String("reason", "short data"))
		return model.TransferEvent{}, false
	}
	raw := new(big.Int).SetBytes(log.Data[:32])

	meta := n.tokenMeta()
	if meta.Symbol == "" {
		meta = model.DefaultTokenMeta(log.Address.Hex())
	}

	return model.TransferEvent{
		Kind:        model.KindToken,
		From:        from.Hex(),
		To:          to.Hex(),
		Amount:      model.FormatAmount(raw, meta.Decimals),
		RawAmount:   raw.String(),
		BlockNumber: log.BlockNumber,
		BlockTime:   candidate.BlockTime,
		TxHash:      log.TxHash.Hex(),
		TokenSymbol: meta.Symbol,
		TokenName:   meta.Name,
		ObservedAt:  candidate.ObservedAt,
	}, true
}

func (n *Normalizer) normalizeNative(candidate model.RawCandidate) (model.TransferEvent, bool) {
	tx := candidate.Tx
	if tx == nil || tx.To() == nil || tx.Value().Sign() <= 0 {
		return model.TransferEvent{}, false
	}
	if n.signer == nil {
		n.logger.Warn("native candidate dropped, no signer configured",
			zap.String("tx_hash", tx.Hash().Hex()))
		return model.TransferEvent{}, false
	}

	from, err := types.Sender(n.signer, tx)
	if err != nil {
		n.logger.Warn("sender recovery failed, candidate dropped",
			zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
		return model.TransferEvent{}, false
	}
	to := *tx.To()

	cfg := n.store.Current()
	if cfg.HasWatchList() && !cfg.IsWatched(from.Hex()) && !cfg.IsWatched(to.Hex()) {
		return model.TransferEvent{}, false
	}

	raw := tx.Value()
	return model.TransferEvent{
		Kind:        model.KindNative,
		From:        from.Hex(),
		To:          to.Hex(),
		Amount:      model.FormatAmount(raw, NativeMeta.Decimals),
		RawAmount:   raw.String(),
		BlockNumber: candidate.BlockNumber,
		BlockTime:   candidate.BlockTime,
		TxHash:      tx.Hash().Hex(),
		TokenSymbol: NativeMeta.Symbol,
		TokenName:   NativeMeta.Name,
		ObservedAt:  candidate.ObservedAt,
	}, true
}

func transferAddresses(log *types.Log) (common.Address, common.Address, error) {
	if len(log.Topics) != 3 {
		return common.Address{}, common.Address{}, fmt.Errorf("want 3 topics, got %d", len(log.Topics))
	}
	if log.Topics[0] != model.TransferEventTopic {
		return common.Address{}, common.Address{}, fmt.Errorf("unexpected topic0: %s", log.Topics[0].Hex())
	}
	from := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())
	return from, to, nil
}
