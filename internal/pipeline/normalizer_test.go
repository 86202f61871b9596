package pipeline

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"transferwatch/internal/model"
	"transferwatch/internal/watch"
)

const (
	contractAddr = "0x1111111111111111111111111111111111111111"
	senderAddr   = "0x2222222222222222222222222222222222222222"
	receiverAddr = "0x3333333333333333333333333333333333333333"
)

func testStore(t *testing.T, wallets ...model.WatchedWallet) *watch.Store {
	t.Helper()
	store, err := watch.NewStore(model.WatchConfig{
		TrackedContract: contractAddr,
		TrackingMode:    model.TrackBoth,
		WatchedWallets:  wallets,
	}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func addressTopic(address string) common.Hash {
	return common.BytesToHash(common.HexToAddress(address).Bytes())
}

func transferLog(from, to string, amount *big.Int) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(contractAddr),
		Topics: []common.Hash{
			model.TransferEventTopic,
			addressTopic(from),
			addressTopic(to),
		},
		Data:        common.LeftPadBytes(amount.Bytes(), 32),
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xaaaa"),
	}
}

func usdtMeta() model.TokenMeta {
	return model.TokenMeta{Address: contractAddr, Decimals: 6, Symbol: "USDT", Name: "Tether"}
}

func TestNormalizeTokenTransfer(t *testing.T) {
	normalizer := NewNormalizer(testStore(t), usdtMeta, nil, nil)

	raw := big.NewInt(1500000) // 1.5 USDT in base units
	event, ok := normalizer.Normalize(model.RawCandidate{
		Log:         transferLog(senderAddr, receiverAddr, raw),
		BlockNumber: 100,
		BlockTime:   1700000100,
		ObservedAt:  time.Unix(1700000000, 0),
	})
	if !ok {
		t.Fatalf("expected event")
	}

	if event.Kind != model.KindToken {
		t.Fatalf("kind mismatch: %s", event.Kind)
	}
	if event.From != common.HexToAddress(senderAddr).Hex() || event.To != common.HexToAddress(receiverAddr).Hex() {
		t.Fatalf("addresses mismatch: %s -> %s", event.From, event.To)
	}
	if event.Amount != "1.500000" {
		t.Fatalf("amount mismatch: %s", event.Amount)
	}
	if event.RawAmount != "1500000" {
		t.Fatalf("raw amount mismatch: %s", event.RawAmount)
	}
	if event.TokenSymbol != "USDT" || event.TokenName != "Tether" {
		t.Fatalf("metadata mismatch: %s / %s", event.TokenSymbol, event.TokenName)
	}
	if event.BlockNumber != 100 {
		t.Fatalf("block mismatch: %d", event.BlockNumber)
	}
	if event.BlockTime != 1700000100 {
		t.Fatalf("block time mismatch: %d", event.BlockTime)
	}
}

func TestNormalizeMalformedLogDropped(t *testing.T) {
	normalizer := NewNormalizer(testStore(t), usdtMeta, nil, nil)

	log := transferLog(senderAddr, receiverAddr, big.NewInt(1))
	log.Topics = log.Topics[:2]

	if _, ok := normalizer.Normalize(model.RawCandidate{Log: log}); ok {
		t.Fatalf("malformed log should be dropped")
	}

	log = transferLog(senderAddr, receiverAddr, big.NewInt(1))
	log.Data = nil
	if _, ok := normalizer.Normalize(model.RawCandidate{Log: log}); ok {
		t.Fatalf("log with short data should be dropped")
	}
}

func TestWatchListPreFilter(t *testing.T) {
	store := testStore(t, model.WatchedWallet{
		Address: common.HexToAddress("0x4444444444444444444444444444444444444444").Hex(),
		Enabled: true,
	})
	normalizer := NewNormalizer(store, usdtMeta, nil, nil)

	if _, ok := normalizer.Normalize(model.RawCandidate{
		Log: transferLog(senderAddr, receiverAddr, big.NewInt(1)),
	}); ok {
		t.Fatalf("unwatched transfer should be dropped before decoding")
	}
}

func TestWatchListPreFilterEmptyPassesAll(t *testing.T) {
	normalizer := NewNormalizer(testStore(t), usdtMeta, nil, nil)

	if _, ok := normalizer.Normalize(model.RawCandidate{
		Log: transferLog(senderAddr, receiverAddr, big.NewInt(1)),
	}); !ok {
		t.Fatalf("empty watch list should pass every address")
	}
}

func TestNormalizeNativeTransfer(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := types.LatestSignerForChainID(big.NewInt(1))

	to := common.HexToAddress(receiverAddr)
	tx, err := types.SignNewTx(key, signer, &types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}

	normalizer := NewNormalizer(testStore(t), nil, signer, nil)

	event, ok := normalizer.Normalize(model.RawCandidate{
		Tx:          tx,
		BlockNumber: 7,
		ObservedAt:  time.Unix(1700000000, 0),
	})
	if !ok {
		t.Fatalf("expected event")
	}

	if event.Kind != model.KindNative {
		t.Fatalf("kind mismatch: %s", event.Kind)
	}
	if event.From != crypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Fatalf("sender mismatch: %s", event.From)
	}
	if event.To != to.Hex() {
		t.Fatalf("recipient mismatch: %s", event.To)
	}
	if event.Amount != "2.000000000000000000" {
		t.Fatalf("amount mismatch: %s", event.Amount)
	}
	if event.TokenSymbol != NativeMeta.Symbol {
		t.Fatalf("symbol mismatch: %s", event.TokenSymbol)
	}
}

func TestNormalizeNativeWithoutSignerDropped(t *testing.T) {
	to := common.HexToAddress(receiverAddr)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(1),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})

	normalizer := NewNormalizer(testStore(t), nil, nil, nil)
	if _, ok := normalizer.Normalize(model.RawCandidate{Tx: tx}); ok {
		t.Fatalf("native candidate without signer should be dropped")
	}
}
