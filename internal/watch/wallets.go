package watch

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"transferwatch/internal/model"
)

// ParseWallets normalizes raw watch-list entries into WatchedWallet values.
// The backing file may list a wallet as a bare address string or as an
// object with address/enabled fields; downstream code only ever sees the
// normalized form.
func ParseWallets(raw []interface{}) ([]model.WatchedWallet, error) {
	wallets := make([]model.WatchedWallet, 0, len(raw))
	for i, entry := range raw {
		switch typed := entry.(type) {
		case string:
			address, err := normalizeAddress(typed)
			if err != nil {
				return nil, fmt.Errorf("wallet %d: %w", i, err)
			}
			wallets = append(wallets, model.WatchedWallet{Address: address, Enabled: true})
		case map[string]interface{}:
			wallet, err := walletFromMap(typed)
			if err != nil {
				return nil, fmt.Errorf("wallet %d: %w", i, err)
			}
			wallets = append(wallets, wallet)
		default:
			return nil, fmt.Errorf("wallet %d: unsupported entry type %T", i, entry)
		}
	}
	return wallets, nil
}

func walletFromMap(entry map[string]interface{}) (model.WatchedWallet, error) {
	rawAddress, ok := entry["address"]
	if !ok {
		return model.WatchedWallet{}, fmt.Errorf("missing address field")
	}
	text, ok := rawAddress.(string)
	if !ok {
		return model.WatchedWallet{}, fmt.Errorf("address must be a string, got %T", rawAddress)
	}
	address, err := normalizeAddress(text)
	if err != nil {
		return model.WatchedWallet{}, err
	}

	enabled := true
	if rawEnabled, ok := entry["enabled"]; ok {
		flag, ok := rawEnabled.(bool)
		if !ok {
			return model.WatchedWallet{}, fmt.Errorf("enabled must be a bool, got %T", rawEnabled)
		}
		enabled = flag
	}

	return model.WatchedWallet{Address: address, Enabled: enabled}, nil
}

func normalizeAddress(input string) (string, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return "", fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input).Hex(), nil
}
