package token

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"transferwatch/internal/model"
)

// ContractCaller is the eth_call dependency; satisfied by chain.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FetchMeta loads token metadata via ERC20 calls. Contracts that expose
// bytes32 symbol/name are handled with a fallback ABI.
func FetchMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	call := func(method string, parsed abi.ABI) ([]interface{}, error) {
		data, err := parsed.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		msg := ethereum.CallMsg{To: &token, Data: data}
		resp, err := caller.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := parsed.Unpack(method, resp)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		return values, nil
	}

	values, err := call("decimals", stringABI)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	if values, err := call("symbol", stringABI); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := call("symbol", bytes32ABI); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else if logger != nil {
		logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if values, err := call("name", stringABI); err == nil {
		if name, ok := values[0].(string); ok {
			meta.Name = name
		}
	} else if values, err := call("name", bytes32ABI); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			meta.Name = name
		}
	} else if logger != nil {
		logger.Debug("name call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	return meta, nil
}

// FetchMetaOrDefault is FetchMeta with the failure policy the watcher wants:
// a lookup failure never fails the connection, it falls back to safe defaults.
func FetchMetaOrDefault(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) model.TokenMeta {
	meta, err := FetchMeta(ctx, caller, token, logger)
	if err != nil {
		if logger != nil {
			logger.Warn("token metadata fetch failed, using defaults",
				zap.String("token", token.Hex()), zap.Error(err))
		}
		return model.DefaultTokenMeta(token.Hex())
	}
	if meta.Symbol == "" {
		meta.Symbol = model.DefaultTokenMeta(token.Hex()).Symbol
	}
	return meta
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return boundedUint8(uint64(v))
	case uint32:
		return boundedUint8(uint64(v))
	case uint64:
		return boundedUint8(v)
	case *big.Int:
		if !v.IsUint64() {
			return 0, fmt.Errorf("decimals out of range: %s", v)
		}
		return boundedUint8(v.Uint64())
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

// boundedUint8 rejects values a uint8 cannot hold instead of truncating;
// a contract reporting absurd decimals falls back to the defaults.
func boundedUint8(v uint64) (uint8, error) {
	if v > math.MaxUint8 {
		return 0, fmt.Errorf("decimals out of range: %d", v)
	}
	return uint8(v), nil
}
