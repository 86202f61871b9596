package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

func TestAsUint8(t *testing.T) {
	for _, tc := range []struct {
		name    string
		value   interface{}
		want    uint8
		wantErr bool
	}{
		{"uint8", uint8(6), 6, false},
		{"uint16 in range", uint16(18), 18, false},
		{"uint16 overflow", uint16(1000), 0, true},
		{"uint32 overflow", uint32(1 << 16), 0, true},
		{"uint64 in range", uint64(255), 255, false},
		{"uint64 overflow", uint64(256), 0, true},
		{"big in range", big.NewInt(9), 9, false},
		{"big overflow", big.NewInt(1000), 0, true},
		{"big negative", big.NewInt(-1), 0, true},
		{"string", "18", 0, true},
	} {
		got, err := asUint8(tc.value)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %d", tc.name, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: want %d, got %d", tc.name, tc.want, got)
		}
	}
}

type errCaller struct{}

func (errCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("execution reverted")
}

func TestFetchMetaOrDefaultFallsBack(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	meta := FetchMetaOrDefault(context.Background(), errCaller{}, addr, nil)
	if meta.Decimals != 18 || meta.Symbol != "TOKEN" {
		t.Fatalf("expected safe defaults, got %+v", meta)
	}
	if meta.Address != addr.Hex() {
		t.Fatalf("address mismatch: %s", meta.Address)
	}
}
