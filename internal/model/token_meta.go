package model

// TokenMeta captures ERC20 metadata used to format token amounts.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// DefaultTokenMeta returns the placeholder metadata used when on-chain
// lookup fails. Amount formatting assumes 18 decimals in that case.
func DefaultTokenMeta(address string) TokenMeta {
	return TokenMeta{
		Address:  address,
		Decimals: 18,
		Symbol:   "TOKEN",
		Name:     "Unknown Token",
	}
}
