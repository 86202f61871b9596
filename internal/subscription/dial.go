package subscription

import (
	"context"

	"transferwatch/internal/chain"
)

// DialChain returns a Dialer backed by the real chain client.
func DialChain(rpcURL string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return chain.NewClient(ctx, rpcURL)
	}
}
