package transport

import (
	"context"

	"bitfinex-trading-core/internal/balance"
)

// walletsEndpoint is Bitfinex's authenticated wallet-snapshot endpoint.
const walletsEndpoint = "auth/r/wallets"

// WalletClient adapts SignedHttpClient to balance.ExchangeClient, the one
// REST collaborator WalletTracker falls back to when no WS wallet snapshot
// has arrived yet (e.g. right after boot, before the private session's first
// "ws" event).
type WalletClient struct {
	client *SignedHttpClient
}

func NewWalletClient(client *SignedHttpClient) *WalletClient {
	return &WalletClient{client: client}
}

// FetchWallets implements balance.ExchangeClient. Each row is
// [WALLET_TYPE, CURRENCY, BALANCE, UNSETTLED_INTEREST, AVAILABLE_BALANCE, ...].
func (w *WalletClient) FetchWallets(ctx context.Context) ([]balance.WalletRow, error) {
	var raw [][]any
	if err := w.client.Post(ctx, walletsEndpoint, struct{}{}, &raw); err != nil {
		return nil, err
	}
	rows := make([]balance.WalletRow, 0, len(raw))
	for _, r := range raw {
		if len(r) < 3 {
			continue
		}
		walletType, _ := r[0].(string)
		currency, _ := r[1].(string)
		total, _ := r[2].(float64)
		available := total
		if len(r) >= 5 {
			if a, ok := r[4].(float64); ok {
				available = a
			}
		}
		rows = append(rows, balance.WalletRow{
			Type:      walletType,
			Currency:  currency,
			Balance:   total,
			Available: available,
		})
	}
	return rows, nil
}
