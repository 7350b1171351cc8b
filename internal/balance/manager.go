// Package balance implements WalletTracker: a cached view of Bitfinex
// wallet balances, kept current by WS wallet snapshot/update events with a
// periodic REST poll as a fallback for the window before the private
// session's first snapshot arrives. It exists to serve RiskGuards'
// EquityFetcher a USD-equity figure without a live exchange call on every
// guard check, the same cache-in-front-of-exchange shape MarketDataFacade
// uses for ticker data. Tracked as a per-currency wallet map since
// Bitfinex's wallet snapshot spans funding/exchange/margin wallets in
// multiple currencies at once.
package balance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bitfinex-trading-core/internal/apierr"
)

// WalletRow is one row of a Bitfinex wallet snapshot:
// [WALLET_TYPE, CURRENCY, BALANCE, UNSETTLED_INTEREST, AVAILABLE_BALANCE, ...].
type WalletRow struct {
	Type      string
	Currency  string
	Balance   float64
	Available float64
}

// ExchangeClient fetches a full wallet snapshot over REST.
type ExchangeClient interface {
	FetchWallets(ctx context.Context) ([]WalletRow, error)
}

type walletKey struct{ walletType, currency string }

// Tracker is the WalletTracker collaborator.
type Tracker struct {
	mu       sync.RWMutex
	wallets  map[walletKey]WalletRow
	set      bool
	lastSync time.Time

	exchange     ExchangeClient
	syncInterval time.Duration
	log          *slog.Logger
}

// NewTracker creates a Tracker that polls exchange every syncInterval as a
// fallback behind WS-pushed updates.
func NewTracker(exchange ExchangeClient, syncInterval time.Duration, log *slog.Logger) *Tracker {
	return &Tracker{
		wallets:      make(map[walletKey]WalletRow),
		exchange:     exchange,
		syncInterval: syncInterval,
		log:          log,
	}
}

// Start begins periodic REST polling until ctx is cancelled. An initial
// sync runs immediately so EquityUSD has something to report before the
// first tick.
func (t *Tracker) Start(ctx context.Context) {
	if err := t.Sync(ctx); err != nil {
		t.log.Warn("initial wallet sync failed", "err", err)
	}
	ticker := time.NewTicker(t.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.Sync(ctx); err != nil {
					t.log.Warn("wallet sync failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync pulls a fresh snapshot over REST and replaces the cached map.
func (t *Tracker) Sync(ctx context.Context) error {
	if t.exchange == nil {
		return nil
	}
	rows, err := t.exchange.FetchWallets(ctx)
	if err != nil {
		return err
	}
	t.ApplySnapshot(rows)
	return nil
}

// ApplySnapshot replaces the entire wallet map, as fed by the private
// session's "ws" event.
func (t *Tracker) ApplySnapshot(rows []WalletRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wallets = make(map[walletKey]WalletRow, len(rows))
	for _, r := range rows {
		t.wallets[walletKey{r.Type, r.Currency}] = r
	}
	t.set = true
	t.lastSync = time.Now()
}

// ApplyUpdate merges a single wallet delta, as fed by the private session's
// "wu" event. Unlike a snapshot this never needs the other wallets' state.
func (t *Tracker) ApplyUpdate(row WalletRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wallets[walletKey{row.Type, row.Currency}] = row
	t.set = true
	t.lastSync = time.Now()
}

// EquityUSD sums the balance of every USD-denominated wallet across all
// wallet types, Bitfinex's quote-currency convention for most pairs this
// core trades.
func (t *Tracker) EquityUSD() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.set {
		return 0, false
	}
	var total float64
	for k, w := range t.wallets {
		if k.currency == "USD" {
			total += w.Balance
		}
	}
	return total, true
}

// Fetch implements risk.EquityFetcher.
func (t *Tracker) Fetch(ctx context.Context) (float64, error) {
	total, ok := t.EquityUSD()
	if !ok {
		return 0, apierr.New(apierr.InternalError, "equity_not_yet_known")
	}
	return total, nil
}
