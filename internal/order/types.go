// Package order implements OrderValidator, BracketManager, and the
// OrderPipeline that composes validation, policy, idempotency, dry-run, and
// submission. The narrower Bitfinex v2 order intent replaces a multi-market
// order shape with futures working types, position side, and iceberg
// support, but the staged
// Handle(ctx, order) pipeline, the DryRunExecutor/MockExecutor simulate-then-
// persist split, and the retry-with-backoff submit wrapper all carry over.
package order

import "time"

// Side is the order side.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Type is the Bitfinex v2 order type vocabulary OrderValidator checks
// intents against.
type Type string

const (
	TypeMarket    Type = "EXCHANGE MARKET"
	TypeLimit     Type = "EXCHANGE LIMIT"
	TypeStop      Type = "EXCHANGE STOP"
	TypeStopLimit Type = "EXCHANGE STOP LIMIT"
	TypeTrailing  Type = "EXCHANGE TRAILING STOP"
	TypeFOK       Type = "EXCHANGE FOK"
	TypeIOC       Type = "EXCHANGE IOC"
)

// Flags carries the Bitfinex order-flag trio this core exposes to callers.
type Flags struct {
	PostOnly   bool
	ReduceOnly bool
	Hidden     bool
}

// Bitfinex's order-submit flags field is the sum of these bit values.
const (
	flagHidden     = 64
	flagReduceOnly = 1024
	flagPostOnly   = 4096
)

// Bits packs Flags into Bitfinex's single integer flags field.
func (f Flags) Bits() int {
	var bits int
	if f.Hidden {
		bits |= flagHidden
	}
	if f.ReduceOnly {
		bits |= flagReduceOnly
	}
	if f.PostOnly {
		bits |= flagPostOnly
	}
	return bits
}

// Intent is a caller's request to place an order, pre-validation.
type Intent struct {
	Symbol        string
	Side          Side
	Type          Type
	Amount        string // decimal string; sign is normalized from Side, not the caller
	Price         string
	PriceAuxLimit string // required for STOP LIMIT
	PriceTrailing string // required for TRAILING STOP
	Flags         Flags
	ClientID      string
	DryRun        bool
	Bracket       *BracketIntent // optional OCO legs submitted alongside the entry
}

// BracketIntent names the stop-loss/take-profit legs to link to an entry
// order once it is live.
type BracketIntent struct {
	StopLossPrice   string
	TakeProfitPrice string
}

// Order is a live (or simulated) order as tracked by this process.
type Order struct {
	ID         int64
	ClientID   string
	Symbol     string
	Side       Side
	Type       Type
	Amount     float64
	Price      float64
	Status     string
	FilledSize float64
	DryRun     bool
	CreatedAt  time.Time
}

// Result is what OrderPipeline.Submit returns to callers.
type Result struct {
	Order     Order
	DryRun    bool
	FromCache bool
}
