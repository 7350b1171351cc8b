package order

import (
	"strings"

	"github.com/shopspring/decimal"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/wsfabric"
)

// typeSchema names which auxiliary price fields an order type requires: e.g.
// price for LIMIT, price_aux_limit for STOP LIMIT, price_trailing for
// TRAILING STOP.
type typeSchema struct {
	requiresPrice         bool
	requiresPriceAuxLimit bool
	requiresPriceTrailing bool
}

var schemas = map[Type]typeSchema{
	TypeMarket:    {},
	TypeLimit:     {requiresPrice: true},
	TypeStop:      {requiresPrice: true},
	TypeStopLimit: {requiresPrice: true, requiresPriceAuxLimit: true},
	TypeTrailing:  {requiresPriceTrailing: true},
	TypeFOK:       {requiresPrice: true},
	TypeIOC:       {requiresPrice: true},
}

// Normalized is an Intent with decimal-validated, canonicalized fields ready
// to hand to the signed transport.
type Normalized struct {
	Symbol        string
	Side          Side
	Type          Type
	Amount        decimal.Decimal
	Price         decimal.Decimal
	PriceAuxLimit decimal.Decimal
	PriceTrailing decimal.Decimal
	Flags         Flags
	ClientID      string
}

// Validator is the OrderValidator collaborator. listedSymbols names the
// symbols this process is permitted to trade; an empty set means no
// restriction (useful for tests / single-symbol deployments where the
// caller enforces listing elsewhere).
type Validator struct {
	listedSymbols map[string]struct{}
}

func NewValidator(listedSymbols []string) *Validator {
	set := make(map[string]struct{}, len(listedSymbols))
	for _, s := range listedSymbols {
		set[strings.ToUpper(wsfabric.NormalizeSymbol(s))] = struct{}{}
	}
	return &Validator{listedSymbols: set}
}

// Validate checks intent against its type's schema, normalizes numeric
// fields via shopspring/decimal (avoiding the float-drift Order
// struct carries with bare float64 amounts), and rejects amount==0,
// negative prices, unknown types, and unlisted symbols.
func (v *Validator) Validate(intent Intent) (Normalized, error) {
	symbol := wsfabric.NormalizeSymbol(intent.Symbol)
	if symbol == "" {
		return Normalized{}, apierr.New(apierr.InvalidOrder, "missing_symbol")
	}
	if len(v.listedSymbols) > 0 {
		if _, ok := v.listedSymbols[strings.ToUpper(symbol)]; !ok {
			return Normalized{}, apierr.New(apierr.UnknownSymbol, symbol).WithDetails(map[string]any{
				"suggestion": suggestTestAlias(symbol),
			})
		}
	}

	schema, ok := schemas[intent.Type]
	if !ok {
		return Normalized{}, apierr.New(apierr.InvalidOrder, "unknown_order_type")
	}

	side := Side(strings.ToLower(string(intent.Side)))
	if side != Buy && side != Sell {
		return Normalized{}, apierr.New(apierr.InvalidOrder, "invalid_side")
	}

	amount, err := decimal.NewFromString(intent.Amount)
	if err != nil || amount.IsZero() {
		return Normalized{}, apierr.New(apierr.InvalidOrder, "invalid_amount")
	}
	amount = amount.Abs()
	if side == Sell {
		amount = amount.Neg()
	}

	norm := Normalized{
		Symbol:   symbol,
		Side:     side,
		Type:     intent.Type,
		Amount:   amount,
		Flags:    intent.Flags,
		ClientID: intent.ClientID,
	}

	if schema.requiresPrice {
		price, err := parsePositiveDecimal(intent.Price)
		if err != nil {
			return Normalized{}, apierr.New(apierr.InvalidOrder, "invalid_price")
		}
		norm.Price = price
	}
	if schema.requiresPriceAuxLimit {
		p, err := parsePositiveDecimal(intent.PriceAuxLimit)
		if err != nil {
			return Normalized{}, apierr.New(apierr.InvalidOrder, "invalid_price_aux_limit")
		}
		norm.PriceAuxLimit = p
	}
	if schema.requiresPriceTrailing {
		p, err := parsePositiveDecimal(intent.PriceTrailing)
		if err != nil {
			return Normalized{}, apierr.New(apierr.InvalidOrder, "invalid_price_trailing")
		}
		norm.PriceTrailing = p
	}
	return norm, nil
}

func parsePositiveDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, apierr.New(apierr.InvalidOrder, "non_positive_price")
	}
	return d, nil
}

// suggestTestAlias accepts both TEST-pair aliasing forms on input and always
// suggests the canonical colon form back to the caller for an
// unknown-symbol rejection that looks like a paper-trading pair.
func suggestTestAlias(symbol string) string {
	if strings.HasPrefix(strings.ToUpper(symbol), "TTEST") {
		return wsfabric.NormalizeSymbol(symbol)
	}
	return ""
}
