package order

import "testing"

func TestValidatorRejectsZeroAmount(t *testing.T) {
	v := NewValidator(nil)
	_, err := v.Validate(Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeMarket, Amount: "0"})
	if err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestValidatorRequiresPriceForLimit(t *testing.T) {
	v := NewValidator(nil)
	_, err := v.Validate(Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeLimit, Amount: "1"})
	if err == nil {
		t.Fatalf("expected error for missing price on LIMIT order")
	}
}

func TestValidatorNormalizesSellToNegativeAmount(t *testing.T) {
	v := NewValidator(nil)
	n, err := v.Validate(Intent{Symbol: "tBTCUSD", Side: Sell, Type: TypeMarket, Amount: "1.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n.Amount.IsNegative() {
		t.Fatalf("expected negative amount for sell, got %s", n.Amount.String())
	}
}

func TestValidatorRejectsUnlistedSymbol(t *testing.T) {
	v := NewValidator([]string{"tBTCUSD"})
	_, err := v.Validate(Intent{Symbol: "tETHUSD", Side: Buy, Type: TypeMarket, Amount: "1"})
	if err == nil {
		t.Fatalf("expected error for unlisted symbol")
	}
}

func TestValidatorAcceptsBothTestAliasForms(t *testing.T) {
	v := NewValidator([]string{"tTESTBTC:TESTUSD"})
	if _, err := v.Validate(Intent{Symbol: "tTESTBTCTESTUSD", Side: Buy, Type: TypeMarket, Amount: "1"}); err != nil {
		t.Fatalf("unexpected error for glued TEST alias: %v", err)
	}
	if _, err := v.Validate(Intent{Symbol: "tTESTBTC:TESTUSD", Side: Buy, Type: TypeMarket, Amount: "1"}); err != nil {
		t.Fatalf("unexpected error for colon TEST alias: %v", err)
	}
}

func TestValidatorRejectsStopLimitWithoutAuxPrice(t *testing.T) {
	v := NewValidator(nil)
	_, err := v.Validate(Intent{Symbol: "tBTCUSD", Side: Buy, Type: TypeStopLimit, Amount: "1", Price: "100"})
	if err == nil {
		t.Fatalf("expected error for missing price_aux_limit on STOP LIMIT order")
	}
}
