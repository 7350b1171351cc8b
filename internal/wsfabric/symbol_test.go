package wsfabric

import "testing"

func TestNormalizeSymbolPassesThroughNonTest(t *testing.T) {
	got := NormalizeSymbol("tBTCUSD")
	if got != "TBTCUSD" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeSymbolColonFormUnchanged(t *testing.T) {
	got := NormalizeSymbol("tTESTBTC:TESTUSD")
	if got != "TTESTBTC:TESTUSD" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeSymbolGluedFormSplitsToColon(t *testing.T) {
	cases := map[string]string{
		"tTESTBTCUSD":  "tTESTBTC:USD",
		"tTESTBTCTESTUSD": "tTESTBTC:TESTUSD",
	}
	for in, want := range cases {
		got := NormalizeSymbol(in)
		if got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubKeyWithAndWithoutTimeframe(t *testing.T) {
	if got := SubKey("ticker", "tBTCUSD", ""); got != "ticker|TBTCUSD" {
		t.Fatalf("got %q", got)
	}
	if got := SubKey("candles", "tBTCUSD", "1m"); got != "candles|1m:TBTCUSD" {
		t.Fatalf("got %q", got)
	}
}
