package wsfabric

import "strings"

// knownQuotes lists quote currencies recognized when splitting a glued
// TEST-pair symbol that carries no colon, e.g. "tTESTBTCUSD".
var knownQuotes = []string{"USD", "USDT", "EUR", "BTC", "UST"}

// NormalizeSymbol resolves the two TEST-pair aliasing conventions
// ("tTESTBTC:TESTUSD" and "tTESTBTCUSD") to the canonical colon form, and
// passes through any other symbol unchanged (upper-cased).
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !strings.HasPrefix(s, "TTEST") {
		return s
	}
	if strings.Contains(s, ":") {
		return s
	}
	// Glued form: "TTESTBTCUSD" -> base "TESTBTC", quote "USD". Split by
	// matching a known quote suffix; if the quote is itself already
	// TEST-prefixed (e.g. "TESTUSD" glued without colon), that's matched too.
	body := s[1:] // drop leading "T" channel-symbol marker
	for _, q := range append([]string{"TEST" + "USD", "TEST" + "USDT", "TEST" + "EUR", "TEST" + "BTC"}, knownQuotes...) {
		if strings.HasSuffix(body, q) && len(body) > len(q) {
			base := body[:len(body)-len(q)]
			return "t" + base + ":" + q
		}
	}
	return s
}

// SubKey derives the canonical subscription key `channel|[tf:]symbol`.
func SubKey(channel, symbol, timeframe string) string {
	sym := NormalizeSymbol(symbol)
	if timeframe != "" {
		return channel + "|" + timeframe + ":" + sym
	}
	return channel + "|" + sym
}
