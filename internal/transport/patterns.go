package transport

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// patternsFile mirrors the YAML seed shape:
//
//	patterns:
//	  - pattern: "^(ticker|candles)"
//	    class: PUBLIC_MARKET
//	  - pattern: "^auth/w/"
//	    class: PRIVATE_TRADING
type patternsFile struct {
	Patterns []struct {
		Pattern string `yaml:"pattern"`
		Class   string `yaml:"class"`
	} `yaml:"patterns"`
}

// DefaultRules is the fallback ordered table used when no YAML fixture is
// configured, covering the common Bitfinex v2 endpoint shapes.
func DefaultRules() []ClassRule {
	return []ClassRule{
		{Pattern: `^(ticker|tickers|trades|book|candles|status|symbols)`, Class: PublicMarket},
		{Pattern: `^auth/w/(order|funding)`, Class: PrivateTrading},
		{Pattern: `^auth/w/margin`, Class: PrivateMargin},
		{Pattern: `^auth/r/margin`, Class: PrivateMargin},
		{Pattern: `^auth/`, Class: PrivateAccount},
	}
}

// LoadRulesFromYAML reads an ordered pattern→class table from path. A
// missing file is not an error; the caller should fall back to
// DefaultRules().
func LoadRulesFromYAML(path string) ([]ClassRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rate limit patterns: %w", err)
	}
	var f patternsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rate limit patterns: %w", err)
	}
	rules := make([]ClassRule, 0, len(f.Patterns))
	for _, p := range f.Patterns {
		rules = append(rules, ClassRule{Pattern: p.Pattern, Class: EndpointClass(p.Class)})
	}
	return rules, nil
}
