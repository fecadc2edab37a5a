package market

import (
	"regexp"
	"strings"
	"sync"
)

var (
	forexPattern  = regexp.MustCompile(`^[A-Z]{6}$`)
	cryptoQuotes  = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB"}
	commoditySyms = map[string]bool{
		"XAUUSD": true, // gold
		"XAGUSD": true, // silver
		"XPTUSD": true, // platinum
		"XPDUSD": true, // palladium
		"WTIUSD": true, // WTI crude
		"BCOUSD": true, // brent
		"NATGAS": true,
		"COPPER": true,
	}

	tagMu    sync.RWMutex
	tagCache = make(map[string]SymbolTag)
)

// Tag classifies a symbol down to the venue product. Commodities are
// matched from a curated list first since most of them also look like
// 6-letter forex pairs; futures contracts carry a PERP suffix or an
// underscore-delimited delivery date. Unknown symbols default to crypto
// spot, the venue we scan the most. Results are cached; the universe is
// small and never shrinks mid-process.
func Tag(symbol string) SymbolTag {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	tagMu.RLock()
	if tag, ok := tagCache[sym]; ok {
		tagMu.RUnlock()
		return tag
	}
	tagMu.RUnlock()

	tag := classifyTag(sym)

	tagMu.Lock()
	tagCache[sym] = tag
	tagMu.Unlock()

	return tag
}

// Classify maps a symbol onto the market type of its tag
func Classify(symbol string) MarketType {
	return Tag(symbol).MarketType()
}

func classifyTag(sym string) SymbolTag {
	if commoditySyms[sym] {
		return TagCommodity
	}
	if strings.HasSuffix(sym, "PERP") || strings.Contains(sym, "_") {
		return TagCryptoFut
	}
	for _, quote := range cryptoQuotes {
		if strings.HasSuffix(sym, quote) && len(sym) > len(quote) {
			return TagCryptoSpot
		}
	}
	if forexPattern.MatchString(sym) {
		return TagForex
	}
	return TagCryptoSpot
}
