package exchange

import "strings"

// Quote assets recognized when splitting a venue symbol for display.
// Longest suffixes first so USDT wins over USD.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "TUSD", "USD", "BTC", "ETH", "BNB"}

// NormalizeSymbol converts user input like "btc/usdt" or "BTC-USDT" into the
// venue form "BTCUSDT".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// DisplaySymbol renders a venue symbol as "BASE/QUOTE" for reports and CLI
// output. Symbols with an unrecognized quote asset come back unchanged.
func DisplaySymbol(s string) string {
	s = NormalizeSymbol(s)
	for _, q := range quoteAssets {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return s[:len(s)-len(q)] + "/" + q
		}
	}
	return s
}
