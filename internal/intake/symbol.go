package intake

import (
	"regexp"
	"strings"
)

var assetPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// Quote assets recognized when a raw symbol arrives without a separator,
// e.g. "BTCUSDT". Longest suffixes first so "FDUSD" wins over "USD".
var knownQuoteAssets = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USD", "EUR", "BRL", "BTC", "ETH", "BNB",
}

// NormalizeSymbol converts a raw symbol into the canonical BASE-QUOTE form.
// It accepts "BTC-USDT", "btc/usdt", "BTC_USDT" and the concatenated
// "BTCUSDT" form (resolved against the known quote assets).
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("/", "-", "_", "-", ":", "-").Replace(s)

	base, quote, found := strings.Cut(s, "-")
	if !found {
		for _, q := range knownQuoteAssets {
			if strings.HasSuffix(s, q) && len(s) > len(q) {
				base, quote = strings.TrimSuffix(s, q), q
				found = true
				break
			}
		}
	}
	if !found {
		return "", &ValidationError{Field: "symbol", Message: "cannot determine base and quote assets of " + raw}
	}
	if !assetPattern.MatchString(base) || !assetPattern.MatchString(quote) {
		return "", &ValidationError{Field: "symbol", Message: "malformed symbol " + raw}
	}
	return base + "-" + quote, nil
}
