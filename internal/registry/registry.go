// Package registry answers, for a given asset, whether a market to the
// configured target fiat exists and under what pair symbol and minimum
// order size, and canonicalizes between the exchange's native asset
// codes and the standard tickers the rest of the agent works in.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/klingon-exchange/autosell/internal/exchange"
	"github.com/klingon-exchange/autosell/internal/money"
)

// wellKnownNative maps the exchange's mangled/prefixed native codes to
// the standard ticker used everywhere outside this package. It is a
// fixed table of exceptions, not an algorithm -- the exchange's native
// naming has no consistent rule (X-prefixed crypto, Z-prefixed fiat,
// entirely renamed memecoins) so every entry is an observed fact, not a
// derivation.
var wellKnownNative = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XXDG": "DOGE",
	"XDG":  "DOGE",
	"XETH": "ETH",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"XXLM": "XLM",
	"XREP": "REP",
	"XXMR": "XMR",
	"XZEC": "ZEC",
	"XETC": "ETC",
	"ZUSD": "USD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
	"ZCAD": "CAD",
	"ZJPY": "JPY",
	"ZAUD": "AUD",
}

// hardCodedMinimums is the second tier of the minimum-order-size
// fallback cascade: used when the pair catalog carries no usable
// minimum for a ticker the agent still recognizes.
var hardCodedMinimums = map[string]string{
	"BTC":  "0.0001",
	"ETH":  "0.002",
	"LTC":  "0.01",
	"DOGE": "10",
	"XRP":  "1",
}

// genericMinimumFloor is the last tier of the cascade, applied when
// neither the registry nor the hard-coded table has an answer.
var genericMinimumFloor = money.MustParse("0.001")

// Registry holds the tradable pair catalog fetched once at startup and
// answers asset-code and pair-resolution questions against it for the
// lifetime of the process. It is read-only after Load and safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	pairs map[string]exchange.Pair // keyed by pair symbol
	byLeg map[string][]exchange.Pair // keyed by base native code
}

// New returns an empty Registry; call Load before using it.
func New() *Registry {
	return &Registry{
		pairs: make(map[string]exchange.Pair),
		byLeg: make(map[string][]exchange.Pair),
	}
}

// Load fetches the full tradable pair catalog from client and replaces
// the registry's contents. It is expected to run once at startup;
// callers that need a refreshed catalog call it again explicitly.
func (r *Registry) Load(ctx context.Context, client *exchange.Client) error {
	pairs, err := client.ListPairs(ctx)
	if err != nil {
		return fmt.Errorf("registry: loading pair catalog: %w", err)
	}

	byPair := make(map[string]exchange.Pair, len(pairs))
	byLeg := make(map[string][]exchange.Pair, len(pairs))
	for _, p := range pairs {
		byPair[p.PairSymbol] = p
		byLeg[p.Base] = append(byLeg[p.Base], p)
	}

	r.mu.Lock()
	r.pairs = byPair
	r.byLeg = byLeg
	r.mu.Unlock()
	return nil
}

// Standardize converts a native exchange asset code to the standard
// ticker used throughout the rest of the agent. Codes with no known
// exception map to themselves.
func Standardize(native string) string {
	if std, ok := wellKnownNative[native]; ok {
		return std
	}
	return native
}

// Nativize converts a standard ticker back to the exchange's native
// code. It is the inverse of Standardize over the recognized set;
// tickers with no known exception map to themselves. When more than
// one native spelling maps to the same standard ticker (e.g. "XXBT"
// and "XBT" both mean BTC), the longest X/Z-prefixed form wins: that is
// the spelling the exchange actually reports in balances and pair
// catalogs, the shorter form only ever appears as an altname.
func Nativize(standard string) string {
	best := ""
	for native, std := range wellKnownNative {
		if std != standard {
			continue
		}
		if !strings.HasPrefix(native, "X") && !strings.HasPrefix(native, "Z") {
			continue
		}
		if len(native) > len(best) {
			best = native
		}
	}
	if best != "" {
		return best
	}
	for native, std := range wellKnownNative {
		if std == standard {
			return native
		}
	}
	return standard
}

// PairFor returns the pair whose base equals the native form of
// standardAsset and whose quote equals the native form of targetFiat,
// trying each candidate pair symbol the exchange is known to use for
// that leg combination. It reports false if no such pair is loaded.
func (r *Registry) PairFor(standardAsset, targetFiat string) (exchange.Pair, bool) {
	base := Nativize(standardAsset)
	quote := Nativize(targetFiat)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, candidate := range r.byLeg[base] {
		if candidate.Quote == quote {
			return candidate, true
		}
	}

	for _, symbol := range candidateSymbols(base, quote, standardAsset, targetFiat) {
		if p, ok := r.pairs[symbol]; ok {
			return p, true
		}
	}
	return exchange.Pair{}, false
}

// candidateSymbols enumerates the concatenations the exchange is known
// to use for a pair's opaque symbol, from the most specific (native
// base + native quote) to the least (standard ticker concatenation).
func candidateSymbols(nativeBase, nativeQuote, standardBase, standardQuote string) []string {
	return []string{
		nativeBase + nativeQuote,
		standardBase + nativeQuote,
		nativeBase + standardQuote,
		standardBase + standardQuote,
		standardBase + "/" + standardQuote,
	}
}

// MinimumOrderSize resolves the smallest sellable volume for
// standardAsset, falling back from the loaded catalog to a small
// hard-coded table to a generic floor.
func (r *Registry) MinimumOrderSize(standardAsset, targetFiat string) money.Amount {
	if p, ok := r.PairFor(standardAsset, targetFiat); ok && !p.MinimumOrderSize.IsZero() {
		return p.MinimumOrderSize
	}
	if raw, ok := hardCodedMinimums[standardAsset]; ok {
		return money.MustParse(raw)
	}
	return genericMinimumFloor
}
