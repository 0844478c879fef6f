// Package rates resolves token-to-currency exchange rates from market data
// and per-chain native currency rates.
package rates

import (
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

type Key struct {
	ChainID int64
	Address string
}

func KeyFor(chainID int64, address string) Key {
	return Key{ChainID: chainID, Address: id.NormalizeAddress(address)}
}

type NativeRates struct {
	ToCurrency decimal.NullDecimal `json:"to_currency"`
	ToUSD      decimal.NullDecimal `json:"to_usd"`
}

// ExchangeRate values one token unit. Both fields are unknown when the
// chain's native rate is unknown.
type ExchangeRate struct {
	ValueInCurrency decimal.NullDecimal `json:"value_in_currency"`
	USD             decimal.NullDecimal `json:"usd"`
}

// Set is a snapshot of every rate known at one point in time. Missing
// entries are valid and mean "unknown".
type Set struct {
	Currency      string                  `json:"currency"`
	MarketData    map[Key]decimal.Decimal `json:"-"`
	CurrencyRates map[Key]decimal.Decimal `json:"-"`
	Native        map[int64]NativeRates   `json:"-"`
	Version       int64                   `json:"version"`
}

func NewSet(currency string) Set {
	return Set{
		Currency:      currency,
		MarketData:    map[Key]decimal.Decimal{},
		CurrencyRates: map[Key]decimal.Decimal{},
		Native:        map[int64]NativeRates{},
	}
}

// NativeFor returns the native rates of chainID, unknown when absent.
func (s Set) NativeFor(chainID int64) NativeRates {
	return s.Native[chainID]
}

// TokenToNative resolves how many native units one token unit is worth:
// market data first, then the token's currency rate divided by the native
// currency rate.
func (s Set) TokenToNative(chainID int64, address string) decimal.NullDecimal {
	if id.IsNativeAddress(address) {
		return known(decimal.NewFromInt(1))
	}
	key := KeyFor(chainID, address)
	if rate, ok := s.MarketData[key]; ok {
		return known(rate)
	}
	var tokenRate decimal.NullDecimal
	if rate, ok := s.CurrencyRates[key]; ok {
		tokenRate = known(rate)
	}
	return TokenPriceInNative(tokenRate, s.Native[chainID].ToCurrency)
}

// Resolve returns the currency and USD value of one unit of the token.
func (s Set) Resolve(chainID int64, address string) ExchangeRate {
	native := s.Native[chainID]
	return FromNative(s.TokenToNative(chainID, address), native.ToCurrency, native.ToUSD)
}

// TokenPriceInNative divides a token's currency rate by the native currency
// rate. A zero native rate is treated as unknown.
func TokenPriceInNative(tokenRateInCurrency, nativeToCurrency decimal.NullDecimal) decimal.NullDecimal {
	if !tokenRateInCurrency.Valid || !nativeToCurrency.Valid || nativeToCurrency.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	return known(tokenRateInCurrency.Decimal.Div(nativeToCurrency.Decimal))
}

// FromNative converts a token-to-native rate into currency and USD rates.
// An unknown native rate yields an unknown result for that leg.
func FromNative(tokenToNative, nativeToCurrency, nativeToUSD decimal.NullDecimal) ExchangeRate {
	if !tokenToNative.Valid || !nativeToCurrency.Valid {
		return ExchangeRate{}
	}
	out := ExchangeRate{ValueInCurrency: known(tokenToNative.Decimal.Mul(nativeToCurrency.Decimal))}
	if nativeToUSD.Valid {
		out.USD = known(tokenToNative.Decimal.Mul(nativeToUSD.Decimal))
	}
	return out
}

// FromPrices builds a Set from USD prices. usdToCurrency converts USD into
// the display currency (one for usd).
func FromPrices(currency string, usdToCurrency decimal.Decimal, prices []model.PriceQuote) Set {
	set := NewSet(currency)
	for _, p := range prices {
		if !id.IsNativeAddress(p.Token.Address) {
			continue
		}
		set.Native[p.Token.ChainID] = NativeRates{
			ToCurrency: known(p.PriceUSD.Mul(usdToCurrency)),
			ToUSD:      known(p.PriceUSD),
		}
	}
	for _, p := range prices {
		if id.IsNativeAddress(p.Token.Address) {
			continue
		}
		key := KeyFor(p.Token.ChainID, p.Token.Address)
		set.CurrencyRates[key] = p.PriceUSD.Mul(usdToCurrency)
		if native, ok := set.Native[p.Token.ChainID]; ok && native.ToUSD.Valid && !native.ToUSD.Decimal.IsZero() {
			set.MarketData[key] = p.PriceUSD.Div(native.ToUSD.Decimal)
		}
	}
	return set
}

// Merge overlays newer onto s. Entries missing from newer keep their old
// values.
func (s Set) Merge(newer Set) Set {
	out := NewSet(s.Currency)
	if newer.Currency != "" {
		out.Currency = newer.Currency
	}
	for k, v := range s.MarketData {
		out.MarketData[k] = v
	}
	for k, v := range newer.MarketData {
		out.MarketData[k] = v
	}
	for k, v := range s.CurrencyRates {
		out.CurrencyRates[k] = v
	}
	for k, v := range newer.CurrencyRates {
		out.CurrencyRates[k] = v
	}
	for k, v := range s.Native {
		out.Native[k] = v
	}
	for k, v := range newer.Native {
		out.Native[k] = v
	}
	out.Version = max(s.Version, newer.Version)
	return out
}

func known(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
