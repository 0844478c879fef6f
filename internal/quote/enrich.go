// Package quote turns provider quotes into comparable, currency-denominated
// routes, ranks them and tracks the user's selection across refreshes.
package quote

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/gas"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/rates"
)

const nativeDecimals = 18

// EnrichInput is one consistent snapshot of everything enrichment reads.
// Native rates refer to the source chain's gas token.
type EnrichInput struct {
	FromRate         rates.ExchangeRate
	ToRate           rates.ExchangeRate
	NativeToCurrency decimal.NullDecimal
	NativeToUSD      decimal.NullDecimal
	Fees             gas.Fees
}

// Enrich computes derived economics for every quote in batch. The result has
// the same order as batch.
func Enrich(batch []model.QuoteResponse, in EnrichInput) []model.EnrichedQuote {
	out := make([]model.EnrichedQuote, 0, len(batch))
	perGas, err := in.Fees.PerGasWei()
	if err != nil {
		perGas = nil
	}
	for _, resp := range batch {
		out = append(out, enrichOne(resp, in, perGas))
	}
	return out
}

// enrichOne derives the economics of a single quote. A nil perGasWei leaves
// the gas fee unvalued.
func enrichOne(resp model.QuoteResponse, in EnrichInput, perGasWei *big.Int) model.EnrichedQuote {
	q := resp.Quote
	nativeRate := rates.ExchangeRate{ValueInCurrency: in.NativeToCurrency, USD: in.NativeToUSD}

	toAmount, toKnown := tokenUnits(q.DestTokenAmount, q.DestAsset.Decimals)
	sentAmount, sentKnown := sentTokenUnits(q)
	relayer, relayerKnown := relayerFeeNative(resp)

	e := model.EnrichedQuote{
		QuoteResponse: resp,
		ToTokenAmount: valued(toAmount, toKnown, in.ToRate),
		SentAmount:    valued(sentAmount, sentKnown, in.FromRate),
		GasFee:        gasFee(resp, perGasWei, nativeRate),
		RelayerFee:    valued(relayer, relayerKnown, nativeRate),
	}
	e.TotalNetworkFee = sumAmounts(e.GasFee, e.RelayerFee)
	e.AdjustedReturn = model.CurrencyValue{
		ValueInCurrency: subNull(e.ToTokenAmount.ValueInCurrency, e.TotalNetworkFee.ValueInCurrency),
		USD:             subNull(e.ToTokenAmount.USD, e.TotalNetworkFee.USD),
	}
	if toKnown && sentKnown && !sentAmount.IsZero() {
		e.SwapRate = toAmount.Div(sentAmount)
	}
	e.Cost = model.CurrencyValue{
		ValueInCurrency: costRatio(e.SentAmount.ValueInCurrency, e.AdjustedReturn.ValueInCurrency),
		USD:             costRatio(e.SentAmount.USD, e.AdjustedReturn.USD),
	}
	return e
}

// sentTokenUnits is the source amount plus the metabridge fee, in token units.
func sentTokenUnits(q model.Quote) (decimal.Decimal, bool) {
	src, srcOK := tokenUnits(q.SrcTokenAmount, q.SrcAsset.Decimals)
	fee, feeOK := tokenUnits(q.FeeData.Metabridge.Amount, q.SrcAsset.Decimals)
	if !srcOK || !feeOK {
		return decimal.Zero, false
	}
	return src.Add(fee), true
}

// relayerFeeNative is the native value attached to the trade beyond what the
// user is bridging.
func relayerFeeNative(resp model.QuoteResponse) (decimal.Decimal, bool) {
	value, ok := tokenUnits(resp.Trade.Value, nativeDecimals)
	if !ok {
		return decimal.Zero, false
	}
	if id.IsNativeAddress(resp.Quote.SrcAsset.Address) {
		sent, ok := sentTokenUnits(resp.Quote)
		if !ok {
			return decimal.Zero, false
		}
		value = value.Sub(sent)
	}
	return value, true
}

// gasFee is unknown when no per-gas price is available.
func gasFee(resp model.QuoteResponse, perGasWei *big.Int, nativeRate rates.ExchangeRate) model.TokenAmount {
	if perGasWei == nil {
		return model.TokenAmount{AmountUnknown: true}
	}
	wei := gas.QuoteFeeWei(resp, perGasWei)
	return valued(id.FromBaseUnits(wei, nativeDecimals), true, nativeRate)
}

// tokenUnits parses a provider base-unit amount. An empty amount is zero; a
// malformed one is unknown.
func tokenUnits(raw string, decimals int) (decimal.Decimal, bool) {
	d, err := id.ParseBaseUnits(raw, decimals)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func sumAmounts(a, b model.TokenAmount) model.TokenAmount {
	if a.AmountUnknown || b.AmountUnknown {
		return model.TokenAmount{AmountUnknown: true}
	}
	return model.TokenAmount{
		Amount:          a.Amount.Add(b.Amount),
		ValueInCurrency: addNull(a.ValueInCurrency, b.ValueInCurrency),
		USD:             addNull(a.USD, b.USD),
	}
}

func valued(amount decimal.Decimal, ok bool, rate rates.ExchangeRate) model.TokenAmount {
	if !ok {
		return model.TokenAmount{AmountUnknown: true}
	}
	return model.TokenAmount{
		Amount:          amount,
		ValueInCurrency: mulNull(amount, rate.ValueInCurrency),
		USD:             mulNull(amount, rate.USD),
	}
}

// costRatio is the share of sent value lost to fees and price impact.
func costRatio(sent, adjusted decimal.NullDecimal) decimal.NullDecimal {
	if !sent.Valid || !adjusted.Valid || sent.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	return known(sent.Decimal.Sub(adjusted.Decimal).Div(sent.Decimal))
}

func mulNull(a decimal.Decimal, b decimal.NullDecimal) decimal.NullDecimal {
	if !b.Valid {
		return decimal.NullDecimal{}
	}
	return known(a.Mul(b.Decimal))
}

func addNull(a, b decimal.NullDecimal) decimal.NullDecimal {
	if !a.Valid || !b.Valid {
		return decimal.NullDecimal{}
	}
	return known(a.Decimal.Add(b.Decimal))
}

func subNull(a, b decimal.NullDecimal) decimal.NullDecimal {
	if !a.Valid || !b.Valid {
		return decimal.NullDecimal{}
	}
	return known(a.Decimal.Sub(b.Decimal))
}

func known(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
