// Package validation answers the safety questions that gate submitting a
// bridge transaction. Every check is a pure function of already computed
// state plus a live balance.
package validation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

// Verdict is the outcome of one check. Unknown means a required input is
// missing.
type Verdict int

const (
	Unknown Verdict = iota
	Pass
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Input is the state the checks read. A zero QuotesLastFetchedMs means no
// fetch has completed yet.
type Input struct {
	ActiveQuote         *model.EnrichedQuote
	QuotesLastFetchedMs int64
	IsLoading           bool
	ValidatedSrcAmount  decimal.NullDecimal
	FromToken           *model.Token
	FromTokenInputValue string
	ReturnTolerance     decimal.Decimal
}

// Predicates evaluates the checks over one Input.
type Predicates struct {
	in Input
}

func New(in Input) Predicates {
	return Predicates{in: in}
}

// NoQuotes fails when a completed, idle fetch produced no active quote.
func (p Predicates) NoQuotes() Verdict {
	if p.in.ActiveQuote != nil {
		return Pass
	}
	if p.in.QuotesLastFetchedMs == 0 || p.in.IsLoading {
		return Unknown
	}
	return Fail
}

// GasBalance is the pre-quote gas check against the native balance. A
// native transfer fails when it would spend the whole balance; a token
// transfer fails when there is no native balance at all.
func (p Predicates) GasBalance(nativeBalance decimal.NullDecimal) Verdict {
	if !nativeBalance.Valid || p.in.ActiveQuote != nil || !p.in.ValidatedSrcAmount.Valid || p.in.FromToken == nil {
		return Unknown
	}
	if id.IsNativeAddress(p.in.FromToken.Address) {
		return failIf(nativeBalance.Decimal.Equal(p.in.ValidatedSrcAmount.Decimal))
	}
	return failIf(!nativeBalance.Decimal.IsPositive())
}

// GasForQuote is the post-quote gas check: the native balance must cover the
// quote's network fee, plus the amount sent when that is native too. An
// unestimated fee makes the check Unknown.
func (p Predicates) GasForQuote(nativeBalance decimal.NullDecimal) Verdict {
	q := p.in.ActiveQuote
	if !nativeBalance.Valid || q == nil || p.in.FromToken == nil || strings.TrimSpace(p.in.FromTokenInputValue) == "" {
		return Unknown
	}
	if q.TotalNetworkFee.AmountUnknown {
		return Unknown
	}
	fee := q.TotalNetworkFee.Amount
	if id.IsNativeAddress(p.in.FromToken.Address) {
		if q.SentAmount.AmountUnknown {
			return Unknown
		}
		remaining := nativeBalance.Decimal.Sub(fee).Sub(q.SentAmount.Amount)
		return failIf(!remaining.IsPositive())
	}
	return failIf(nativeBalance.Decimal.LessThanOrEqual(fee))
}

// Balance fails when the source token balance is below the amount to send.
func (p Predicates) Balance(tokenBalance decimal.NullDecimal) Verdict {
	if !p.in.ValidatedSrcAmount.Valid || !tokenBalance.Valid {
		return Unknown
	}
	return failIf(tokenBalance.Decimal.LessThan(p.in.ValidatedSrcAmount.Decimal))
}

// ReturnLow fails when the adjusted return is below ReturnTolerance of the
// value sent.
func (p Predicates) ReturnLow() Verdict {
	q := p.in.ActiveQuote
	if q == nil || strings.TrimSpace(p.in.FromTokenInputValue) == "" {
		return Unknown
	}
	sent := q.SentAmount.ValueInCurrency
	adjusted := q.AdjustedReturn.ValueInCurrency
	if !sent.Valid || !adjusted.Valid {
		return Unknown
	}
	return failIf(adjusted.Decimal.LessThan(p.in.ReturnTolerance.Mul(sent.Decimal)))
}

// Errors is the boolean view of the checks: true means the problem is
// present. Missing inputs read as false.
type Errors struct {
	IsNoQuotesAvailable       bool
	IsEstimatedReturnLow      bool
	IsInsufficientGasBalance  func(balance decimal.NullDecimal) bool
	IsInsufficientGasForQuote func(balance decimal.NullDecimal) bool
	IsInsufficientBalance     func(balance decimal.NullDecimal) bool
}

func Build(in Input) Errors {
	p := New(in)
	return Errors{
		IsNoQuotesAvailable:  p.NoQuotes() == Fail,
		IsEstimatedReturnLow: p.ReturnLow() == Fail,
		IsInsufficientGasBalance: func(balance decimal.NullDecimal) bool {
			return p.GasBalance(balance) == Fail
		},
		IsInsufficientGasForQuote: func(balance decimal.NullDecimal) bool {
			return p.GasForQuote(balance) == Fail
		},
		IsInsufficientBalance: func(balance decimal.NullDecimal) bool {
			return p.Balance(balance) == Fail
		},
	}
}

// ValidatedAmount scales the request's base-unit amount into token units.
// It is unknown when there is no token or amount.
func ValidatedAmount(srcTokenAmount string, token *model.Token) decimal.NullDecimal {
	if token == nil || strings.TrimSpace(srcTokenAmount) == "" {
		return decimal.NullDecimal{}
	}
	d, err := id.ParseBaseUnits(srcTokenAmount, token.Decimals)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// AmountInCurrency values the validated amount at the source rate, zero when
// either is unknown.
func AmountInCurrency(amount, rate decimal.NullDecimal) decimal.Decimal {
	if !amount.Valid || !rate.Valid {
		return decimal.Zero
	}
	return amount.Decimal.Mul(rate.Decimal)
}

func failIf(cond bool) Verdict {
	if cond {
		return Fail
	}
	return Pass
}
