package validation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/model"
)

type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonLoading                 Reason = "loading"
	ReasonNoQuotes                Reason = "no_quotes"
	ReasonInsufficientBalance     Reason = "insufficient_balance"
	ReasonInsufficientGasForQuote Reason = "insufficient_gas_for_quote"
	ReasonInsufficientGasBalance  Reason = "insufficient_gas_balance"
	ReasonEnterAmount             Reason = "enter_amount"
	ReasonSelectToken             Reason = "select_token"
	ReasonBalanceUnknown          Reason = "balance_unknown"
)

const WarningReturnLow = "estimated_return_low"

// Balances are the live balances the gate checks against.
type Balances struct {
	Token  decimal.NullDecimal
	Native decimal.NullDecimal
}

type GateInput struct {
	Input
	ToToken *model.Token
	// Strict blocks submission when a balance check cannot be evaluated.
	Strict bool
}

type CheckResult struct {
	Name    string  `json:"name"`
	Verdict Verdict `json:"verdict"`
}

type Decision struct {
	Submittable bool          `json:"submittable"`
	Reason      Reason        `json:"reason,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Checks      []CheckResult `json:"checks"`
}

// Decide runs every check and returns whether the active quote may be
// submitted. The first failing condition, in display priority, is reported
// as the reason.
func Decide(in GateInput, b Balances) Decision {
	p := New(in.Input)
	checks := []CheckResult{
		{Name: "no_quotes", Verdict: p.NoQuotes()},
		{Name: "insufficient_balance", Verdict: p.Balance(b.Token)},
		{Name: "insufficient_gas_for_quote", Verdict: p.GasForQuote(b.Native)},
		{Name: "insufficient_gas_balance", Verdict: p.GasBalance(b.Native)},
		{Name: "estimated_return_low", Verdict: p.ReturnLow()},
	}
	d := Decision{Checks: checks}
	if checks[4].Verdict == Fail {
		d.Warnings = append(d.Warnings, WarningReturnLow)
	}

	switch {
	case in.IsLoading && in.ActiveQuote == nil:
		d.Reason = ReasonLoading
	case checks[0].Verdict == Fail:
		d.Reason = ReasonNoQuotes
	case checks[1].Verdict == Fail:
		d.Reason = ReasonInsufficientBalance
	case checks[2].Verdict == Fail:
		d.Reason = ReasonInsufficientGasForQuote
	case checks[3].Verdict == Fail:
		d.Reason = ReasonInsufficientGasBalance
	case in.FromToken == nil || in.ToToken == nil:
		d.Reason = ReasonSelectToken
	case !hasAmount(in.FromTokenInputValue):
		d.Reason = ReasonEnterAmount
	case in.ActiveQuote == nil:
		d.Reason = ReasonNoQuotes
	case in.Strict && (checks[1].Verdict == Unknown || checks[2].Verdict == Unknown):
		d.Reason = ReasonBalanceUnknown
	default:
		d.Submittable = true
	}
	return d
}

func hasAmount(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || v == "." {
		return false
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(v, "."))
	return err == nil && d.IsPositive()
}
