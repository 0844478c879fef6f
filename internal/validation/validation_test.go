package validation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

var (
	nativeToken = &model.Token{ChainID: 1, Address: id.NativeAddress, Symbol: "ETH", Decimals: 18}
	erc20Token  = &model.Token{ChainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Decimals: 6}
	none        = decimal.NullDecimal{}
)

func nd(v string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(v), Valid: true}
}

func activeQuote(fee, sent string) *model.EnrichedQuote {
	return &model.EnrichedQuote{
		TotalNetworkFee: model.TokenAmount{Amount: decimal.RequireFromString(fee)},
		SentAmount:      model.TokenAmount{Amount: decimal.RequireFromString(sent)},
	}
}

func TestInsufficientGasBalanceNativeExactBalance(t *testing.T) {
	errs := Build(Input{ValidatedSrcAmount: nd("1.5"), FromToken: nativeToken, FromTokenInputValue: "1.5"})
	if !errs.IsInsufficientGasBalance(nd("1.5")) {
		t.Fatal("expected spending the entire native balance to leave no gas")
	}
	if errs.IsInsufficientGasBalance(nd("2")) {
		t.Fatal("expected headroom to pass")
	}
}

func TestInsufficientGasBalanceToken(t *testing.T) {
	errs := Build(Input{ValidatedSrcAmount: nd("100"), FromToken: erc20Token, FromTokenInputValue: "100"})
	if !errs.IsInsufficientGasBalance(nd("0")) {
		t.Fatal("expected zero native balance to fail")
	}
	if errs.IsInsufficientGasBalance(nd("1")) {
		t.Fatal("expected positive native balance to pass")
	}
}

func TestInsufficientGasBalanceSkippedOnceQuoted(t *testing.T) {
	errs := Build(Input{ActiveQuote: activeQuote("1", "1"), ValidatedSrcAmount: nd("1"), FromToken: nativeToken})
	if errs.IsInsufficientGasBalance(nd("1")) {
		t.Fatal("pre-quote check must not apply once a quote is active")
	}
}

func TestInsufficientGasForQuoteNative(t *testing.T) {
	errs := Build(Input{ActiveQuote: activeQuote("5", "10"), FromToken: nativeToken, FromTokenInputValue: "10"})
	if !errs.IsInsufficientGasForQuote(nd("14")) {
		t.Fatal("expected 14 - 5 - 10 <= 0 to fail")
	}
	if !errs.IsInsufficientGasForQuote(nd("15")) {
		t.Fatal("expected exactly zero remaining to fail")
	}
	if errs.IsInsufficientGasForQuote(nd("16")) {
		t.Fatal("expected 16 to pass")
	}
}

func TestInsufficientGasForQuoteToken(t *testing.T) {
	errs := Build(Input{ActiveQuote: activeQuote("0.01", "100"), FromToken: erc20Token, FromTokenInputValue: "100"})
	if !errs.IsInsufficientGasForQuote(nd("0.01")) {
		t.Fatal("expected balance equal to fee to fail")
	}
	if errs.IsInsufficientGasForQuote(nd("0.02")) {
		t.Fatal("expected balance above fee to pass")
	}
}

func TestGasForQuoteUnknownWithoutFeeEstimate(t *testing.T) {
	q := activeQuote("0", "10")
	q.TotalNetworkFee = model.TokenAmount{AmountUnknown: true}
	in := Input{ActiveQuote: q, ValidatedSrcAmount: nd("10"), FromToken: nativeToken, FromTokenInputValue: "10"}
	if got := New(in).GasForQuote(nd("10.0000001")); got != Unknown {
		t.Fatalf("expected unknown verdict without a fee estimate, got %s", got)
	}
	if Build(in).IsInsufficientGasForQuote(nd("10.0000001")) {
		t.Fatal("expected unknown fee to read as false in the boolean view")
	}

	q = activeQuote("0.01", "0")
	q.SentAmount = model.TokenAmount{AmountUnknown: true}
	in.ActiveQuote = q
	if got := New(in).GasForQuote(nd("20")); got != Unknown {
		t.Fatalf("expected unknown verdict for unparseable native amount, got %s", got)
	}
}

func TestInsufficientBalance(t *testing.T) {
	errs := Build(Input{ValidatedSrcAmount: nd("100"), FromToken: erc20Token})
	if !errs.IsInsufficientBalance(nd("99.999999")) {
		t.Fatal("expected lower balance to fail")
	}
	if errs.IsInsufficientBalance(nd("100")) {
		t.Fatal("expected equal balance to pass")
	}
}

func TestPredicatesFailOpenOnMissingInputs(t *testing.T) {
	errs := Build(Input{})
	if errs.IsNoQuotesAvailable || errs.IsEstimatedReturnLow {
		t.Fatal("expected missing inputs to read as false")
	}
	if errs.IsInsufficientGasBalance(nd("0")) || errs.IsInsufficientGasForQuote(nd("0")) || errs.IsInsufficientBalance(nd("0")) {
		t.Fatal("expected balance checks without context to read as false")
	}
	full := Build(Input{ActiveQuote: activeQuote("5", "10"), ValidatedSrcAmount: nd("10"), FromToken: nativeToken, FromTokenInputValue: "10"})
	if full.IsInsufficientGasForQuote(none) || full.IsInsufficientBalance(none) {
		t.Fatal("expected unknown balance to read as false")
	}
	p := New(Input{ValidatedSrcAmount: nd("10")})
	if p.Balance(none) != Unknown {
		t.Fatalf("expected unknown verdict, got %s", p.Balance(none))
	}
}

func TestNoQuotesAvailable(t *testing.T) {
	if !Build(Input{QuotesLastFetchedMs: 1000}).IsNoQuotesAvailable {
		t.Fatal("expected searched-and-found-nothing to be reported")
	}
	if Build(Input{QuotesLastFetchedMs: 1000, IsLoading: true}).IsNoQuotesAvailable {
		t.Fatal("still searching must not be reported as no quotes")
	}
	if Build(Input{}).IsNoQuotesAvailable {
		t.Fatal("never fetched must not be reported as no quotes")
	}
}

func TestEstimatedReturnLow(t *testing.T) {
	q := activeQuote("0", "100")
	q.SentAmount.ValueInCurrency = nd("100")
	q.AdjustedReturn.ValueInCurrency = nd("79")
	in := Input{ActiveQuote: q, FromTokenInputValue: "100", ReturnTolerance: decimal.RequireFromString("0.8")}
	if !Build(in).IsEstimatedReturnLow {
		t.Fatal("expected 79 < 0.8 * 100 to be low")
	}
	q.AdjustedReturn.ValueInCurrency = nd("80")
	if Build(in).IsEstimatedReturnLow {
		t.Fatal("expected 80 to be acceptable")
	}
	in.FromTokenInputValue = ""
	q.AdjustedReturn.ValueInCurrency = nd("1")
	if Build(in).IsEstimatedReturnLow {
		t.Fatal("expected empty input to read as false")
	}
}

func TestValidatedAmountAndCurrency(t *testing.T) {
	amt := ValidatedAmount("1500000", erc20Token)
	if !amt.Valid || !amt.Decimal.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected validated amount: %+v", amt)
	}
	if ValidatedAmount("", erc20Token).Valid || ValidatedAmount("1", nil).Valid {
		t.Fatal("expected unknown amount without token or value")
	}
	if got := AmountInCurrency(amt, nd("2")); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected currency amount: %s", got)
	}
	if got := AmountInCurrency(amt, none); !got.IsZero() {
		t.Fatalf("expected zero without rate, got %s", got)
	}
}
