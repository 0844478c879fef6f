package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/gas"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/quote"
	"github.com/ggonzalez94/xbridge/internal/rates"
	"github.com/ggonzalez94/xbridge/internal/validation"
)

var (
	usdcMainnet = model.Token{ChainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Decimals: 6}
	usdcBase    = model.Token{ChainID: 8453, Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Symbol: "USDC", Decimals: 6}
)

func nd(v string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(v), Valid: true}
}

func route(bridge string, eta int64, dest string) model.QuoteResponse {
	return model.QuoteResponse{
		Quote: model.Quote{
			Provider:        "lifi",
			BridgeID:        "lifi",
			Bridges:         []string{bridge},
			Steps:           []model.Step{{Action: "bridge", Protocol: bridge, SrcChainID: 1, DestChainID: 8453, SrcAsset: usdcMainnet, DestAsset: usdcBase}},
			SrcAsset:        usdcMainnet,
			DestAsset:       usdcBase,
			SrcChainID:      1,
			DestChainID:     8453,
			SrcTokenAmount:  "100000000",
			DestTokenAmount: dest,
		},
		Trade:                            model.TxData{ChainID: 1, Value: "0", GasLimit: 200_000},
		EstimatedProcessingTimeInSeconds: eta,
	}
}

func testRates() rates.Set {
	one := decimal.NewFromInt(1)
	return rates.FromPrices("usd", one, []model.PriceQuote{
		{Token: model.Token{ChainID: 1, Address: id.NativeAddress}, PriceUSD: decimal.NewFromInt(2000)},
		{Token: model.Token{ChainID: 8453, Address: id.NativeAddress}, PriceUSD: decimal.NewFromInt(2000)},
		{Token: usdcMainnet, PriceUSD: one},
		{Token: usdcBase, PriceUSD: one},
	})
}

func testGas() model.GasFeeEstimates {
	return model.GasFeeEstimates{
		ChainID:          1,
		EstimatedBaseFee: "10",
		Tiers: map[string]model.GasTierEstimate{
			gas.TierMedium: {SuggestedMaxPriorityFeePerGas: "2", SuggestedMaxFeePerGas: "22"},
		},
	}
}

func newTestEngine() *Engine {
	e := New(Config{Rank: quote.RankConfig{ReturnTolerance: decimal.RequireFromString("0.95"), MaxETASeconds: 3600}})
	e.SetRequest(model.QuoteRequest{
		SrcChainID:     1,
		DestChainID:    8453,
		SrcToken:       usdcMainnet,
		DestToken:      usdcBase,
		SrcTokenAmount: "100000000",
		InputValue:     "100",
	})
	e.SetRates(testRates())
	e.SetGas(testGas())
	e.SetQuotes([]model.QuoteResponse{
		route("stargate", 600, "99000000"),
		route("across", 60, "97000000"),
	}, model.RefreshState{QuotesLastFetchedMs: 1_000, QuotesRefreshCount: 1, MaxRefreshCount: 5})
	return e
}

func bridgeOf(q *model.EnrichedQuote) string {
	if q == nil {
		return "<nil>"
	}
	return q.Quote.Bridges[0]
}

func TestSnapshotRanksAndRecommends(t *testing.T) {
	e := newTestEngine()
	snap := e.Snapshot()
	if len(snap.Quotes) != 2 || bridgeOf(&snap.Quotes[0]) != "stargate" {
		t.Fatalf("expected cheapest route first, got %+v", snap.Quotes)
	}
	// 200000 gas * 12 gwei = 0.0024 ETH = 4.8 USD
	if got := snap.Quotes[0].AdjustedReturn.ValueInCurrency.Decimal; !got.Equal(decimal.RequireFromString("94.2")) {
		t.Fatalf("unexpected adjusted return: %s", got)
	}
	if bridgeOf(snap.Active) != "stargate" || snap.Selected != nil {
		t.Fatalf("expected recommended route to be active, got %s", bridgeOf(snap.Active))
	}
	if !snap.IsBridgeTx || !snap.FromAmountInCurrency.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected request derivations: %+v", snap)
	}

	e.SetSortOrder(quote.SortETAAsc)
	snap = e.Snapshot()
	if bridgeOf(&snap.Quotes[0]) != "across" || bridgeOf(snap.Recommended) != "across" {
		t.Fatalf("expected faster route within tolerance, got %s", bridgeOf(snap.Recommended))
	}
}

func TestSnapshotIsMemoized(t *testing.T) {
	e := newTestEngine()
	first := e.Snapshot()
	if second := e.Snapshot(); second != first {
		t.Fatal("expected unchanged inputs to return the cached snapshot")
	}
	e.SetSortOrder(quote.SortCostAsc)
	if e.Snapshot() != first {
		t.Fatal("setting the same sort order must not invalidate the snapshot")
	}
	e.SetSortOrder(quote.SortETAAsc)
	if next := e.Snapshot(); next == first || next.Version <= first.Version {
		t.Fatal("expected a new snapshot after the sort order changed")
	}
}

func TestSelectionSurvivesRefreshAndClearsOnRequest(t *testing.T) {
	e := newTestEngine()
	if !e.SelectByKey("lifi-across-1") {
		t.Fatal("expected identity key to select a route")
	}
	if bridgeOf(e.Snapshot().Active) != "across" {
		t.Fatal("expected manual selection to be active")
	}

	e.SetQuotes([]model.QuoteResponse{
		route("hop", 900, "98000000"),
		route("across", 60, "96500000"),
		route("stargate", 600, "99100000"),
	}, model.RefreshState{QuotesLastFetchedMs: 31_000, QuotesRefreshCount: 2, MaxRefreshCount: 5})
	snap := e.Snapshot()
	if bridgeOf(snap.Selected) != "across" || snap.Selected.Quote.DestTokenAmount != "96500000" {
		t.Fatalf("expected refreshed counterpart of the selection, got %+v", snap.Selected)
	}

	e.SetQuotes([]model.QuoteResponse{route("stargate", 600, "99000000")},
		model.RefreshState{QuotesLastFetchedMs: 61_000, QuotesRefreshCount: 3, MaxRefreshCount: 5})
	snap = e.Snapshot()
	if snap.Selected != nil || bridgeOf(snap.Active) != "stargate" {
		t.Fatalf("expected fallback to recommended when selection disappears, got %s", bridgeOf(snap.Active))
	}

	e.SelectByKey("lifi-stargate-1")
	e.SetRequest(model.QuoteRequest{SrcChainID: 1, DestChainID: 8453, SrcToken: usdcMainnet, DestToken: usdcBase, SrcTokenAmount: "5000000", InputValue: "5"})
	if e.Snapshot().Selected != nil {
		t.Fatal("expected a new request to clear the selection")
	}
}

func TestSnapshotWithoutGasLeavesCostUnknown(t *testing.T) {
	e := New(Config{})
	e.SetRequest(model.QuoteRequest{SrcChainID: 1, DestChainID: 8453, SrcToken: usdcMainnet, DestToken: usdcBase, SrcTokenAmount: "100000000", InputValue: "100"})
	e.SetRates(testRates())
	e.SetQuotes([]model.QuoteResponse{route("across", 60, "97000000")}, model.RefreshState{QuotesLastFetchedMs: 1, QuotesRefreshCount: 1})
	snap := e.Snapshot()
	if snap.Quotes[0].AdjustedReturn.ValueInCurrency.Valid || snap.Quotes[0].Cost.ValueInCurrency.Valid {
		t.Fatalf("expected unknown gas to leave the return unknown, got %+v", snap.Quotes[0].AdjustedReturn)
	}
	if snap.Active == nil {
		t.Fatal("expected a route to stay active with unknown cost")
	}
}

func TestSnapshotDecide(t *testing.T) {
	e := newTestEngine()
	snap := e.Snapshot()
	d := snap.Decide(validation.Balances{Token: nd("150"), Native: nd("0.01")})
	if !d.Submittable {
		t.Fatalf("expected submittable, got %+v", d)
	}
	d = snap.Decide(validation.Balances{Token: nd("150"), Native: nd("0.001")})
	if d.Reason != validation.ReasonInsufficientGasForQuote {
		t.Fatalf("expected gas reason, got %+v", d)
	}
	if snap.Errors().IsInsufficientBalance(nd("99")) != true {
		t.Fatal("expected low token balance to be reported")
	}
}

func TestSetRequestDefaultsSourceToNative(t *testing.T) {
	e := New(Config{})
	e.SetRequest(model.QuoteRequest{SrcChainID: 137, DestChainID: 1})
	snap := e.Snapshot()
	if snap.Request.SrcToken.Address != id.NativeAddress || snap.Request.SrcToken.Symbol != "POL" {
		t.Fatalf("expected native source token, got %+v", snap.Request.SrcToken)
	}
}
