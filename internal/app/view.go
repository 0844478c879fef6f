package app

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/engine"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/quote"
	"github.com/ggonzalez94/xbridge/internal/refresh"
	"github.com/ggonzalez94/xbridge/internal/validation"
)

type quoteView struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Recommended bool   `json:"recommended"`
	Active      bool   `json:"active"`
	model.EnrichedQuote
}

type refreshView struct {
	model.RefreshState
	IsQuoteGoingToRefresh bool  `json:"is_quote_going_to_refresh"`
	NextRefreshInMS       int64 `json:"next_refresh_in_ms"`
}

type sessionView struct {
	Request              model.QuoteRequest   `json:"request"`
	SortOrder            quote.SortOrder      `json:"sort_order"`
	Quotes               []quoteView          `json:"quotes"`
	RecommendedID        string               `json:"recommended_id,omitempty"`
	SelectedID           string               `json:"selected_id,omitempty"`
	ActiveID             string               `json:"active_id,omitempty"`
	Refresh              refreshView          `json:"refresh"`
	IsBridgeTx           bool                 `json:"is_bridge_tx"`
	ValidatedSrcAmount   decimal.NullDecimal  `json:"validated_src_amount"`
	FromAmountInCurrency decimal.Decimal      `json:"from_amount_in_currency"`
	Validation           *validation.Decision `json:"validation,omitempty"`
}

type errorsView struct {
	NoQuotesAvailable       bool `json:"no_quotes_available"`
	EstimatedReturnLow      bool `json:"estimated_return_low"`
	InsufficientGasBalance  bool `json:"insufficient_gas_balance"`
	InsufficientGasForQuote bool `json:"insufficient_gas_for_quote"`
	InsufficientBalance     bool `json:"insufficient_balance"`
}

type balancesView struct {
	Token  decimal.NullDecimal `json:"token"`
	Native decimal.NullDecimal `json:"native"`
}

type validateView struct {
	validation.Decision
	ActiveID             string              `json:"active_id,omitempty"`
	Errors               errorsView          `json:"errors"`
	Balances             balancesView        `json:"balances"`
	ValidatedSrcAmount   decimal.NullDecimal `json:"validated_src_amount"`
	FromAmountInCurrency decimal.Decimal     `json:"from_amount_in_currency"`
}

// viewer renders engine snapshots with a fixed identity strategy.
type viewer struct {
	identity        quote.IdentityFunc
	refreshRate     time.Duration
	insufficientBal bool
}

func (v viewer) key(q *model.EnrichedQuote) string {
	if q == nil {
		return ""
	}
	return v.identity(q.QuoteResponse)
}

func (v viewer) session(snap *engine.Snapshot, decision *validation.Decision, now time.Time) sessionView {
	activeFingerprint := ""
	if snap.Active != nil {
		activeFingerprint = quote.RouteFingerprint(snap.Active.QuoteResponse)
	}
	quotes := make([]quoteView, 0, len(snap.Quotes))
	for i := range snap.Quotes {
		q := &snap.Quotes[i]
		fingerprint := quote.RouteFingerprint(q.QuoteResponse)
		quotes = append(quotes, quoteView{
			ID:            v.identity(q.QuoteResponse),
			Fingerprint:   fingerprint,
			Recommended:   q == snap.Recommended,
			Active:        fingerprint == activeFingerprint,
			EnrichedQuote: *q,
		})
	}
	insufficient := v.insufficientBal || snap.Request.InsufficientBal
	return sessionView{
		Request:       snap.Request,
		SortOrder:     snap.SortOrder,
		Quotes:        quotes,
		RecommendedID: v.key(snap.Recommended),
		SelectedID:    v.key(snap.Selected),
		ActiveID:      v.key(snap.Active),
		Refresh: refreshView{
			RefreshState:          snap.Refresh,
			IsQuoteGoingToRefresh: refresh.IsQuoteGoingToRefresh(snap.Refresh, insufficient),
			NextRefreshInMS:       refresh.RemainingUntilNext(snap.Refresh, v.refreshRate, insufficient, now).Milliseconds(),
		},
		IsBridgeTx:           snap.IsBridgeTx,
		ValidatedSrcAmount:   snap.ValidatedSrcAmount,
		FromAmountInCurrency: snap.FromAmountInCurrency,
		Validation:           decision,
	}
}

func (v viewer) validate(snap *engine.Snapshot, b validation.Balances) validateView {
	errs := snap.Errors()
	return validateView{
		Decision: snap.Decide(b),
		ActiveID: v.key(snap.Active),
		Errors: errorsView{
			NoQuotesAvailable:       errs.IsNoQuotesAvailable,
			EstimatedReturnLow:      errs.IsEstimatedReturnLow,
			InsufficientGasBalance:  errs.IsInsufficientGasBalance(b.Native),
			InsufficientGasForQuote: errs.IsInsufficientGasForQuote(b.Native),
			InsufficientBalance:     errs.IsInsufficientBalance(b.Token),
		},
		Balances:             balancesView{Token: b.Token, Native: b.Native},
		ValidatedSrcAmount:   snap.ValidatedSrcAmount,
		FromAmountInCurrency: snap.FromAmountInCurrency,
	}
}
