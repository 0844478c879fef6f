// Package engine keeps the latest observed inputs of one bridge session and
// derives the ranked quotes, active quote and validation state from them.
// Derived values are recomputed from a full snapshot of the inputs whenever
// one of their inputs changes and are cached otherwise.
package engine

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/gas"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/quote"
	"github.com/ggonzalez94/xbridge/internal/rates"
	"github.com/ggonzalez94/xbridge/internal/validation"
)

type Config struct {
	Rank     quote.RankConfig
	Identity quote.IdentityFunc
	GasTier  string
	Strict   bool
	Sort     quote.SortOrder
}

// Snapshot is the derived view of one consistent set of inputs. It must be
// treated as read-only.
type Snapshot struct {
	Version              uint64                `json:"version"`
	Request              model.QuoteRequest    `json:"request"`
	SortOrder            quote.SortOrder       `json:"sort_order"`
	Quotes               []model.EnrichedQuote `json:"quotes"`
	Recommended          *model.EnrichedQuote  `json:"recommended,omitempty"`
	Selected             *model.EnrichedQuote  `json:"selected,omitempty"`
	Active               *model.EnrichedQuote  `json:"active,omitempty"`
	Refresh              model.RefreshState    `json:"refresh"`
	IsBridgeTx           bool                  `json:"is_bridge_tx"`
	ValidatedSrcAmount   decimal.NullDecimal   `json:"validated_src_amount"`
	FromAmountInCurrency decimal.Decimal       `json:"from_amount_in_currency"`
	Fees                 gas.Fees              `json:"fees"`

	gate validation.GateInput
}

// Errors returns the validation bundle for the snapshot's active quote.
func (s *Snapshot) Errors() validation.Errors {
	return validation.Build(s.gate.Input)
}

// Decide runs the submission gate against live balances.
func (s *Snapshot) Decide(b validation.Balances) validation.Decision {
	return validation.Decide(s.gate, b)
}

// Engine is safe for concurrent use. Setters bump a version; Snapshot
// recomputes only the nodes whose inputs moved.
type Engine struct {
	mu  sync.RWMutex
	cfg Config

	request    model.QuoteRequest
	hasRequest bool
	batch      []model.QuoteResponse
	rates      rates.Set
	gas        map[int64]model.GasFeeEstimates
	refresh    model.RefreshState
	sortOrder  quote.SortOrder
	selected   *model.EnrichedQuote

	// Input versions.
	requestV, batchV, ratesV, gasV, sortV, selectV, refreshV uint64
	version                                                  uint64

	enriched    []model.EnrichedQuote
	fees        gas.Fees
	enrichedKey [4]uint64
	enrichGen   uint64
	sorted      []model.EnrichedQuote
	sortedKey   [2]uint64
	snap        *Snapshot
}

func New(cfg Config) *Engine {
	if cfg.Identity == nil {
		cfg.Identity = quote.Identity
	}
	if cfg.Sort == "" {
		cfg.Sort = quote.SortCostAsc
	}
	if cfg.GasTier == "" {
		cfg.GasTier = gas.TierMedium
	}
	return &Engine{
		cfg:       cfg,
		rates:     rates.NewSet("usd"),
		gas:       map[int64]model.GasFeeEstimates{},
		sortOrder: cfg.Sort,
	}
}

// SetRequest replaces the pending transfer. A new request clears any manual
// selection.
func (e *Engine) SetRequest(req model.QuoteRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.SrcToken.Address == "" {
		req.SrcToken = id.NativeAsset(id.ChainByID(req.SrcChainID)).Token()
	}
	e.request = req
	e.hasRequest = true
	e.selected = nil
	e.bump(&e.requestV)
	e.bump(&e.selectV)
}

// SetQuotes installs a freshly fetched batch together with the refresh state
// of the cycle that produced it.
func (e *Engine) SetQuotes(batch []model.QuoteResponse, state model.RefreshState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batch = append([]model.QuoteResponse(nil), batch...)
	e.refresh = state
	e.bump(&e.batchV)
	e.bump(&e.refreshV)
}

func (e *Engine) SetRefreshState(state model.RefreshState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh = state
	e.bump(&e.refreshV)
}

func (e *Engine) SetRates(set rates.Set) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates = set
	e.bump(&e.ratesV)
}

func (e *Engine) SetGas(est model.GasFeeEstimates) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gas[est.ChainID] = est
	e.bump(&e.gasV)
}

func (e *Engine) SetSortOrder(order quote.SortOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if order == e.sortOrder {
		return
	}
	e.sortOrder = order
	e.bump(&e.sortV)
}

// SelectQuote records the user's manual choice. A nil quote clears it.
func (e *Engine) SelectQuote(q *model.EnrichedQuote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q != nil {
		cp := *q
		q = &cp
	}
	e.selected = q
	e.bump(&e.selectV)
}

// SelectByKey selects the quote of the current batch whose identity or
// fingerprint equals key. It reports whether one was found.
func (e *Engine) SelectByKey(key string) bool {
	snap := e.Snapshot()
	match := quote.FindByKey(snap.Quotes, key)
	if match == nil {
		return false
	}
	e.SelectQuote(match)
	return true
}

func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Snapshot returns the derived state for the current inputs. Repeated calls
// without intervening setters return the same pointer.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	if e.snap != nil && e.snap.Version == e.version {
		snap := e.snap
		e.mu.RUnlock()
		return snap
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap != nil && e.snap.Version == e.version {
		return e.snap
	}
	e.snap = e.derive()
	return e.snap
}

func (e *Engine) bump(v *uint64) {
	e.version++
	*v = e.version
}

// derive must be called with the write lock held.
func (e *Engine) derive() *Snapshot {
	req := e.request
	if key := [4]uint64{e.requestV, e.batchV, e.ratesV, e.gasV}; key != e.enrichedKey || e.enriched == nil {
		e.fees = e.feesFor(req.SrcChainID)
		e.enriched = quote.Enrich(e.batch, e.enrichInput(req))
		e.enrichedKey = key
		e.enrichGen++
	}
	if key := [2]uint64{e.enrichGen, e.sortV}; key != e.sortedKey || e.sorted == nil {
		e.sorted = quote.Sort(e.enriched, e.sortOrder)
		e.sortedKey = key
	}

	snap := &Snapshot{
		Version:   e.version,
		Request:   req,
		SortOrder: e.sortOrder,
		Quotes:    e.sorted,
		Refresh:   e.refresh,
		Fees:      e.fees,
	}
	snap.Recommended = quote.Recommend(e.sorted, e.sortOrder, e.cfg.Rank)
	snap.Selected = quote.TrackSelection(e.refresh.QuotesRefreshCount, e.selected, e.sorted, e.cfg.Identity)
	snap.Active = quote.Active(snap.Selected, snap.Recommended)

	var fromToken, toToken *model.Token
	if e.hasRequest {
		src, dst := req.SrcToken, req.DestToken
		fromToken = &src
		if dst.Address != "" || dst.Symbol != "" {
			toToken = &dst
		}
		snap.IsBridgeTx = req.SrcChainID != req.DestChainID
	}
	snap.ValidatedSrcAmount = validation.ValidatedAmount(req.SrcTokenAmount, fromToken)
	srcRate := e.rates.Resolve(req.SrcChainID, req.SrcToken.Address)
	snap.FromAmountInCurrency = validation.AmountInCurrency(snap.ValidatedSrcAmount, srcRate.ValueInCurrency)

	snap.gate = validation.GateInput{
		Input: validation.Input{
			ActiveQuote:         snap.Active,
			QuotesLastFetchedMs: e.refresh.QuotesLastFetchedMs,
			IsLoading:           e.refresh.IsLoading,
			ValidatedSrcAmount:  snap.ValidatedSrcAmount,
			FromToken:           fromToken,
			FromTokenInputValue: req.InputValue,
			ReturnTolerance:     e.cfg.Rank.ReturnTolerance,
		},
		ToToken: toToken,
		Strict:  e.cfg.Strict,
	}
	return snap
}

func (e *Engine) enrichInput(req model.QuoteRequest) quote.EnrichInput {
	native := e.rates.NativeFor(req.SrcChainID)
	return quote.EnrichInput{
		FromRate:         e.rates.Resolve(req.SrcChainID, req.SrcToken.Address),
		ToRate:           e.rates.Resolve(req.DestChainID, req.DestToken.Address),
		NativeToCurrency: native.ToCurrency,
		NativeToUSD:      native.ToUSD,
		Fees:             e.fees,
	}
}

// feesFor returns the configured tier of chainID's estimate. Missing data
// leaves the fees empty so gas stays unvalued.
func (e *Engine) feesFor(chainID int64) gas.Fees {
	est, ok := e.gas[chainID]
	if !ok {
		return gas.Fees{}
	}
	fees, err := gas.FeesFromEstimate(est, e.cfg.GasTier)
	if err != nil {
		return gas.Fees{}
	}
	return fees
}
