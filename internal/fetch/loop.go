package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/xbridge/internal/engine"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/refresh"
)

// Request pairs what providers are asked with what the engine validates.
type Request struct {
	Quote providers.QuoteRequest
	Model model.QuoteRequest
}

// NewRequest derives the engine view of a provider request.
func NewRequest(req providers.QuoteRequest, insufficientBal bool) Request {
	slippage := ""
	if req.SlippageBps > 0 {
		slippage = decimal.New(req.SlippageBps, -2).String()
	}
	return Request{
		Quote: req,
		Model: model.QuoteRequest{
			SrcChainID:      req.FromChain.EVMChainID,
			DestChainID:     req.ToChain.EVMChainID,
			SrcToken:        req.FromAsset.Token(),
			DestToken:       req.ToAsset.Token(),
			SrcTokenAmount:  req.AmountBaseUnits,
			InputValue:      req.AmountDecimal,
			WalletAddress:   req.Sender,
			SlippagePercent: slippage,
			InsufficientBal: insufficientBal,
		},
	}
}

// HasAmount reports whether the request asks for a positive amount.
func (r Request) HasAmount() bool {
	return strings.TrimLeft(strings.TrimSpace(r.Model.SrcTokenAmount), "0") != ""
}

// Cycle reports one completed fetch.
type Cycle struct {
	Request Request
	Batch   Batch
	State   model.RefreshState
	Err     error
}

type LoopConfig struct {
	RefreshRate     time.Duration
	MaxRefreshCount int
	InsufficientBal bool
	Timeout         time.Duration
	OnCycle         func(Cycle)
}

// Loop owns the refresh state of one session. It fetches when a request
// arrives and again every RefreshRate until the refresh cap is reached.
type Loop struct {
	fetcher *Fetcher
	engine  *engine.Engine
	cfg     LoopConfig
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewLoop(fetcher *Fetcher, eng *engine.Engine, cfg LoopConfig) *Loop {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = 30 * time.Second
	}
	return &Loop{fetcher: fetcher, engine: eng, cfg: cfg, log: fetcher.opts.Log, now: time.Now}
}

// Run consumes requests until ctx ends, or until requests is closed and the
// current request has used up its refreshes.
func (l *Loop) Run(ctx context.Context, requests <-chan Request) error {
	var (
		current *Request
		state   model.RefreshState
		timer   *time.Timer
		tick    <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		tick = nil
	}
	defer stopTimer()

	for {
		if requests == nil && tick == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			stopTimer()
			current = &req
			state = l.start(ctx, req).State
		case <-tick:
			tick = nil
			state.IsLoading = true
			l.engine.SetRefreshState(state)
			state = l.cycle(ctx, *current, state).State
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if current != nil && current.HasAmount() && refresh.IsQuoteGoingToRefresh(state, l.cfg.InsufficientBal || current.Model.InsufficientBal) {
			timer = time.NewTimer(l.cfg.RefreshRate)
			tick = timer.C
		}
	}
}

// Once installs req and runs its first fetch without scheduling refreshes.
// A request without an amount is installed without fetching.
func (l *Loop) Once(ctx context.Context, req Request) Cycle {
	return l.start(ctx, req)
}

func (l *Loop) start(ctx context.Context, req Request) Cycle {
	state := model.RefreshState{MaxRefreshCount: l.cfg.MaxRefreshCount, IsLoading: true}
	l.engine.SetRequest(req.Model)
	if !req.HasAmount() {
		state.IsLoading = false
		l.engine.SetQuotes(nil, state)
		c := Cycle{Request: req, State: state}
		if l.cfg.OnCycle != nil {
			l.cfg.OnCycle(c)
		}
		return c
	}
	l.engine.SetQuotes(nil, state)
	return l.cycle(ctx, req, state)
}

func (l *Loop) cycle(ctx context.Context, req Request, state model.RefreshState) Cycle {
	fetchCtx := ctx
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}
	started := l.now()
	batch, err := l.fetcher.Fetch(fetchCtx, req.Quote)
	finished := l.now()

	state.IsLoading = false
	state.QuotesRefreshCount++
	if err != nil {
		state.FetchError = err.Error()
		l.engine.SetRefreshState(state)
	} else {
		state.FetchError = ""
		if state.QuotesLastFetchedMs == 0 {
			state.QuotesInitialLoadTimeMs = finished.Sub(started).Milliseconds()
		}
		state.QuotesLastFetchedMs = finished.UnixMilli()
		l.engine.SetRates(batch.Rates)
		if batch.HasGas {
			l.engine.SetGas(batch.Gas)
		}
		l.engine.SetQuotes(batch.Quotes, state)
	}
	l.fetcher.opts.Metrics.RecordBatch(len(batch.Quotes), state.QuotesRefreshCount, state.QuotesLastFetchedMs)

	entry := l.log.WithFields(logrus.Fields{
		"refresh": fmt.Sprintf("%d/%d", state.QuotesRefreshCount, state.MaxRefreshCount),
		"quotes":  len(batch.Quotes),
		"partial": batch.Partial,
	})
	if err != nil {
		entry.WithError(err).Warn("quote refresh failed")
	} else {
		entry.Info("quotes refreshed")
	}
	for _, w := range batch.Warnings {
		l.log.Warn(w)
	}
	c := Cycle{Request: req, Batch: batch, State: state, Err: err}
	if l.cfg.OnCycle != nil {
		l.cfg.OnCycle(c)
	}
	return c
}
