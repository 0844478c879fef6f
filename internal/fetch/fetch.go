// Package fetch collects quotes, prices and gas estimates for a request and
// drives the periodic refresh of a quote session.
package fetch

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/xbridge/internal/cache"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/metrics"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/rates"
	"github.com/ggonzalez94/xbridge/internal/validation"
)

const (
	DefaultQuoteTTL = 15 * time.Second
	DefaultPriceTTL = 60 * time.Second
	DefaultGasTTL   = 12 * time.Second
)

type Sources struct {
	Quotes []providers.QuoteProvider
	Prices providers.PriceProvider
	Gas    providers.GasProvider
}

type Options struct {
	Cache    *cache.Store
	MaxStale time.Duration
	NoStale  bool
	QuoteTTL time.Duration
	PriceTTL time.Duration
	GasTTL   time.Duration
	Currency string
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

type Fetcher struct {
	src  Sources
	opts Options
	now  func() time.Time
}

func New(src Sources, opts Options) *Fetcher {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = DefaultQuoteTTL
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = DefaultPriceTTL
	}
	if opts.GasTTL <= 0 {
		opts.GasTTL = DefaultGasTTL
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Fetcher{src: src, opts: opts, now: time.Now}
}

// Batch is the result of one fetch cycle.
type Batch struct {
	Quotes    []model.QuoteResponse
	Rates     rates.Set
	Gas       model.GasFeeEstimates
	HasGas    bool
	Providers []model.ProviderStatus
	Warnings  []string
	Partial   bool
	Cache     model.CacheStatus
}

// Fetch queries every quote provider, the price source and the gas source
// concurrently. Provider failures are reported as warnings; an error is
// returned only when every quote provider failed.
func (f *Fetcher) Fetch(ctx context.Context, req providers.QuoteRequest) (Batch, error) {
	if len(f.src.Quotes) == 0 {
		return Batch{}, clierr.New(clierr.CodeUnsupported, "no quote providers configured")
	}

	type providerResult struct {
		quotes []model.QuoteResponse
		status model.ProviderStatus
		err    error
		stale  *cache.Result
	}
	results := make([]providerResult, len(f.src.Quotes))
	var (
		mu       sync.Mutex
		batch    = Batch{Rates: rates.NewSet(f.opts.Currency), Cache: model.CacheStatus{Status: "miss"}}
		warnings []string
	)
	warn := func(msg string) {
		mu.Lock()
		warnings = append(warnings, msg)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range f.src.Quotes {
		g.Go(func() error {
			name := provider.Info().Name
			start := time.Now()
			quotes, err := provider.Quotes(gctx, req)
			elapsed := time.Since(start)
			f.opts.Metrics.RecordFetch(name, err, elapsed)
			res := providerResult{
				quotes: quotes,
				err:    err,
				status: model.ProviderStatus{Name: name, Status: statusFromErr(err), LatencyMS: elapsed.Milliseconds()},
			}
			key := quoteKey(name, req)
			if err == nil {
				f.store(key, quotes, f.opts.QuoteTTL)
			} else if cached, ok := f.stale(key, &res.quotes); ok {
				res.stale = &cached
			}
			f.opts.Log.WithFields(logrus.Fields{
				"provider": name,
				"quotes":   len(res.quotes),
				"elapsed":  elapsed.Round(time.Millisecond).String(),
			}).WithError(err).Debug("quote fetch finished")
			results[i] = res
			return nil
		})
	}
	g.Go(func() error {
		set, status, err := f.fetchRates(gctx, req)
		mu.Lock()
		defer mu.Unlock()
		batch.Rates = set
		if status.Status != "" {
			batch.Cache = status
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("price fetch failed, currency values unknown: %v", err))
		}
		return nil
	})
	if f.src.Gas != nil {
		g.Go(func() error {
			est, err := f.fetchGas(gctx, req.FromChain.EVMChainID)
			if err != nil {
				warn(fmt.Sprintf("gas estimate failed, gas fees unknown: %v", err))
				return nil
			}
			mu.Lock()
			batch.Gas, batch.HasGas = est, true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	succeeded := 0
	for _, res := range results {
		batch.Providers = append(batch.Providers, res.status)
		switch {
		case res.err == nil:
			succeeded++
			batch.Quotes = append(batch.Quotes, res.quotes...)
		case res.stale != nil:
			succeeded++
			batch.Partial = true
			batch.Quotes = append(batch.Quotes, res.quotes...)
			warnings = append(warnings, fmt.Sprintf("provider %s failed; serving quotes cached %s ago", res.status.Name, res.stale.Age.Round(time.Second)))
		default:
			batch.Partial = true
			warnings = append(warnings, fmt.Sprintf("provider %s failed: %v", res.status.Name, res.err))
			if firstErr == nil {
				firstErr = res.err
			}
		}
	}
	batch.Warnings = warnings
	if succeeded == 0 {
		return batch, firstErr
	}
	return batch, nil
}

func (f *Fetcher) fetchRates(ctx context.Context, req providers.QuoteRequest) (rates.Set, model.CacheStatus, error) {
	empty := rates.NewSet(f.opts.Currency)
	if f.src.Prices == nil {
		return empty, model.CacheStatus{}, nil
	}
	tokens := PriceTokens(req)
	keyParts := make([]any, 0, len(tokens))
	for _, t := range tokens {
		keyParts = append(keyParts, fmt.Sprintf("%d/%s", t.ChainID, t.Address))
	}
	key := cache.Key(cache.NamespacePrices, keyParts...)

	var prices []model.PriceQuote
	if f.opts.Cache != nil {
		if res, err := f.opts.Cache.GetJSON(key, 0, &prices); err == nil && res.Hit && !res.Stale {
			return f.ratesFrom(prices), model.CacheStatus{Status: "hit", AgeMS: res.Age.Milliseconds()}, nil
		}
	}

	start := time.Now()
	prices, err := f.src.Prices.Prices(ctx, tokens)
	f.opts.Metrics.RecordFetch(f.src.Prices.Info().Name, err, time.Since(start))
	if err != nil {
		if res, ok := f.stale(key, &prices); ok {
			return f.ratesFrom(prices), model.CacheStatus{Status: "hit", AgeMS: res.Age.Milliseconds(), Stale: true}, nil
		}
		return empty, model.CacheStatus{}, err
	}
	f.store(key, prices, f.opts.PriceTTL)
	return f.ratesFrom(prices), model.CacheStatus{Status: "write"}, nil
}

func (f *Fetcher) ratesFrom(prices []model.PriceQuote) rates.Set {
	set := rates.FromPrices(f.opts.Currency, decimal.NewFromInt(1), prices)
	set.Version = f.now().UnixMilli()
	return set
}

func (f *Fetcher) fetchGas(ctx context.Context, chainID int64) (model.GasFeeEstimates, error) {
	key := cache.Key(cache.NamespaceGas, chainID)
	var est model.GasFeeEstimates
	if f.opts.Cache != nil {
		if res, err := f.opts.Cache.GetJSON(key, 0, &est); err == nil && res.Hit && !res.Stale {
			return est, nil
		}
	}
	start := time.Now()
	est, err := f.src.Gas.GasEstimate(ctx, chainID)
	f.opts.Metrics.RecordFetch(f.src.Gas.Info().Name, err, time.Since(start))
	if err != nil {
		if _, ok := f.stale(key, &est); ok {
			return est, nil
		}
		return model.GasFeeEstimates{}, err
	}
	f.store(key, est, f.opts.GasTTL)
	return est, nil
}

// stale decodes a cached entry into out when the stale budget allows it.
func (f *Fetcher) stale(key string, out any) (cache.Result, bool) {
	if f.opts.Cache == nil || f.opts.NoStale {
		return cache.Result{}, false
	}
	res, err := f.opts.Cache.GetJSON(key, f.opts.MaxStale, out)
	if err != nil || !res.Usable() {
		return cache.Result{}, false
	}
	return res, true
}

func (f *Fetcher) store(key string, value any, ttl time.Duration) {
	if f.opts.Cache == nil {
		return
	}
	if err := f.opts.Cache.SetJSON(key, value, ttl); err != nil {
		f.opts.Log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// PriceTokens lists the tokens whose prices value a request: both sides of
// the transfer and the gas tokens of both chains.
func PriceTokens(req providers.QuoteRequest) []model.Token {
	candidates := []model.Token{
		id.NativeAsset(req.FromChain).Token(),
		id.NativeAsset(req.ToChain).Token(),
		req.FromAsset.Token(),
		req.ToAsset.Token(),
	}
	out := make([]model.Token, 0, len(candidates))
	for _, t := range candidates {
		if t.ChainID == 0 {
			continue
		}
		t.Address = id.NormalizeAddress(t.Address)
		if slices.ContainsFunc(out, func(o model.Token) bool { return o.ChainID == t.ChainID && o.Address == t.Address }) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Balances reads the account's source token and gas token balances
// concurrently. A failed read leaves that balance unknown.
func Balances(ctx context.Context, reader providers.BalanceProvider, account string, token model.Token, log logrus.FieldLogger) validation.Balances {
	var out validation.Balances
	if reader == nil || strings.TrimSpace(account) == "" {
		return out
	}
	native := id.NativeAsset(id.ChainByID(token.ChainID)).Token()
	var g errgroup.Group
	g.Go(func() error {
		bal, err := reader.Balance(ctx, account, token)
		if err != nil {
			log.WithError(err).WithField("token", token.Symbol).Warn("token balance unavailable")
			return nil
		}
		out.Token = decimal.NullDecimal{Decimal: bal, Valid: true}
		return nil
	})
	g.Go(func() error {
		bal, err := reader.Balance(ctx, account, native)
		if err != nil {
			log.WithError(err).Warn("native balance unavailable")
			return nil
		}
		out.Native = decimal.NullDecimal{Decimal: bal, Valid: true}
		return nil
	})
	_ = g.Wait()
	return out
}

func quoteKey(provider string, req providers.QuoteRequest) string {
	return cache.Key(cache.NamespaceQuotes,
		provider,
		req.FromChain.EVMChainID, req.FromAsset.Address,
		req.ToChain.EVMChainID, req.ToAsset.Address,
		req.AmountBaseUnits, req.SlippageBps, strings.ToLower(req.Sender),
	)
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		}
	}
	return "error"
}
