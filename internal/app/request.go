package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xbridge/internal/engine"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/fetch"
	"github.com/ggonzalez94/xbridge/internal/gas"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/quote"
)

// quoteArgs are the request flags shared by quotes, validate and watch.
type quoteArgs struct {
	fromChain     string
	toChain       string
	asset         string
	toAsset       string
	amount        string
	amountDecimal string
	account       string
	slippageBps   int64
	providers     string
	sort          string
}

func addQuoteFlags(cmd *cobra.Command, a *quoteArgs) {
	cmd.Flags().StringVar(&a.fromChain, "from", "", "Source chain identifier")
	cmd.Flags().StringVar(&a.toChain, "to", "", "Destination chain identifier")
	cmd.Flags().StringVar(&a.asset, "asset", "", "Source asset (symbol/address/CAIP-19); empty means the gas token")
	cmd.Flags().StringVar(&a.toAsset, "to-asset", "", "Destination asset (defaults to the source symbol)")
	cmd.Flags().StringVar(&a.amount, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&a.account, "account", "", "Sender address used for balance checks")
	cmd.Flags().Int64Var(&a.slippageBps, "slippage-bps", -1, "Max slippage in basis points (defaults to bridge.slippage_bps)")
	cmd.Flags().StringVar(&a.providers, "provider", "", "Quote providers to query (comma-separated; defaults to all)")
	cmd.Flags().StringVar(&a.sort, "sort", "", "Sort order (cost_asc|eta_asc)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

// resolveQuoteRequest parses the request flags into a fetch request. Tokens
// missing from the bootstrap registry are resolved on-chain.
func (s *runtimeState) resolveQuoteRequest(ctx context.Context, a quoteArgs) (fetch.Request, error) {
	fromChain, err := id.ParseChain(a.fromChain)
	if err != nil {
		return fetch.Request{}, err
	}
	toChain, err := id.ParseChain(a.toChain)
	if err != nil {
		return fetch.Request{}, err
	}
	if err := s.networks.CheckChainAllowed(fromChain.EVMChainID, toChain.EVMChainID); err != nil {
		return fetch.Request{}, err
	}

	fromAsset, err := id.ParseAsset(a.asset, fromChain)
	if err != nil {
		return fetch.Request{}, err
	}
	if fromAsset, err = s.completeAsset(ctx, fromAsset); err != nil {
		return fetch.Request{}, err
	}
	toAsset, err := s.destinationAsset(ctx, a.toAsset, fromAsset, toChain)
	if err != nil {
		return fetch.Request{}, err
	}

	base, dec, err := id.NormalizeAmount(a.amount, a.amountDecimal, fromAsset.Decimals)
	if err != nil {
		return fetch.Request{}, err
	}
	account := strings.TrimSpace(a.account)
	if account != "" && !common.IsHexAddress(account) {
		return fetch.Request{}, clierr.New(clierr.CodeUsage, "--account must be an EVM address")
	}
	slippage := a.slippageBps
	if slippage < 0 {
		slippage = s.settings.Bridge.SlippageBps
	}
	if slippage > 10_000 {
		return fetch.Request{}, clierr.New(clierr.CodeUsage, "--slippage-bps must be between 0 and 10000")
	}

	return fetch.NewRequest(providers.QuoteRequest{
		FromChain:       fromChain,
		ToChain:         toChain,
		FromAsset:       fromAsset,
		ToAsset:         toAsset,
		AmountBaseUnits: base,
		AmountDecimal:   dec,
		Sender:          account,
		SlippageBps:     slippage,
	}, s.settings.Bridge.InsufficientBal), nil
}

// destinationAsset defaults the destination to the gas token when bridging
// the gas token, and to the token with the source symbol otherwise.
func (s *runtimeState) destinationAsset(ctx context.Context, input string, from id.Asset, toChain id.Chain) (id.Asset, error) {
	if strings.TrimSpace(input) == "" {
		if from.IsNative() {
			return id.NativeAsset(toChain), nil
		}
		asset, err := id.ParseAsset(from.Symbol, toChain)
		if err != nil {
			return id.Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("no %s token known on %s; pass --to-asset", from.Symbol, toChain.Slug))
		}
		return asset, nil
	}
	asset, err := id.ParseAsset(input, toChain)
	if err != nil {
		return id.Asset{}, err
	}
	return s.completeAsset(ctx, asset)
}

func (s *runtimeState) completeAsset(ctx context.Context, asset id.Asset) (id.Asset, error) {
	if asset.IsNative() || asset.Symbol != "" {
		return asset, nil
	}
	if s.balances == nil {
		return id.Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown token %s; metadata lookup unavailable", asset.Address))
	}
	meta, err := s.balances.TokenMetadata(ctx, asset.EVMChainID, asset.Address)
	if err != nil {
		return id.Asset{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("resolve token %s", asset.Address), err)
	}
	asset.Symbol = meta.Symbol
	asset.Decimals = meta.Decimals
	return asset, nil
}

func (s *runtimeState) engineConfig(sortOverride string) (engine.Config, error) {
	b := s.settings.Bridge
	rawSort := b.Sort
	if strings.TrimSpace(sortOverride) != "" {
		rawSort = sortOverride
	}
	order, err := quote.ParseSortOrder(rawSort)
	if err != nil {
		return engine.Config{}, clierr.Wrap(clierr.CodeUsage, "parse sort order", err)
	}
	identity, err := quote.IdentityFor(b.Continuity)
	if err != nil {
		return engine.Config{}, clierr.Wrap(clierr.CodeUsage, "parse bridge.continuity", err)
	}
	switch strings.ToLower(b.GasTier) {
	case gas.TierLow, gas.TierMedium, gas.TierHigh:
	default:
		return engine.Config{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported gas tier %q (low|medium|high)", b.GasTier))
	}
	if !strings.EqualFold(b.Currency, "usd") {
		return engine.Config{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported currency %q; only usd is available", b.Currency))
	}
	return engine.Config{
		Rank: quote.RankConfig{
			ReturnTolerance: b.ReturnTolerance,
			MaxETASeconds:   b.MaxETASeconds,
		},
		Identity: identity,
		GasTier:  strings.ToLower(b.GasTier),
		Strict:   s.settings.Strict,
		Sort:     order,
	}, nil
}

// newFetcher builds a fetcher over the named quote providers, falling back
// to bridge.providers and then to every registered provider.
func (s *runtimeState) newFetcher(filter string) (*fetch.Fetcher, error) {
	names := splitCSV(filter)
	if len(names) == 0 {
		names = s.settings.Bridge.Providers
	}
	if len(names) == 0 {
		names = s.quoteOrder
	}
	selected := make([]providers.QuoteProvider, 0, len(names))
	for _, name := range names {
		provider, ok := s.quoteProviders[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unknown quote provider %q", name))
		}
		selected = append(selected, provider)
	}

	opts := fetch.Options{
		MaxStale: s.settings.MaxStale,
		NoStale:  s.settings.NoStale,
		Currency: strings.ToLower(s.settings.Bridge.Currency),
		Log:      s.logger(),
		Metrics:  s.metrics,
	}
	if s.settings.CacheEnabled {
		opts.Cache = s.cache
	}
	return fetch.New(fetch.Sources{
		Quotes: selected,
		Prices: s.priceProvider,
		Gas:    s.gasProvider,
	}, opts), nil
}

func (s *runtimeState) loopConfig(onCycle func(fetch.Cycle)) fetch.LoopConfig {
	return fetch.LoopConfig{
		RefreshRate:     s.settings.Bridge.RefreshRate,
		MaxRefreshCount: s.settings.Bridge.MaxRefreshCount,
		InsufficientBal: s.settings.Bridge.InsufficientBal,
		Timeout:         s.settings.Timeout,
		OnCycle:         onCycle,
	}
}
