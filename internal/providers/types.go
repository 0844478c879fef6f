package providers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

// QuoteRequest is what a quote provider needs to price a route.
type QuoteRequest struct {
	FromChain       id.Chain
	ToChain         id.Chain
	FromAsset       id.Asset
	ToAsset         id.Asset
	AmountBaseUnits string
	AmountDecimal   string
	Sender          string
	SlippageBps     int64
}

// QuoteProvider returns every route it can offer for a request. Each
// returned quote carries the provider name.
type QuoteProvider interface {
	Provider
	Quotes(ctx context.Context, req QuoteRequest) ([]model.QuoteResponse, error)
}

// PriceProvider returns USD prices. Tokens without a price are omitted.
type PriceProvider interface {
	Provider
	Prices(ctx context.Context, tokens []model.Token) ([]model.PriceQuote, error)
}

type GasProvider interface {
	Provider
	GasEstimate(ctx context.Context, chainID int64) (model.GasFeeEstimates, error)
}

// BalanceProvider reads an account's balance of token in token units.
type BalanceProvider interface {
	Provider
	Balance(ctx context.Context, account string, token model.Token) (decimal.Decimal, error)
}

type TokenLister interface {
	Provider
	Tokens(ctx context.Context, chainID int64) ([]model.Token, error)
}

const DefaultSlippageBps int64 = 50

// ApprovalGasLimit is the gas budgeted for an ERC20 approve when a provider
// does not price the approval itself.
const ApprovalGasLimit uint64 = 46_000
