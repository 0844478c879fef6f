package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
}

// Token identifies an asset on a chain. The gas token uses the zero address.
type Token struct {
	ChainID  int64  `json:"chain_id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	IconURL  string `json:"icon_url,omitempty"`
}

// Step is one hop of a route.
type Step struct {
	Action      string `json:"action"`
	Protocol    string `json:"protocol"`
	SrcChainID  int64  `json:"src_chain_id"`
	DestChainID int64  `json:"dest_chain_id"`
	SrcAsset    Token  `json:"src_asset"`
	DestAsset   Token  `json:"dest_asset"`
	SrcAmount   string `json:"src_amount"`
	DestAmount  string `json:"dest_amount"`
}

type FeeAmount struct {
	Amount string `json:"amount"`
	Asset  Token  `json:"asset"`
}

type FeeData struct {
	Metabridge FeeAmount `json:"metabridge"`
}

// Quote is a provider's offer for one route. Amounts are base-unit integer
// strings.
type Quote struct {
	RequestID       string   `json:"request_id,omitempty"`
	Provider        string   `json:"provider"`
	BridgeID        string   `json:"bridge_id"`
	Bridges         []string `json:"bridges"`
	Steps           []Step   `json:"steps"`
	SrcAsset        Token    `json:"src_asset"`
	DestAsset       Token    `json:"dest_asset"`
	SrcChainID      int64    `json:"src_chain_id"`
	DestChainID     int64    `json:"dest_chain_id"`
	SrcTokenAmount  string   `json:"src_token_amount"`
	DestTokenAmount string   `json:"dest_token_amount"`
	FeeData         FeeData  `json:"fee_data"`
}

// TxData carries the parts of a transaction needed for fee estimation.
// Value is a wei amount as a decimal or 0x-prefixed hex string.
type TxData struct {
	ChainID  int64  `json:"chain_id"`
	To       string `json:"to"`
	Value    string `json:"value"`
	GasLimit uint64 `json:"gas_limit"`
}

type QuoteResponse struct {
	Quote                            Quote   `json:"quote"`
	Trade                            TxData  `json:"trade"`
	Approval                         *TxData `json:"approval,omitempty"`
	EstimatedProcessingTimeInSeconds int64   `json:"estimated_processing_time_in_seconds"`
	L1GasFeeWei                      string  `json:"l1_gas_fee_wei,omitempty"`
}

// TokenAmount is an amount in token units with optional currency values.
// Invalid NullDecimals mean the rate needed to value the amount is unknown.
// TokenAmount is an amount in token units with its currency values. When
// AmountUnknown is set, Amount is zero and carries no meaning.
type TokenAmount struct {
	Amount          decimal.Decimal     `json:"amount"`
	AmountUnknown   bool                `json:"amount_unknown,omitempty"`
	ValueInCurrency decimal.NullDecimal `json:"value_in_currency"`
	USD             decimal.NullDecimal `json:"usd"`
}

type CurrencyValue struct {
	ValueInCurrency decimal.NullDecimal `json:"value_in_currency"`
	USD             decimal.NullDecimal `json:"usd"`
}

// EnrichedQuote is a QuoteResponse plus derived economics. It is recomputed
// from inputs and never persisted.
type EnrichedQuote struct {
	QuoteResponse
	ToTokenAmount   TokenAmount     `json:"to_token_amount"`
	SentAmount      TokenAmount     `json:"sent_amount"`
	GasFee          TokenAmount     `json:"gas_fee"`
	RelayerFee      TokenAmount     `json:"relayer_fee"`
	TotalNetworkFee TokenAmount     `json:"total_network_fee"`
	AdjustedReturn  CurrencyValue   `json:"adjusted_return"`
	SwapRate        decimal.Decimal `json:"swap_rate"`
	Cost            CurrencyValue   `json:"cost"`
}

// QuoteRequest is the user's pending transfer.
type QuoteRequest struct {
	SrcChainID       int64  `json:"src_chain_id"`
	DestChainID      int64  `json:"dest_chain_id"`
	SrcToken         Token  `json:"src_token"`
	DestToken        Token  `json:"dest_token"`
	SrcTokenAmount   string `json:"src_token_amount"`
	InputValue       string `json:"input_value"`
	WalletAddress    string `json:"wallet_address,omitempty"`
	SlippagePercent  string `json:"slippage_percent,omitempty"`
	InsufficientBal  bool   `json:"insufficient_bal"`
	RequestedAtMilli int64  `json:"requested_at_ms,omitempty"`
}

// RefreshState tracks the fetch lifecycle of the current quote batch.
type RefreshState struct {
	QuotesLastFetchedMs     int64  `json:"quotes_last_fetched_ms"`
	QuotesRefreshCount      int    `json:"quotes_refresh_count"`
	QuotesInitialLoadTimeMs int64  `json:"quotes_initial_load_time_ms"`
	MaxRefreshCount         int    `json:"max_refresh_count"`
	IsLoading               bool   `json:"is_loading"`
	FetchError              string `json:"fetch_error,omitempty"`
}

// GasFeeEstimates mirrors a fee-market estimate in decimal gwei strings.
type GasFeeEstimates struct {
	ChainID          int64                      `json:"chain_id"`
	EstimatedBaseFee string                     `json:"estimated_base_fee"`
	Tiers            map[string]GasTierEstimate `json:"tiers"`
	FetchedAt        string                     `json:"fetched_at"`
}

type GasTierEstimate struct {
	SuggestedMaxPriorityFeePerGas string `json:"suggested_max_priority_fee_per_gas"`
	SuggestedMaxFeePerGas         string `json:"suggested_max_fee_per_gas"`
}

// PriceQuote is a token's USD price from a market-data source.
type PriceQuote struct {
	Token      Token           `json:"token"`
	PriceUSD   decimal.Decimal `json:"price_usd"`
	Confidence float64         `json:"confidence,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

type ChainInfo struct {
	ChainID      int64  `json:"chain_id"`
	CAIP2        string `json:"caip2"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	NativeSymbol string `json:"native_symbol"`
	Source       bool   `json:"source"`
	Destination  bool   `json:"destination"`
}
