package lifi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

const placeholderSender = "0x0000000000000000000000000000000000000001"

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: registry.LiFiBaseURL, apiKey: strings.TrimSpace(apiKey)}
}

// WithBaseURL overrides the API root, typically from configuration.
func (c *Client) WithBaseURL(base string) *Client {
	if strings.TrimSpace(base) != "" {
		c.baseURL = strings.TrimSuffix(strings.TrimSpace(base), "/")
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "lifi",
		Type:          "bridge",
		RequiresKey:   false,
		KeyEnvVarName: "XBRIDGE_LIFI_API_KEY",
		Capabilities: []string{
			"bridge.quotes",
			"tokens.list",
		},
	}
}

type routesRequest struct {
	FromChainID      int64         `json:"fromChainId"`
	ToChainID        int64         `json:"toChainId"`
	FromTokenAddress string        `json:"fromTokenAddress"`
	ToTokenAddress   string        `json:"toTokenAddress"`
	FromAmount       string        `json:"fromAmount"`
	FromAddress      string        `json:"fromAddress"`
	Options          routesOptions `json:"options"`
}

type routesOptions struct {
	Slippage float64 `json:"slippage"`
	Order    string  `json:"order"`
}

type routesResponse struct {
	Routes []route `json:"routes"`
}

type token struct {
	Address  string `json:"address"`
	ChainID  int64  `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

type route struct {
	ID          string `json:"id"`
	FromChainID int64  `json:"fromChainId"`
	ToChainID   int64  `json:"toChainId"`
	FromAmount  string `json:"fromAmount"`
	ToAmount    string `json:"toAmount"`
	FromToken   token  `json:"fromToken"`
	ToToken     token  `json:"toToken"`
	Steps       []step `json:"steps"`
}

type step struct {
	Type        string `json:"type"`
	Tool        string `json:"tool"`
	ToolDetails struct {
		Key string `json:"key"`
	} `json:"toolDetails"`
	Action struct {
		FromChainID int64  `json:"fromChainId"`
		ToChainID   int64  `json:"toChainId"`
		FromToken   token  `json:"fromToken"`
		ToToken     token  `json:"toToken"`
		FromAmount  string `json:"fromAmount"`
	} `json:"action"`
	Estimate struct {
		ToAmount          string    `json:"toAmount"`
		ExecutionDuration float64   `json:"executionDuration"`
		FeeCosts          []feeCost `json:"feeCosts"`
		GasCosts          []gasCost `json:"gasCosts"`
	} `json:"estimate"`
	IncludedSteps []step `json:"includedSteps"`
}

type feeCost struct {
	Amount   string `json:"amount"`
	Included bool   `json:"included"`
	Token    token  `json:"token"`
}

type gasCost struct {
	Limit string `json:"limit"`
	Token token  `json:"token"`
}

// Quotes fetches every advanced route for req and maps each to a quote.
func (c *Client) Quotes(ctx context.Context, req providers.QuoteRequest) ([]model.QuoteResponse, error) {
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		sender = placeholderSender
	}
	if !common.IsHexAddress(sender) {
		return nil, clierr.New(clierr.CodeUsage, "lifi quotes require a valid EVM sender address")
	}
	slippageBps := req.SlippageBps
	if slippageBps <= 0 {
		slippageBps = providers.DefaultSlippageBps
	}
	body, err := json.Marshal(routesRequest{
		FromChainID:      req.FromChain.EVMChainID,
		ToChainID:        req.ToChain.EVMChainID,
		FromTokenAddress: req.FromAsset.Address,
		ToTokenAddress:   req.ToAsset.Address,
		FromAmount:       req.AmountBaseUnits,
		FromAddress:      sender,
		Options:          routesOptions{Slippage: float64(slippageBps) / 10_000, Order: "CHEAPEST"},
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode lifi routes request", err)
	}

	var resp routesResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/advanced/routes", body, c.headers(), &resp); err != nil {
		return nil, err
	}

	out := make([]model.QuoteResponse, 0, len(resp.Routes))
	for _, r := range resp.Routes {
		if strings.TrimSpace(r.ToAmount) == "" {
			continue
		}
		out = append(out, toQuoteResponse(r))
	}
	return out, nil
}

type tokensResponse struct {
	Tokens map[string][]token `json:"tokens"`
}

// Tokens lists the tokens LiFi can route on chainID.
func (c *Client) Tokens(ctx context.Context, chainID int64) ([]model.Token, error) {
	vals := url.Values{}
	vals.Set("chains", strconv.FormatInt(chainID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tokens?"+vals.Encode(), nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build lifi tokens request", err)
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	var resp tokensResponse
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	items := resp.Tokens[strconv.FormatInt(chainID, 10)]
	out := make([]model.Token, 0, len(items))
	for _, t := range items {
		out = append(out, model.Token{
			ChainID:  chainID,
			Address:  id.NormalizeAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			IconURL:  t.LogoURI,
		})
	}
	return out, nil
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-lifi-api-key": c.apiKey}
}

func toQuoteResponse(r route) model.QuoteResponse {
	src := toModelToken(r.FromToken, r.FromChainID)
	dst := toModelToken(r.ToToken, r.ToChainID)
	q := model.Quote{
		RequestID:       r.ID,
		Provider:        "lifi",
		BridgeID:        "lifi",
		SrcAsset:        src,
		DestAsset:       dst,
		SrcChainID:      r.FromChainID,
		DestChainID:     r.ToChainID,
		SrcTokenAmount:  r.FromAmount,
		DestTokenAmount: r.ToAmount,
		FeeData:         model.FeeData{Metabridge: model.FeeAmount{Amount: "0", Asset: src}},
	}

	var (
		gasLimit  uint64
		nativeFee = new(big.Int)
		eta       float64
	)
	for _, s := range r.Steps {
		tool := firstNonEmpty(s.ToolDetails.Key, s.Tool)
		if tool != "" {
			q.Bridges = append(q.Bridges, tool)
		}
		hops := s.IncludedSteps
		if len(hops) == 0 {
			hops = []step{s}
		}
		for _, hop := range hops {
			q.Steps = append(q.Steps, model.Step{
				Action:      hop.Type,
				Protocol:    firstNonEmpty(hop.ToolDetails.Key, hop.Tool),
				SrcChainID:  hop.Action.FromChainID,
				DestChainID: hop.Action.ToChainID,
				SrcAsset:    toModelToken(hop.Action.FromToken, hop.Action.FromChainID),
				DestAsset:   toModelToken(hop.Action.ToToken, hop.Action.ToChainID),
				SrcAmount:   hop.Action.FromAmount,
				DestAmount:  hop.Estimate.ToAmount,
			})
		}
		eta += s.Estimate.ExecutionDuration
		if s.Action.FromChainID != r.FromChainID {
			continue
		}
		for _, g := range s.Estimate.GasCosts {
			if n, err := strconv.ParseUint(strings.TrimSpace(g.Limit), 10, 64); err == nil {
				gasLimit += n
			}
		}
		for _, f := range s.Estimate.FeeCosts {
			if f.Included || !id.IsNativeAddress(f.Token.Address) {
				continue
			}
			if n, ok := new(big.Int).SetString(strings.TrimSpace(f.Amount), 10); ok {
				nativeFee.Add(nativeFee, n)
			}
		}
	}

	value := new(big.Int).Set(nativeFee)
	if id.IsNativeAddress(src.Address) {
		if n, ok := new(big.Int).SetString(r.FromAmount, 10); ok {
			value.Add(value, n)
		}
	}
	resp := model.QuoteResponse{
		Quote:                            q,
		Trade:                            model.TxData{ChainID: r.FromChainID, Value: value.String(), GasLimit: gasLimit},
		EstimatedProcessingTimeInSeconds: int64(eta),
	}
	if !id.IsNativeAddress(src.Address) {
		resp.Approval = &model.TxData{ChainID: r.FromChainID, To: src.Address, Value: "0", GasLimit: providers.ApprovalGasLimit}
	}
	return resp
}

func toModelToken(t token, fallbackChain int64) model.Token {
	chainID := t.ChainID
	if chainID == 0 {
		chainID = fallbackChain
	}
	return model.Token{
		ChainID:  chainID,
		Address:  id.NormalizeAddress(t.Address),
		Symbol:   t.Symbol,
		Decimals: t.Decimals,
		IconURL:  t.LogoURI,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
