package bungee

import (
	"context"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

const defaultUserAddress = "0x0000000000000000000000000000000000000001"

// fallbackGasLimit covers a bridge transaction when the route omits one.
const fallbackGasLimit uint64 = 250_000

type Client struct {
	http             *httpx.Client
	baseURL          string
	dedicatedBaseURL string
	apiKey           string
	affiliate        string
}

func New(httpClient *httpx.Client, apiKey, affiliate string) *Client {
	return &Client{
		http:             httpClient,
		baseURL:          registry.BungeeBaseURL,
		dedicatedBaseURL: registry.BungeeDedicatedURL,
		apiKey:           apiKey,
		affiliate:        affiliate,
	}
}

// WithBaseURL points both the public and dedicated API roots at base.
func (c *Client) WithBaseURL(base string) *Client {
	if base = strings.TrimSuffix(strings.TrimSpace(base), "/"); base != "" {
		c.baseURL = base
		c.dedicatedBaseURL = base
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "bungee",
		Type:          "bridge",
		RequiresKey:   false,
		KeyEnvVarName: "XBRIDGE_BUNGEE_API_KEY",
		Capabilities: []string{
			"bridge.quotes",
		},
	}
}

type quoteResponse struct {
	Success bool        `json:"success"`
	Result  quoteResult `json:"result"`
	Error   any         `json:"error"`
}

type quoteResult struct {
	OriginChainID      int64           `json:"originChainId"`
	DestinationChainID int64           `json:"destinationChainId"`
	AutoRoute          *quoteAutoRoute `json:"autoRoute"`
}

type quoteAutoRoute struct {
	QuoteID       string        `json:"quoteId"`
	OutputAmount  string        `json:"outputAmount"`
	EstimatedTime int64         `json:"estimatedTime"`
	GasFee        *quoteGasFee  `json:"gasFee"`
	RouteDetails  quoteDetails  `json:"routeDetails"`
	UserTxs       []quoteUserTx `json:"userTxs"`
	Output        struct {
		Amount string `json:"amount"`
	} `json:"output"`
}

type quoteGasFee struct {
	GasLimit string `json:"gasLimit"`
}

type quoteUserTx struct {
	StepType     string             `json:"stepType"`
	RouteDetails quoteDetails       `json:"routeDetails"`
	SwapRoutes   []quoteSwapRoute   `json:"swapRoutes"`
	BridgeRoutes []quoteBridgeRoute `json:"bridgeRoutes"`
}

type quoteDetails struct {
	Name string `json:"name"`
}

type quoteSwapRoute struct {
	UsedDexName string `json:"usedDexName"`
}

type quoteBridgeRoute struct {
	UsedBridgeNames []string `json:"usedBridgeNames"`
}

// Quotes returns Bungee's auto route for req, or nothing when Bungee has no
// route.
func (c *Client) Quotes(ctx context.Context, req providers.QuoteRequest) ([]model.QuoteResponse, error) {
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		sender = defaultUserAddress
	}
	vals := url.Values{}
	vals.Set("originChainId", strconv.FormatInt(req.FromChain.EVMChainID, 10))
	vals.Set("destinationChainId", strconv.FormatInt(req.ToChain.EVMChainID, 10))
	vals.Set("inputToken", req.FromAsset.Address)
	vals.Set("outputToken", req.ToAsset.Address)
	vals.Set("inputAmount", req.AmountBaseUnits)
	vals.Set("userAddress", sender)
	vals.Set("receiverAddress", sender)

	base := c.baseURL
	apiKey, affiliate, useDedicated := c.dedicatedAuth()
	if useDedicated {
		base = c.dedicatedBaseURL
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/bungee/quote?"+vals.Encode(), nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build bungee quote request", err)
	}
	if useDedicated {
		hReq.Header.Set("x-api-key", apiKey)
		hReq.Header.Set("affiliate", affiliate)
	}

	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, clierr.New(clierr.CodeUnavailable, bungeeError(resp.Error))
	}
	auto := resp.Result.AutoRoute
	if auto == nil {
		return nil, nil
	}
	out := firstNonEmpty(auto.OutputAmount, auto.Output.Amount)
	if out == "" {
		return nil, clierr.New(clierr.CodeUnavailable, "bungee quote missing output amount")
	}
	return []model.QuoteResponse{toQuoteResponse(req, auto, out)}, nil
}

func (c *Client) dedicatedAuth() (apiKey, affiliate string, ok bool) {
	apiKey = strings.TrimSpace(c.apiKey)
	affiliate = strings.TrimSpace(c.affiliate)
	return apiKey, affiliate, apiKey != "" && affiliate != ""
}

func toQuoteResponse(req providers.QuoteRequest, auto *quoteAutoRoute, outAmount string) model.QuoteResponse {
	src := req.FromAsset.Token()
	dst := req.ToAsset.Token()
	q := model.Quote{
		RequestID:       auto.QuoteID,
		Provider:        "bungee",
		BridgeID:        "bungee",
		Bridges:         bridgeNames(auto.UserTxs, auto.RouteDetails.Name),
		SrcAsset:        src,
		DestAsset:       dst,
		SrcChainID:      src.ChainID,
		DestChainID:     dst.ChainID,
		SrcTokenAmount:  req.AmountBaseUnits,
		DestTokenAmount: outAmount,
		FeeData:         model.FeeData{Metabridge: model.FeeAmount{Amount: "0", Asset: src}},
	}
	for _, tx := range auto.UserTxs {
		q.Steps = append(q.Steps, model.Step{
			Action:      strings.ToLower(strings.TrimSpace(tx.StepType)),
			Protocol:    stepProtocol(tx),
			SrcChainID:  src.ChainID,
			DestChainID: dst.ChainID,
			SrcAsset:    src,
			DestAsset:   dst,
		})
	}
	if len(q.Steps) == 0 {
		q.Steps = []model.Step{{Action: "bridge", Protocol: firstNonEmpty(strings.ToLower(auto.RouteDetails.Name), "bungee"), SrcChainID: src.ChainID, DestChainID: dst.ChainID, SrcAsset: src, DestAsset: dst}}
	}

	gasLimit := fallbackGasLimit
	if auto.GasFee != nil {
		if n, ok := new(big.Int).SetString(strings.TrimSpace(auto.GasFee.GasLimit), 10); ok && n.IsUint64() && n.Uint64() > 0 {
			gasLimit = n.Uint64()
		}
	}
	value := "0"
	if req.FromAsset.IsNative() {
		value = req.AmountBaseUnits
	}
	resp := model.QuoteResponse{
		Quote:                            q,
		Trade:                            model.TxData{ChainID: src.ChainID, Value: value, GasLimit: gasLimit},
		EstimatedProcessingTimeInSeconds: auto.EstimatedTime,
	}
	if !req.FromAsset.IsNative() {
		resp.Approval = &model.TxData{ChainID: src.ChainID, To: src.Address, Value: "0", GasLimit: providers.ApprovalGasLimit}
	}
	return resp
}

// bridgeNames lists the bridges a route crosses, sorted and deduplicated.
func bridgeNames(userTxs []quoteUserTx, routeName string) []string {
	names := []string{}
	for _, tx := range userTxs {
		for _, r := range tx.BridgeRoutes {
			for _, bridge := range r.UsedBridgeNames {
				if n := strings.ToLower(strings.TrimSpace(bridge)); n != "" {
					names = append(names, n)
				}
			}
		}
	}
	if len(names) == 0 {
		if n := strings.ToLower(strings.TrimSpace(routeName)); n != "" {
			return []string{n}
		}
		return []string{"bungee"}
	}
	sort.Strings(names)
	return uniqueStrings(names)
}

func stepProtocol(tx quoteUserTx) string {
	var names []string
	switch strings.ToLower(strings.TrimSpace(tx.StepType)) {
	case "swap":
		for _, r := range tx.SwapRoutes {
			if n := strings.ToLower(strings.TrimSpace(r.UsedDexName)); n != "" {
				names = append(names, n)
			}
		}
	case "bridge":
		for _, r := range tx.BridgeRoutes {
			for _, bridge := range r.UsedBridgeNames {
				if n := strings.ToLower(strings.TrimSpace(bridge)); n != "" {
					names = append(names, n)
				}
			}
		}
	}
	if len(names) == 0 {
		return strings.ToLower(strings.TrimSpace(tx.RouteDetails.Name))
	}
	sort.Strings(names)
	return strings.Join(uniqueStrings(names), "+")
}

func uniqueStrings(items []string) []string {
	if len(items) <= 1 {
		return items
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		if i == 0 || item != items[i-1] {
			out = append(out, item)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func bungeeError(v any) string {
	switch t := v.(type) {
	case string:
		if msg := strings.TrimSpace(t); msg != "" {
			return msg
		}
	case map[string]any:
		if msg, ok := t["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}
	return "bungee quote failed"
}
