package across

import (
	"context"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

// depositGasLimit is the gas budgeted for a spoke pool deposit. The
// suggested-fees endpoint does not price the origin transaction.
const depositGasLimit uint64 = 120_000

// defaultFillTime is used when the API omits a fill time estimate.
const defaultFillTime int64 = 120

type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: registry.AcrossBaseURL}
}

func (c *Client) WithBaseURL(base string) *Client {
	if strings.TrimSpace(base) != "" {
		c.baseURL = strings.TrimSuffix(strings.TrimSpace(base), "/")
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "across",
		Type:        "bridge",
		RequiresKey: false,
		Capabilities: []string{
			"bridge.quotes",
		},
	}
}

// Quotes returns the single Across route for req. Amounts outside the
// deposit limits yield no quote rather than an error.
func (c *Client) Quotes(ctx context.Context, req providers.QuoteRequest) ([]model.QuoteResponse, error) {
	if req.FromChain.EVMChainID == req.ToChain.EVMChainID {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.AmountBaseUnits), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "across quotes require a positive base-unit amount")
	}

	vals := url.Values{}
	vals.Set("originChainId", strconv.FormatInt(req.FromChain.EVMChainID, 10))
	vals.Set("destinationChainId", strconv.FormatInt(req.ToChain.EVMChainID, 10))
	vals.Set("inputToken", req.FromAsset.Address)
	vals.Set("outputToken", req.ToAsset.Address)
	vals.Set("amount", amount.String())

	var limits map[string]any
	if err := c.http.GetJSON(ctx, c.baseURL+"/limits?"+vals.Encode(), &limits); err != nil {
		return nil, err
	}
	if !withinLimits(amount, limits) {
		return nil, nil
	}

	var fees map[string]any
	if err := c.http.GetJSON(ctx, c.baseURL+"/suggested-fees?"+vals.Encode(), &fees); err != nil {
		return nil, err
	}
	if isTrue(fees["isAmountTooLow"]) {
		return nil, nil
	}

	out := pickInt(fees, "outputAmount")
	if out == nil {
		// Older responses only carry the total relay fee.
		fee := pickInt(fees, "totalRelayFee", "relayFeeTotal")
		if fee == nil {
			return nil, clierr.New(clierr.CodeUnavailable, "across fee response missing output amount")
		}
		out = new(big.Int).Sub(amount, fee)
		if out.Sign() < 0 {
			out.SetInt64(0)
		}
	}
	eta := int64(pickFloat(fees, "estimatedFillTimeSec", "estimatedFillTime"))
	if eta <= 0 {
		eta = defaultFillTime
	}

	src := req.FromAsset.Token()
	dst := req.ToAsset.Token()
	value := "0"
	if req.FromAsset.IsNative() {
		value = amount.String()
	}
	resp := model.QuoteResponse{
		Quote: model.Quote{
			RequestID: stringField(fees, "id"),
			Provider:  "across",
			BridgeID:  "across",
			Bridges:   []string{"across"},
			Steps: []model.Step{{
				Action:      "bridge",
				Protocol:    "across",
				SrcChainID:  src.ChainID,
				DestChainID: dst.ChainID,
				SrcAsset:    src,
				DestAsset:   dst,
				SrcAmount:   amount.String(),
				DestAmount:  out.String(),
			}},
			SrcAsset:        src,
			DestAsset:       dst,
			SrcChainID:      src.ChainID,
			DestChainID:     dst.ChainID,
			SrcTokenAmount:  amount.String(),
			DestTokenAmount: out.String(),
			FeeData:         model.FeeData{Metabridge: model.FeeAmount{Amount: "0", Asset: src}},
		},
		Trade: model.TxData{
			ChainID:  src.ChainID,
			To:       stringField(fees, "spokePoolAddress"),
			Value:    value,
			GasLimit: depositGasLimit,
		},
		EstimatedProcessingTimeInSeconds: eta,
	}
	if !req.FromAsset.IsNative() {
		resp.Approval = &model.TxData{ChainID: src.ChainID, To: src.Address, Value: "0", GasLimit: providers.ApprovalGasLimit}
	}
	return []model.QuoteResponse{resp}, nil
}

func withinLimits(amount *big.Int, limits map[string]any) bool {
	if lo := pickInt(limits, "minDeposit", "minLimit"); lo != nil && amount.Cmp(lo) < 0 {
		return false
	}
	if hi := pickInt(limits, "maxDeposit", "maxLimit"); hi != nil && amount.Cmp(hi) > 0 {
		return false
	}
	return true
}

// pickInt returns the first key holding an integer. Fee objects of the form
// {"total": "..."} are unwrapped.
func pickInt(m map[string]any, keys ...string) *big.Int {
	for _, key := range keys {
		if n := intValue(m[key]); n != nil {
			return n
		}
	}
	return nil
}

func intValue(v any) *big.Int {
	switch t := v.(type) {
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(t), 10)
		if !ok {
			return nil
		}
		return n
	case float64:
		n, _ := big.NewFloat(t).Int(nil)
		return n
	case map[string]any:
		return intValue(t["total"])
	default:
		return nil
	}
}

func pickFloat(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch t := m[key].(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func isTrue(v any) bool {
	b, _ := v.(bool)
	return b
}
