package lifi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/providers"
)

const routesFixture = `{
  "routes": [
    {
      "id": "route-1",
      "fromChainId": 1,
      "toChainId": 8453,
      "fromAmount": "1000000",
      "toAmount": "950000",
      "fromToken": {"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","chainId":1,"symbol":"USDC","decimals":6},
      "toToken": {"address":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","chainId":8453,"symbol":"USDC","decimals":6},
      "steps": [
        {
          "type": "lifi",
          "tool": "stargateV2",
          "toolDetails": {"key":"stargateV2"},
          "action": {"fromChainId":1,"toChainId":8453,"fromAmount":"1000000",
            "fromToken":{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","chainId":1,"symbol":"USDC","decimals":6},
            "toToken":{"address":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","chainId":8453,"symbol":"USDC","decimals":6}},
          "estimate": {
            "toAmount": "950000",
            "executionDuration": 180.5,
            "feeCosts": [
              {"amount":"300000000000000","included":false,"token":{"address":"0x0000000000000000000000000000000000000000","chainId":1,"decimals":18}},
              {"amount":"2500","included":true,"token":{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","chainId":1,"decimals":6}}
            ],
            "gasCosts": [{"limit":"210000","token":{"address":"0x0000000000000000000000000000000000000000","chainId":1,"decimals":18}}]
          },
          "includedSteps": [
            {"type":"protocol","tool":"feeCollection","action":{"fromChainId":1,"toChainId":1,"fromAmount":"1000000",
              "fromToken":{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","chainId":1,"decimals":6},
              "toToken":{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","chainId":1,"decimals":6}},
             "estimate":{"toAmount":"997500"}},
            {"type":"cross","tool":"stargateV2","action":{"fromChainId":1,"toChainId":8453,"fromAmount":"997500",
              "fromToken":{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","chainId":1,"decimals":6},
              "toToken":{"address":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","chainId":8453,"decimals":6}},
             "estimate":{"toAmount":"950000"}}
          ]
        }
      ]
    },
    {"id":"empty","fromChainId":1,"toChainId":8453,"fromAmount":"1000000","toAmount":"","steps":[]}
  ]
}`

func newLiFiServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/advanced/routes":
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if r.Header.Get("x-lifi-api-key") != "secret" {
				t.Errorf("expected api key header")
			}
			var body routesRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body.FromChainID != 1 || body.ToChainID != 8453 || body.FromAmount != "1000000" || body.Options.Slippage != 0.005 {
				t.Errorf("unexpected routes request: %+v", body)
			}
			_, _ = w.Write([]byte(routesFixture))
		case "/tokens":
			if r.URL.Query().Get("chains") != "8453" {
				t.Errorf("unexpected chains query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"tokens":{"8453":[
				{"address":"0x0000000000000000000000000000000000000000","chainId":8453,"symbol":"ETH","decimals":18},
				{"address":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","chainId":8453,"symbol":"USDC","decimals":6,"logoURI":"https://x/usdc.png"}
			]}}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func quoteRequest(t *testing.T) providers.QuoteRequest {
	t.Helper()
	fromChain, _ := id.ParseChain("ethereum")
	toChain, _ := id.ParseChain("base")
	fromAsset, _ := id.ParseAsset("USDC", fromChain)
	toAsset, _ := id.ParseAsset("USDC", toChain)
	return providers.QuoteRequest{
		FromChain:       fromChain,
		ToChain:         toChain,
		FromAsset:       fromAsset,
		ToAsset:         toAsset,
		AmountBaseUnits: "1000000",
		AmountDecimal:   "1",
	}
}

func TestQuotesMapsRoutes(t *testing.T) {
	srv := newLiFiServer(t)
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), "secret").WithBaseURL(srv.URL)
	quotes, err := c.Quotes(context.Background(), quoteRequest(t))
	if err != nil {
		t.Fatalf("Quotes failed: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected routes without output to be skipped, got %d", len(quotes))
	}
	q := quotes[0]
	if q.Quote.Provider != "lifi" || q.Quote.RequestID != "route-1" || q.Quote.DestTokenAmount != "950000" {
		t.Fatalf("unexpected quote: %+v", q.Quote)
	}
	if len(q.Quote.Bridges) != 1 || q.Quote.Bridges[0] != "stargateV2" {
		t.Fatalf("unexpected bridges: %v", q.Quote.Bridges)
	}
	if len(q.Quote.Steps) != 2 || q.Quote.Steps[1].Action != "cross" {
		t.Fatalf("expected included steps to be flattened, got %+v", q.Quote.Steps)
	}
	if q.Trade.GasLimit != 210000 || q.Trade.Value != "300000000000000" {
		t.Fatalf("unexpected trade: %+v", q.Trade)
	}
	if q.Approval == nil || q.Approval.GasLimit != providers.ApprovalGasLimit {
		t.Fatalf("expected approval for token source, got %+v", q.Approval)
	}
	if q.EstimatedProcessingTimeInSeconds != 180 {
		t.Fatalf("unexpected eta: %d", q.EstimatedProcessingTimeInSeconds)
	}
	if q.Quote.SrcAsset.Address != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Fatalf("expected normalized source address, got %s", q.Quote.SrcAsset.Address)
	}
}

func TestNativeSourceValueIncludesAmount(t *testing.T) {
	var r routesResponse
	if err := json.Unmarshal([]byte(routesFixture), &r); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	route := r.Routes[0]
	route.FromToken.Address = id.NativeAddress
	route.FromToken.Decimals = 18
	route.FromAmount = "1000000000000000000"
	got := toQuoteResponse(route)
	// 1 ETH sent plus the 0.0003 ETH non-included fee.
	if got.Trade.Value != "1000300000000000000" {
		t.Fatalf("unexpected native trade value: %s", got.Trade.Value)
	}
	if got.Approval != nil {
		t.Fatal("native source must not need an approval")
	}
}

func TestTokens(t *testing.T) {
	srv := newLiFiServer(t)
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), "secret").WithBaseURL(srv.URL)
	tokens, err := c.Tokens(context.Background(), 8453)
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if len(tokens) != 2 || tokens[1].IconURL == "" || tokens[1].ChainID != 8453 {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}

func TestQuotesRejectsInvalidSender(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "")
	req := quoteRequest(t)
	req.Sender = "not-an-address"
	if _, err := c.Quotes(context.Background(), req); err == nil {
		t.Fatal("expected invalid sender error")
	}
}
