package bungee

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/providers"
)

func bungeeRequest(t *testing.T) providers.QuoteRequest {
	t.Helper()
	chainFrom, _ := id.ParseChain("ethereum")
	chainTo, _ := id.ParseChain("base")
	assetFrom, _ := id.ParseAsset("USDC", chainFrom)
	assetTo, _ := id.ParseAsset("USDC", chainTo)
	return providers.QuoteRequest{
		FromChain:       chainFrom,
		ToChain:         chainTo,
		FromAsset:       assetFrom,
		ToAsset:         assetTo,
		AmountBaseUnits: "1000000",
		AmountDecimal:   "1",
	}
}

func TestQuotesAutoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/api/v1/bungee/quote" {
			t.Errorf("unexpected path: %s", got)
		}
		q := r.URL.Query()
		if q.Get("originChainId") != "1" || q.Get("destinationChainId") != "8453" || q.Get("inputAmount") != "1000000" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if r.Header.Get("x-api-key") != "" {
			t.Errorf("public backend must not receive api key")
		}
		_, _ = w.Write([]byte(`{
			"success": true,
			"result": {
				"originChainId": 1,
				"destinationChainId": 8453,
				"autoRoute": {
					"quoteId": "q-1",
					"estimatedTime": 10,
					"gasFee": {"gasLimit": "180000", "feeInUsd": 0.0056},
					"routeDetails": {"name": "Bungee Protocol"},
					"output": {"amount": "995000"},
					"outputAmount": "999735",
					"userTxs": [
						{"stepType": "bridge", "bridgeRoutes": [{"usedBridgeNames": ["Across", "across"]}]}
					]
				}
			}
		}`))
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "", "")
	c.baseURL = srv.URL + "/api/v1"
	quotes, err := c.Quotes(context.Background(), bungeeRequest(t))
	if err != nil {
		t.Fatalf("Quotes failed: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected one quote, got %d", len(quotes))
	}
	got := quotes[0]
	if got.Quote.DestTokenAmount != "999735" || got.Quote.RequestID != "q-1" {
		t.Fatalf("unexpected quote: %+v", got.Quote)
	}
	if len(got.Quote.Bridges) != 1 || got.Quote.Bridges[0] != "across" {
		t.Fatalf("expected deduplicated bridges, got %v", got.Quote.Bridges)
	}
	if len(got.Quote.Steps) != 1 || got.Quote.Steps[0].Protocol != "across" {
		t.Fatalf("unexpected steps: %+v", got.Quote.Steps)
	}
	if got.Trade.GasLimit != 180000 || got.EstimatedProcessingTimeInSeconds != 10 || got.Approval == nil {
		t.Fatalf("unexpected trade: %+v", got)
	}
}

func TestQuotesDedicatedBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("affiliate") != "aff" {
			t.Errorf("expected dedicated auth headers")
		}
		_, _ = w.Write([]byte(`{"success":true,"result":{"autoRoute":null}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "key", "aff")
	c.dedicatedBaseURL = srv.URL
	quotes, err := c.Quotes(context.Background(), bungeeRequest(t))
	if err != nil {
		t.Fatalf("Quotes failed: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("expected no quotes without an auto route, got %d", len(quotes))
	}
}

func TestQuotesFailureMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":{"message":"no routes"}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "", "")
	c.baseURL = srv.URL
	_, err := c.Quotes(context.Background(), bungeeRequest(t))
	if err == nil || err.Error() != "no routes" {
		t.Fatalf("expected provider message, got %v", err)
	}
}
