package defillama

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

var (
	usdcBase = model.Token{ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6}
	ethBase  = model.Token{ChainID: 8453, Address: id.NativeAddress, Symbol: "ETH", Decimals: 18}
	ethMain  = model.Token{ChainID: 1, Address: id.NativeAddress, Symbol: "ETH", Decimals: 18}
)

func TestPricesResolvesContractAndNativeCoins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/prices/current/") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		coins := strings.TrimPrefix(r.URL.Path, "/prices/current/")
		if coins != "base:0x833589fcd6edb6e08f4c7c32d4f71b54bda02913,coingecko:ethereum" {
			t.Errorf("unexpected coins: %s", coins)
		}
		_, _ = w.Write([]byte(`{"coins":{
			"coingecko:ethereum":{"price":2500.5,"symbol":"ETH","timestamp":1700000000,"confidence":0.99},
			"base:0x833589fcd6edb6e08f4c7c32d4f71b54bda02913":{"price":0.9998,"symbol":"USDC","decimals":6,"timestamp":1700000000,"confidence":0.99}
		}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0)).WithBaseURL(srv.URL)
	tokens := []model.Token{usdcBase, ethBase, ethMain, {ChainID: 999, Address: "0x0000000000000000000000000000000000000abc"}}
	prices, err := c.Prices(context.Background(), tokens)
	if err != nil {
		t.Fatalf("Prices failed: %v", err)
	}
	if len(prices) != 3 {
		t.Fatalf("expected shared native price for both chains, got %+v", prices)
	}
	for _, p := range prices {
		if id.IsNativeAddress(p.Token.Address) && p.PriceUSD.String() != "2500.5" {
			t.Fatalf("unexpected native price: %s", p.PriceUSD)
		}
	}
	if err := RequireAll(tokens[:3], prices); err != nil {
		t.Fatalf("RequireAll failed: %v", err)
	}
	if err := RequireAll(tokens, prices); err == nil {
		t.Fatal("expected missing price to be reported")
	}
}

func TestCoinKey(t *testing.T) {
	if key, ok := CoinKey(model.Token{ChainID: 137, Address: id.NativeAddress}); !ok || key != "coingecko:polygon-ecosystem-token" {
		t.Fatalf("unexpected polygon native key: %s", key)
	}
	if _, ok := CoinKey(model.Token{ChainID: 999, Address: "0x0000000000000000000000000000000000000abc"}); ok {
		t.Fatal("expected unknown chain to be skipped")
	}
}

func TestPricesEmptyInputSkipsRequest(t *testing.T) {
	c := New(httpx.New(time.Second, 0)).WithBaseURL("http://127.0.0.1:1")
	prices, err := c.Prices(context.Background(), nil)
	if err != nil || len(prices) != 0 {
		t.Fatalf("expected no request for empty input, got %v %v", prices, err)
	}
}
