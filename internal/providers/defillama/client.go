package defillama

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

// maxCoinsPerRequest keeps the coins path segment well below URL limits.
const maxCoinsPerRequest = 60

var llamaChainSlug = map[int64]string{
	1:     "ethereum",
	10:    "optimism",
	56:    "bsc",
	137:   "polygon",
	324:   "era",
	8453:  "base",
	42161: "arbitrum",
	43114: "avax",
	59144: "linea",
}

var nativeCoinGeckoID = map[string]string{
	"ETH":  "ethereum",
	"POL":  "polygon-ecosystem-token",
	"AVAX": "avalanche-2",
	"BNB":  "binancecoin",
}

type Client struct {
	http    *httpx.Client
	coinURL string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, coinURL: registry.DefiLlamaCoinURL}
}

func (c *Client) WithBaseURL(base string) *Client {
	if strings.TrimSpace(base) != "" {
		c.coinURL = strings.TrimSuffix(strings.TrimSpace(base), "/")
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "defillama",
		Type:        "prices",
		RequiresKey: false,
		Capabilities: []string{
			"prices.current",
		},
	}
}

type pricesResponse struct {
	Coins map[string]coinPrice `json:"coins"`
}

type coinPrice struct {
	Price      float64 `json:"price"`
	Symbol     string  `json:"symbol"`
	Decimals   int     `json:"decimals"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

// Prices returns current USD prices for tokens. Tokens on chains DefiLlama
// does not index, and tokens it has no price for, are left out.
func (c *Client) Prices(ctx context.Context, tokens []model.Token) ([]model.PriceQuote, error) {
	keys := make(map[string][]model.Token)
	for _, t := range tokens {
		key, ok := CoinKey(t)
		if !ok {
			continue
		}
		keys[key] = append(keys[key], t)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	out := make([]model.PriceQuote, 0, len(tokens))
	for start := 0; start < len(ordered); start += maxCoinsPerRequest {
		end := min(start+maxCoinsPerRequest, len(ordered))
		batch := ordered[start:end]
		var resp pricesResponse
		endpoint := c.coinURL + "/prices/current/" + strings.Join(batch, ",")
		if err := c.http.GetJSON(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		for _, key := range batch {
			coin, ok := resp.Coins[key]
			if !ok || coin.Price <= 0 {
				continue
			}
			for _, t := range keys[key] {
				out = append(out, model.PriceQuote{
					Token:      t,
					PriceUSD:   decimal.NewFromFloat(coin.Price),
					Confidence: coin.Confidence,
					Timestamp:  coin.Timestamp,
				})
			}
		}
	}
	return out, nil
}

// CoinKey is DefiLlama's coin identifier for t: "chain:address" for
// contract tokens and "coingecko:id" for gas tokens.
func CoinKey(t model.Token) (string, bool) {
	if id.IsNativeAddress(t.Address) {
		symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if symbol == "" {
			symbol = id.ChainByID(t.ChainID).NativeSymbol
		}
		gecko, ok := nativeCoinGeckoID[symbol]
		if !ok {
			return "", false
		}
		return "coingecko:" + gecko, true
	}
	slug, ok := llamaChainSlug[t.ChainID]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s:%s", slug, id.NormalizeAddress(t.Address)), true
}

// RequireAll returns an error naming the first token that has no price.
func RequireAll(tokens []model.Token, prices []model.PriceQuote) error {
	seen := make(map[string]bool, len(prices))
	for _, p := range prices {
		seen[fmt.Sprintf("%d:%s", p.Token.ChainID, id.NormalizeAddress(p.Token.Address))] = true
	}
	for _, t := range tokens {
		if !seen[fmt.Sprintf("%d:%s", t.ChainID, id.NormalizeAddress(t.Address))] {
			return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no price for %s on chain %d", t.Symbol, t.ChainID))
		}
	}
	return nil
}
