package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	eip155AssetPattern = regexp.MustCompile(`^eip155:[0-9]+/(erc20|slip44):[0-9a-zA-Zx]+$`)
)

// NativeAddress is the sentinel address used for a chain's gas token.
const NativeAddress = "0x0000000000000000000000000000000000000000"

// Some providers encode the gas token with this placeholder instead.
const nativePlaceholder = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

type Chain struct {
	Name         string
	Slug         string
	CAIP2        string
	EVMChainID   int64
	NativeSymbol string
}

type Asset struct {
	ChainID    string
	EVMChainID int64
	AssetID    string
	Address    string
	Symbol     string
	Decimals   int
}

func (a Asset) IsNative() bool {
	return IsNativeAddress(a.Address)
}

// Token converts the parsed asset into the engine's token representation.
func (a Asset) Token() model.Token {
	return model.Token{
		ChainID:  a.EVMChainID,
		Address:  a.Address,
		Symbol:   a.Symbol,
		Decimals: a.Decimals,
	}
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chainBySlug = map[string]Chain{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	"base":      {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH"},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, NativeSymbol: "ETH"},
	"optimism":  {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH"},
	"linea":     {Name: "Linea", Slug: "linea", CAIP2: "eip155:59144", EVMChainID: 59144, NativeSymbol: "ETH"},
	"zksync":    {Name: "zkSync Era", Slug: "zksync", CAIP2: "eip155:324", EVMChainID: 324, NativeSymbol: "ETH"},
	"polygon":   {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, NativeSymbol: "POL"},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114, NativeSymbol: "AVAX"},
	"bsc":       {Name: "BSC", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56, NativeSymbol: "BNB"},
}

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.EVMChainID] = chain
	}
	return out
}()

// Bootstrap registry for symbol resolution on supported bridge networks.
var tokenRegistry = map[int64][]Token{
	1: {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	8453: {
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	42161: {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
	10: {
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	59144: {
		{Symbol: "USDC", Address: "0x176211869cA2b568f2A7D4EE941E073a821EE1ff", Decimals: 6},
		{Symbol: "WETH", Address: "0xe5D7C2a44FfDDf6b295A15c148167daaAf5Cf34f", Decimals: 18},
	},
	137: {
		{Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
		{Symbol: "DAI", Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Decimals: 18},
		{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	56: {
		{Symbol: "USDC", Address: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", Decimals: 18},
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		{Symbol: "DAI", Address: "0x1AF3F329e8BE154074D8769D1FFa4eE058B1DBc3", Decimals: 18},
		{Symbol: "WETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
	},
	43114: {
		{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		{Symbol: "USDT", Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
		{Symbol: "DAI", Address: "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70", Decimals: 18},
		{Symbol: "WETH", Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Decimals: 18},
	},
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		n, _ := strconv.ParseInt(strings.TrimPrefix(norm, "eip155:"), 10, 64)
		return ChainByID(n), nil
	}

	if n, err := strconv.ParseInt(norm, 10, 64); err == nil && n > 0 {
		return ChainByID(n), nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ChainByID returns the known chain for an EVM chain id, or a generic
// descriptor when the id is not registered.
func ChainByID(chainID int64) Chain {
	if known, ok := chainByID[chainID]; ok {
		return known
	}
	return Chain{
		Name:         fmt.Sprintf("EVM-%d", chainID),
		Slug:         fmt.Sprintf("evm-%d", chainID),
		CAIP2:        fmt.Sprintf("eip155:%d", chainID),
		EVMChainID:   chainID,
		NativeSymbol: "ETH",
	}
}

// KnownChains lists registered chains ordered by chain id.
func KnownChains() []Chain {
	out := make([]Chain, 0, len(chainByID))
	for _, chain := range chainByID {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EVMChainID < out[j].EVMChainID })
	return out
}

func ParseAsset(input string, chain Chain) (Asset, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return NativeAsset(chain), nil
	}

	if strings.Contains(raw, "/") {
		if !eip155AssetPattern.MatchString(raw) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		parts := strings.SplitN(raw, "/", 2)
		if parts[0] != chain.CAIP2 {
			return Asset{}, clierr.New(clierr.CodeUsage, "asset chain does not match chain")
		}
		assetParts := strings.SplitN(parts[1], ":", 2)
		if strings.EqualFold(assetParts[0], "slip44") {
			return NativeAsset(chain), nil
		}
		if !common.IsHexAddress(assetParts[1]) {
			return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		return assetFromAddress(chain, assetParts[1]), nil
	}

	if common.IsHexAddress(raw) {
		return assetFromAddress(chain, raw), nil
	}

	if strings.EqualFold(raw, chain.NativeSymbol) {
		return NativeAsset(chain), nil
	}

	matches := findTokensBySymbol(chain.EVMChainID, raw)
	if len(matches) == 0 {
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.CAIP2))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use address or CAIP-19 (%s)", input, chain.CAIP2, strings.Join(addresses, ", ")))
	}
	t := matches[0]
	return Asset{
		ChainID:    chain.CAIP2,
		EVMChainID: chain.EVMChainID,
		AssetID:    canonicalAssetID(chain.CAIP2, t.Address),
		Address:    t.Address,
		Symbol:     t.Symbol,
		Decimals:   t.Decimals,
	}, nil
}

// NativeAsset describes the gas token of chain under the zero address.
func NativeAsset(chain Chain) Asset {
	return Asset{
		ChainID:    chain.CAIP2,
		EVMChainID: chain.EVMChainID,
		AssetID:    chain.CAIP2 + "/slip44:60",
		Address:    NativeAddress,
		Symbol:     chain.NativeSymbol,
		Decimals:   18,
	}
}

func assetFromAddress(chain Chain, address string) Asset {
	addr := NormalizeAddress(address)
	if addr == NativeAddress {
		return NativeAsset(chain)
	}
	token, _ := LookupByAddress(chain.EVMChainID, addr)
	return Asset{
		ChainID:    chain.CAIP2,
		EVMChainID: chain.EVMChainID,
		AssetID:    canonicalAssetID(chain.CAIP2, addr),
		Address:    addr,
		Symbol:     token.Symbol,
		Decimals:   token.Decimals,
	}
}

// IsNativeAddress reports whether address denotes a chain's gas token.
func IsNativeAddress(address string) bool {
	norm := strings.ToLower(strings.TrimSpace(address))
	return norm == "" || norm == NativeAddress || norm == nativePlaceholder
}

// NormalizeAddress lowercases EVM addresses and folds native placeholders
// into the zero address.
func NormalizeAddress(address string) string {
	if IsNativeAddress(address) {
		return NativeAddress
	}
	return strings.ToLower(strings.TrimSpace(address))
}

func canonicalAssetID(chainID, address string) string {
	return fmt.Sprintf("%s/erc20:%s", chainID, strings.ToLower(strings.TrimSpace(address)))
}

func findTokensBySymbol(chainID int64, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, Token{
				Symbol:   strings.ToUpper(t.Symbol),
				Address:  NormalizeAddress(t.Address),
				Decimals: t.Decimals,
			})
		}
	}
	return matches
}

func LookupByAddress(chainID int64, address string) (Token, bool) {
	addr := NormalizeAddress(address)
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, addr) {
			return Token{
				Symbol:   strings.ToUpper(t.Symbol),
				Address:  addr,
				Decimals: t.Decimals,
			}, true
		}
	}
	return Token{}, false
}

// RegistryTokens returns the bootstrap token list for chainID, native token
// first.
func RegistryTokens(chainID int64) []model.Token {
	chain := ChainByID(chainID)
	out := []model.Token{NativeAsset(chain).Token()}
	for _, t := range tokenRegistry[chainID] {
		out = append(out, model.Token{
			ChainID:  chainID,
			Address:  NormalizeAddress(t.Address),
			Symbol:   strings.ToUpper(t.Symbol),
			Decimals: t.Decimals,
		})
	}
	return out
}
