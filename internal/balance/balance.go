// Package balance reads live account balances and token metadata from a
// chain's JSON-RPC endpoint.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20ReadABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type RPCReader struct {
	overrides map[int64]string
}

func NewRPCReader(overrides map[int64]string) *RPCReader {
	return &RPCReader{overrides: overrides}
}

func (r *RPCReader) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "rpc-balance",
		Type:         "balance",
		RequiresKey:  false,
		Capabilities: []string{"balance.native", "balance.erc20", "token.metadata"},
	}
}

// Balance returns account's balance of token in token units.
func (r *RPCReader) Balance(ctx context.Context, account string, token model.Token) (decimal.Decimal, error) {
	if !common.IsHexAddress(account) {
		return decimal.Zero, clierr.New(clierr.CodeUsage, "account must be a valid EVM address")
	}
	client, err := r.dial(ctx, token.ChainID)
	if err != nil {
		return decimal.Zero, err
	}
	defer client.Close()

	owner := common.HexToAddress(account)
	if id.IsNativeAddress(token.Address) {
		wei, err := client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		return id.FromBaseUnits(wei, 18), nil
	}

	out, err := r.call(ctx, client, token.Address, "balanceOf", owner)
	if err != nil {
		return decimal.Zero, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnavailable, "invalid balanceOf response type")
	}
	return id.FromBaseUnits(raw, token.Decimals), nil
}

// TokenMetadata reads symbol and decimals of an ERC20 on chainID.
func (r *RPCReader) TokenMetadata(ctx context.Context, chainID int64, address string) (model.Token, error) {
	if id.IsNativeAddress(address) {
		return id.NativeAsset(id.ChainByID(chainID)).Token(), nil
	}
	if !common.IsHexAddress(address) {
		return model.Token{}, clierr.New(clierr.CodeUsage, "token address must be a valid EVM address")
	}
	client, err := r.dial(ctx, chainID)
	if err != nil {
		return model.Token{}, err
	}
	defer client.Close()

	decOut, err := r.call(ctx, client, address, "decimals")
	if err != nil {
		return model.Token{}, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return model.Token{}, clierr.New(clierr.CodeUnavailable, "invalid decimals response type")
	}
	symbol := ""
	if symOut, err := r.call(ctx, client, address, "symbol"); err == nil {
		symbol, _ = symOut[0].(string)
	}
	return model.Token{
		ChainID:  chainID,
		Address:  id.NormalizeAddress(address),
		Symbol:   symbol,
		Decimals: int(decimals),
	}, nil
}

func (r *RPCReader) dial(ctx context.Context, chainID int64) (*ethclient.Client, error) {
	rpcURL, err := registry.ResolveRPCURL(r.overrides[chainID], chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return client, nil
}

func (r *RPCReader) call(ctx context.Context, client *ethclient.Client, contract, method string, args ...any) ([]any, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s call", method), err)
	}
	to := common.HexToAddress(contract)
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("call %s", method), err)
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s", method), err)
	}
	return out, nil
}
