package gas

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

var (
	fallbackBaseFee = big.NewInt(1_000_000_000)
	fallbackTip     = big.NewInt(2_000_000_000)
	tierPercentiles = []float64{10, 50, 90}
	tierNames       = []string{TierLow, TierMedium, TierHigh}
)

const feeHistoryBlocks = 5

// RPCSource builds fee estimates from a chain's JSON-RPC endpoint.
type RPCSource struct {
	overrides map[int64]string
}

func NewRPCSource(overrides map[int64]string) *RPCSource {
	return &RPCSource{overrides: overrides}
}

func (s *RPCSource) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "rpc-gas",
		Type:         "gas",
		RequiresKey:  false,
		Capabilities: []string{"gas.estimate"},
	}
}

func (s *RPCSource) GasEstimate(ctx context.Context, chainID int64) (model.GasFeeEstimates, error) {
	rpcURL, err := registry.ResolveRPCURL(s.overrides[chainID], chainID)
	if err != nil {
		return model.GasFeeEstimates{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return model.GasFeeEstimates{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	remoteID, err := client.ChainID(ctx)
	if err != nil {
		return model.GasFeeEstimates{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if remoteID.Int64() != chainID {
		return model.GasFeeEstimates{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc chain mismatch: expected %d, got %d", chainID, remoteID.Int64()))
	}

	baseFee, err := pendingBaseFee(ctx, client)
	if err != nil {
		return model.GasFeeEstimates{}, err
	}
	tips := tierTips(ctx, client)

	tiers := make(map[string]model.GasTierEstimate, len(tierNames))
	for i, name := range tierNames {
		feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
		feeCap.Add(feeCap, tips[i])
		tiers[name] = model.GasTierEstimate{
			SuggestedMaxPriorityFeePerGas: WeiToDecGwei(tips[i]),
			SuggestedMaxFeePerGas:         WeiToDecGwei(feeCap),
		}
	}
	return model.GasFeeEstimates{
		ChainID:          chainID,
		EstimatedBaseFee: WeiToDecGwei(baseFee),
		Tiers:            tiers,
		FetchedAt:        time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func pendingBaseFee(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", "pending", false); err == nil {
		if block.BaseFeePerGas == nil {
			return new(big.Int).Set(fallbackBaseFee), nil
		}
		return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	if header.BaseFee == nil {
		return new(big.Int).Set(fallbackBaseFee), nil
	}
	return new(big.Int).Set(header.BaseFee), nil
}

// tierTips returns low/medium/high priority fees from recent fee history,
// falling back to the node's single suggestion.
func tierTips(ctx context.Context, client *ethclient.Client) []*big.Int {
	history, err := client.FeeHistory(ctx, feeHistoryBlocks, nil, tierPercentiles)
	if err == nil && len(history.Reward) > 0 {
		out := make([]*big.Int, len(tierPercentiles))
		for i := range tierPercentiles {
			samples := make([]*big.Int, 0, len(history.Reward))
			for _, block := range history.Reward {
				if i < len(block) && block[i] != nil {
					samples = append(samples, block[i])
				}
			}
			out[i] = median(samples)
		}
		return out
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		tip = new(big.Int).Set(fallbackTip)
	}
	return []*big.Int{tip, tip, tip}
}

func median(values []*big.Int) *big.Int {
	if len(values) == 0 {
		return new(big.Int).Set(fallbackTip)
	}
	sorted := make([]*big.Int, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	return new(big.Int).Set(sorted[len(sorted)/2])
}
