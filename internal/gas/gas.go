// Package gas converts fee-market estimates into per-quote network fees.
package gas

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/model"
)

const (
	TierLow    = "low"
	TierMedium = "medium"
	TierHigh   = "high"
)

var gweiScale = decimal.New(1, 9)

// DecGweiToWei converts a decimal gwei string such as "12.5" into wei,
// rounding to the nearest integer wei.
func DecGweiToWei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("value must be non-negative")
	}
	return d.Mul(gweiScale).Round(0).BigInt(), nil
}

// WeiToDecGwei renders a wei amount as a decimal gwei string.
func WeiToDecGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, 0).Div(gweiScale).String()
}

// Fees is the per-gas price applied to every quote in one cycle.
type Fees struct {
	BaseFeeGwei     string `json:"base_fee_gwei"`
	PriorityFeeGwei string `json:"priority_fee_gwei"`
}

// FeesFromEstimate picks tier out of est. Unknown tiers fall back to medium.
func FeesFromEstimate(est model.GasFeeEstimates, tier string) (Fees, error) {
	if strings.TrimSpace(est.EstimatedBaseFee) == "" {
		return Fees{}, fmt.Errorf("gas estimate for chain %d has no base fee", est.ChainID)
	}
	t, ok := est.Tiers[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		t, ok = est.Tiers[TierMedium]
	}
	if !ok {
		return Fees{}, fmt.Errorf("gas estimate for chain %d has no %s tier", est.ChainID, tier)
	}
	return Fees{BaseFeeGwei: est.EstimatedBaseFee, PriorityFeeGwei: t.SuggestedMaxPriorityFeePerGas}, nil
}

// PerGasWei returns base fee plus priority fee in wei.
func (f Fees) PerGasWei() (*big.Int, error) {
	base, err := DecGweiToWei(f.BaseFeeGwei)
	if err != nil {
		return nil, fmt.Errorf("base fee: %w", err)
	}
	tip, err := DecGweiToWei(f.PriorityFeeGwei)
	if err != nil {
		return nil, fmt.Errorf("priority fee: %w", err)
	}
	return base.Add(base, tip), nil
}

// QuoteFeeWei is the source-chain gas cost of executing resp: the trade and
// optional approval gas limits priced at perGasWei, plus any L1 data fee.
func QuoteFeeWei(resp model.QuoteResponse, perGasWei *big.Int) *big.Int {
	limit := new(big.Int).SetUint64(resp.Trade.GasLimit)
	if resp.Approval != nil {
		limit.Add(limit, new(big.Int).SetUint64(resp.Approval.GasLimit))
	}
	total := new(big.Int).Mul(limit, perGasWei)
	if l1 := parseWei(resp.L1GasFeeWei); l1 != nil {
		total.Add(total, l1)
	}
	return total
}

func parseWei(raw string) *big.Int {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(clean, "0x") {
		_, ok = n.SetString(clean[2:], 16)
	} else {
		_, ok = n.SetString(clean, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil
	}
	return n
}
