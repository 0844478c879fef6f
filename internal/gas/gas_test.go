package gas

import (
	"math/big"
	"testing"

	"github.com/ggonzalez94/xbridge/internal/model"
)

func TestDecGweiToWei(t *testing.T) {
	cases := map[string]string{
		"1":           "1000000000",
		"12.5":        "12500000000",
		"0.000000001": "1",
		"0":           "0",
	}
	for in, want := range cases {
		got, err := DecGweiToWei(in)
		if err != nil {
			t.Fatalf("DecGweiToWei(%q) failed: %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("DecGweiToWei(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := DecGweiToWei("-1"); err == nil {
		t.Fatal("expected negative gwei to fail")
	}
	if _, err := DecGweiToWei("abc"); err == nil {
		t.Fatal("expected invalid gwei to fail")
	}
}

func TestFeesFromEstimateTierFallback(t *testing.T) {
	est := model.GasFeeEstimates{
		ChainID:          1,
		EstimatedBaseFee: "10",
		Tiers: map[string]model.GasTierEstimate{
			TierMedium: {SuggestedMaxPriorityFeePerGas: "2"},
			TierHigh:   {SuggestedMaxPriorityFeePerGas: "5"},
		},
	}
	fees, err := FeesFromEstimate(est, "high")
	if err != nil {
		t.Fatalf("FeesFromEstimate failed: %v", err)
	}
	if fees.PriorityFeeGwei != "5" {
		t.Fatalf("expected high tier, got %+v", fees)
	}
	fees, err = FeesFromEstimate(est, "turbo")
	if err != nil || fees.PriorityFeeGwei != "2" {
		t.Fatalf("expected medium fallback, got %+v err=%v", fees, err)
	}
	perGas, err := fees.PerGasWei()
	if err != nil {
		t.Fatalf("PerGasWei failed: %v", err)
	}
	if perGas.String() != "12000000000" {
		t.Fatalf("unexpected per-gas price: %s", perGas)
	}
	if _, err := FeesFromEstimate(model.GasFeeEstimates{}, TierMedium); err == nil {
		t.Fatal("expected missing base fee error")
	}
}

func TestQuoteFeeWeiIncludesApprovalAndL1(t *testing.T) {
	resp := model.QuoteResponse{
		Trade:       model.TxData{GasLimit: 100_000},
		Approval:    &model.TxData{GasLimit: 50_000},
		L1GasFeeWei: "0x3e8",
	}
	got := QuoteFeeWei(resp, big.NewInt(2_000_000_000))
	// 150000 * 2 gwei + 1000 wei
	if got.String() != "300000000001000" {
		t.Fatalf("unexpected fee: %s", got)
	}
}
