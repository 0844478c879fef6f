package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type gasRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

func TestRPCSourceGasEstimate(t *testing.T) {
	rpc := newGasRPCServer(t, "0x1", true)
	defer rpc.Close()

	src := NewRPCSource(map[int64]string{1: rpc.URL})
	est, err := src.GasEstimate(context.Background(), 1)
	if err != nil {
		t.Fatalf("GasEstimate failed: %v", err)
	}
	if est.EstimatedBaseFee != "1" {
		t.Fatalf("expected base fee 1 gwei, got %s", est.EstimatedBaseFee)
	}
	medium := est.Tiers[TierMedium]
	if medium.SuggestedMaxPriorityFeePerGas != "2" {
		t.Fatalf("expected medium tip 2 gwei, got %s", medium.SuggestedMaxPriorityFeePerGas)
	}
	if medium.SuggestedMaxFeePerGas != "4" {
		t.Fatalf("expected medium fee cap 4 gwei, got %s", medium.SuggestedMaxFeePerGas)
	}
	if est.Tiers[TierHigh].SuggestedMaxPriorityFeePerGas != "3" {
		t.Fatalf("unexpected high tier: %+v", est.Tiers[TierHigh])
	}
}

func TestRPCSourceFallsBackToTipSuggestion(t *testing.T) {
	rpc := newGasRPCServer(t, "0x1", false)
	defer rpc.Close()

	est, err := NewRPCSource(map[int64]string{1: rpc.URL}).GasEstimate(context.Background(), 1)
	if err != nil {
		t.Fatalf("GasEstimate failed: %v", err)
	}
	for _, tier := range []string{TierLow, TierMedium, TierHigh} {
		if est.Tiers[tier].SuggestedMaxPriorityFeePerGas != "2" {
			t.Fatalf("expected suggested tip for %s, got %+v", tier, est.Tiers[tier])
		}
	}
}

func TestRPCSourceChainMismatch(t *testing.T) {
	rpc := newGasRPCServer(t, "0xa", true)
	defer rpc.Close()

	if _, err := NewRPCSource(map[int64]string{1: rpc.URL}).GasEstimate(context.Background(), 1); err == nil {
		t.Fatal("expected chain mismatch error")
	}
}

func newGasRPCServer(t *testing.T, chainID string, feeHistory bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req gasRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "eth_chainId":
			writeGasRPCResult(t, w, req.ID, chainID)
		case "eth_getBlockByNumber":
			writeGasRPCResult(t, w, req.ID, map[string]any{"baseFeePerGas": "0x3b9aca00"})
		case "eth_feeHistory":
			if !feeHistory {
				writeGasRPCError(w, req.ID, -32601, "fee history disabled")
				return
			}
			reward := []string{"0x3b9aca00", "0x77359400", "0xb2d05e00"}
			writeGasRPCResult(t, w, req.ID, map[string]any{
				"oldestBlock":   "0x10",
				"baseFeePerGas": []string{"0x3b9aca00", "0x3b9aca00", "0x3b9aca00", "0x3b9aca00", "0x3b9aca00", "0x3b9aca00"},
				"gasUsedRatio":  []float64{0.5, 0.5, 0.5, 0.5, 0.5},
				"reward":        [][]string{reward, reward, reward, reward, reward},
			})
		case "eth_maxPriorityFeePerGas":
			writeGasRPCResult(t, w, req.ID, "0x77359400")
		default:
			writeGasRPCError(w, req.ID, -32601, fmt.Sprintf("method not supported in test: %s", req.Method))
		}
	}))
}

func writeGasRPCResult(t *testing.T, w http.ResponseWriter, id json.RawMessage, result any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"jsonrpc": "2.0", "id": rawGasID(id), "result": result}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode rpc result: %v", err)
	}
}

func writeGasRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      rawGasID(id),
		"error":   map[string]any{"code": code, "message": message},
	})
}

func rawGasID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("1")
	}
	return id
}
