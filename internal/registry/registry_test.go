package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestERC20ReadABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ReadABI))
	if err != nil {
		t.Fatalf("failed to parse abi json: %v", err)
	}
	for _, method := range []string{"balanceOf", "decimals", "symbol"} {
		if _, ok := parsed.Methods[method]; !ok {
			t.Fatalf("missing method %s", method)
		}
	}
}

func TestDefaultRPCURL(t *testing.T) {
	if rpc, ok := DefaultRPCURL(59144); !ok || rpc == "" {
		t.Fatalf("expected linea rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if _, ok := DefaultRPCURL(999999); ok {
		t.Fatal("did not expect rpc default for unsupported chain")
	}
}

func TestResolveRPCURL(t *testing.T) {
	override, err := ResolveRPCURL(" https://rpc.example.test ", 1)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if override != "https://rpc.example.test" {
		t.Fatalf("unexpected override value: %q", override)
	}
	if _, err := ResolveRPCURL("", 999999); err == nil {
		t.Fatal("expected missing chain default rpc error")
	}
}

func TestIsAllowedProviderURL(t *testing.T) {
	if !IsAllowedProviderURL("lifi", "") {
		t.Fatal("expected empty endpoint to be allowed")
	}
	if !IsAllowedProviderURL("lifi", "https://li.quest:443/v1/") {
		t.Fatal("expected canonical endpoint with explicit default port to be allowed")
	}
	if IsAllowedProviderURL("lifi", AcrossBaseURL) {
		t.Fatal("did not expect across endpoint to be allowed for lifi")
	}
	if IsAllowedProviderURL("lifi", "http://li.quest/v1") {
		t.Fatal("did not expect non-https endpoint to be allowed for non-loopback")
	}
	if !IsAllowedProviderURL("defillama", "http://127.0.0.1:8080") {
		t.Fatal("expected loopback endpoint to be allowed for tests/dev")
	}
	if IsAllowedProviderURL("unknown", "https://example.com") {
		t.Fatal("did not expect unknown provider to be allowed")
	}
}
