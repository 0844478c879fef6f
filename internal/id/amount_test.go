package id

import (
	"math/big"
	"testing"
)

func TestNormalizeAmountBaseUnits(t *testing.T) {
	base, dec, err := NormalizeAmount("1000000", "", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "1000000" || dec != "1" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountDecimal(t *testing.T) {
	base, dec, err := NormalizeAmount("", "1.25", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base != "1250000" || dec != "1.25" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountPartialInputIsZero(t *testing.T) {
	for _, input := range []string{"", "."} {
		base, dec, err := NormalizeAmount("", input, 18)
		if err != nil {
			t.Fatalf("NormalizeAmount(%q) failed: %v", input, err)
		}
		if base != "0" || dec != "0" {
			t.Fatalf("expected zero for %q, got base=%s dec=%s", input, base, dec)
		}
	}
	base, _, err := NormalizeAmount("", ".5", 1)
	if err != nil || base != "5" {
		t.Fatalf("expected leading-dot input to parse, got base=%s err=%v", base, err)
	}
}

func TestNormalizeAmountValidation(t *testing.T) {
	if _, _, err := NormalizeAmount("10", "1", 6); err == nil {
		t.Fatal("expected mutual exclusivity error")
	}
	if _, _, err := NormalizeAmount("", "1.1234567", 6); err == nil {
		t.Fatal("expected precision error")
	}
	if _, _, err := NormalizeAmount("-5", "", 6); err == nil {
		t.Fatal("expected negative amount error")
	}
	if got := FormatDecimalCompat("0", 6); got != "0" {
		t.Fatalf("unexpected zero format: %s", got)
	}
}

func TestParseBaseUnitsHexAndDecimal(t *testing.T) {
	d, err := ParseBaseUnits("0x0de0b6b3a7640000", 18)
	if err != nil {
		t.Fatalf("ParseBaseUnits hex failed: %v", err)
	}
	if d.String() != "1" {
		t.Fatalf("expected 1, got %s", d)
	}
	d, err = ParseBaseUnits("1500000", 6)
	if err != nil || d.String() != "1.5" {
		t.Fatalf("expected 1.5, got %s err=%v", d, err)
	}
	if _, err := ParseBaseUnits("abc", 6); err == nil {
		t.Fatal("expected parse error")
	}
	if got := ToBaseUnits(d, 6); got.Cmp(big.NewInt(1500000)) != 0 {
		t.Fatalf("unexpected base units: %s", got)
	}
}
