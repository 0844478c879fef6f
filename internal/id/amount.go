package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]*(\.[0-9]*)?$`)

// NormalizeAmount accepts either a base-unit integer or a decimal amount and
// returns both renderings. A partially typed decimal ("" or ".") counts as
// zero so in-progress edits still produce a request.
func NormalizeAmount(baseUnits, decimalAmount string, decimals int) (string, string, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimalAmount = strings.TrimSpace(decimalAmount)
	if baseUnits != "" && decimalAmount != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be a positive integer string")
		}
		if n.Sign() < 0 {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be non-negative")
		}
		return n.String(), FromBaseUnits(n, decimals).String(), nil
	}

	if !decimalPattern.MatchString(decimalAmount) {
		return "", "", clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	if decimalAmount == "" || decimalAmount == "." {
		return "0", "0", nil
	}
	if strings.HasPrefix(decimalAmount, ".") {
		decimalAmount = "0" + decimalAmount
	}
	if parts := strings.SplitN(decimalAmount, ".", 2); len(parts) == 2 && len(parts[1]) > decimals {
		return "", "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(decimalAmount, "."))
	if err != nil {
		return "", "", clierr.Wrap(clierr.CodeUsage, "invalid decimal amount", err)
	}
	return ToBaseUnits(d, decimals).String(), d.String(), nil
}

// FromBaseUnits scales an integer amount down by 10^decimals.
func FromBaseUnits(n *big.Int, decimals int) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n, int32(-decimals))
}

// ParseBaseUnits parses a base-unit string and scales it to token units.
// Hex strings with a 0x prefix are accepted for wei values returned by RPC
// nodes and providers.
func ParseBaseUnits(raw string, decimals int) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		_, ok = n.SetString(raw[2:], 16)
	} else {
		_, ok = n.SetString(raw, 10)
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid base unit amount %q", raw)
	}
	return FromBaseUnits(n, decimals), nil
}

// ToBaseUnits scales a token amount up by 10^decimals, truncating any
// precision beyond the token's decimals.
func ToBaseUnits(d decimal.Decimal, decimals int) *big.Int {
	return d.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FormatDecimalCompat converts base-unit integer strings into decimal strings.
func FormatDecimalCompat(baseUnits string, decimals int) string {
	d, err := ParseBaseUnits(baseUnits, decimals)
	if err != nil {
		return "0"
	}
	return d.String()
}
