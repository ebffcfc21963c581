// Package units converts between raw on-chain integer amounts and
// human decimal strings, using the decimals resolved from the bound
// contract.
package units

import (
	"fmt"
	"math/big"
	"strings"
)

// Format converts a raw token amount into a display string: divides by
// 10^decimals, groups the integer part by thousands, keeps up to four
// fractional digits and trims trailing zeros.
//
// Examples:
//
//	raw=1000000000000000000000, decimals=18 -> "1,000"
//	raw=1234500000000000000, decimals=18   -> "1.2345"
func Format(raw *big.Int, decimals uint8) string {
	if raw == nil || raw.Sign() == 0 {
		return "0"
	}

	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	intPart := new(big.Int).Div(abs, base)
	fracPart := new(big.Int).Mod(abs, base)

	out := groupThousands(intPart.String())
	if fracPart.Sign() != 0 {
		fracStr := fracPart.String()
		if len(fracStr) < int(decimals) {
			fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
		}
		fracStr = trimFrac(fracStr, 4)
		if fracStr != "" {
			out += "." + fracStr
		}
	}
	if neg {
		out = "-" + out
	}
	return out
}

// FormatTrim converts a raw amount to a plain decimal string without
// grouping, trimmed to maxFrac fractional digits. Used for native
// balances and wire-adjacent output.
func FormatTrim(raw *big.Int, decimals uint8, maxFrac int) string {
	if raw == nil || raw.Sign() == 0 {
		return "0"
	}

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	intPart := new(big.Int).Div(raw, base)
	fracPart := new(big.Int).Mod(raw, base)

	if fracPart.Sign() == 0 || maxFrac <= 0 {
		return intPart.String()
	}

	fracStr := fracPart.String()
	if len(fracStr) < int(decimals) {
		fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
	}
	fracStr = trimFrac(fracStr, maxFrac)
	if fracStr == "" {
		return intPart.String()
	}
	return intPart.String() + "." + fracStr
}

// Parse converts a user-entered decimal string into a raw integer
// amount at the given decimals. Rejects empty input, malformed
// numbers, negative amounts and excess fractional digits.
func Parse(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount")
	}

	intStr, fracStr := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intStr, fracStr = s[:i], s[i+1:]
	}
	if intStr == "" {
		intStr = "0"
	}
	if !isDigits(intStr) || (fracStr != "" && !isDigits(fracStr)) {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if len(fracStr) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}

	fracStr += strings.Repeat("0", int(decimals)-len(fracStr))
	out, ok := new(big.Int).SetString(intStr+fracStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return out, nil
}

// ShortenAddress abbreviates a hex address for logs and notifications:
// "0x123456...abcd".
func ShortenAddress(addr string) string {
	if len(addr) < 12 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-4:]
}

// ShortenHash abbreviates a transaction hash the way the UI surfaces
// pending transactions: first ten and last eight characters.
func ShortenHash(h string) string {
	if len(h) < 20 {
		return h
	}
	return h[:10] + "..." + h[len(h)-8:]
}

func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func trimFrac(frac string, maxFrac int) string {
	if maxFrac <= 0 {
		return ""
	}
	if len(frac) > maxFrac {
		frac = frac[:maxFrac]
	}
	return strings.TrimRight(frac, "0")
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
