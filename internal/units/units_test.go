package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatGroupsThousands(t *testing.T) {
	raw, ok := new(big.Int).SetString("1000000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1,000", Format(raw, 18))
}

func TestFormat(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		decimals uint8
		want     string
	}{
		{"zero", "0", 18, "0"},
		{"one token", "1000000000000000000", 18, "1"},
		{"fraction trimmed to four places", "1234567000000000000", 18, "1.2345"},
		{"sub one", "500000000000000000", 18, "0.5"},
		{"dust below display precision", "1", 18, "0"},
		{"million", "1234567000000000000000000", 18, "1,234,567"},
		{"six decimals", "2500000", 6, "2.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tc.raw, 10)
			require.True(t, ok)
			assert.Equal(t, tc.want, Format(raw, tc.decimals))
		})
	}
}

func TestFormatTrim(t *testing.T) {
	raw, ok := new(big.Int).SetString("1230000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1.23", FormatTrim(raw, 18, 6))
	assert.Equal(t, "1.2", FormatTrim(raw, 18, 1))
	assert.Equal(t, "1", FormatTrim(raw, 18, 0))
	assert.Equal(t, "0", FormatTrim(nil, 18, 6))
}

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"100", 18, "100000000000000000000", false},
		{"1.5", 18, "1500000000000000000", false},
		{"0.000000000000000001", 18, "1", false},
		{"1,000", 18, "1000000000000000000000", false},
		{".5", 18, "500000000000000000", false},
		{"", 18, "", true},
		{"-5", 18, "", true},
		{"abc", 18, "", true},
		{"1.2.3", 18, "", true},
		{"0.1234567", 6, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in, tc.decimals)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	raw, err := Parse("1000", 18)
	require.NoError(t, err)
	assert.Equal(t, "1,000", Format(raw, 18))
}

func TestShorteners(t *testing.T) {
	assert.Equal(t, "0x5FbDB2...0aa3", ShortenAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	assert.Equal(t, "0xabcdef12...12345678", ShortenHash("0xabcdef1234567890000000000000000000000000000000000000000012345678"))
	assert.Equal(t, "0x1", ShortenAddress("0x1"))
}
