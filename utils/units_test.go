package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "0.1", want: "100000000000000000"},
		{input: "1", want: "1000000000000000000"},
		{input: "0.001", want: "1000000000000000"},
		{input: ".5", want: "500000000000000000"},
		{input: "0.000000000000000001", want: "1"},
		{input: "0.0000000000000000001", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "1e18", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEther(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei      *big.Int
		decimals int
		want     string
	}{
		{MustParseEther("0.1"), 4, "0.1000"},
		{MustParseEther("0.2"), 4, "0.2000"},
		{new(big.Int).Neg(MustParseEther("0.1")), 4, "-0.1000"},
		{MustParseEther("1.23456"), 4, "1.2346"},
		{MustParseEther("12"), 0, "12"},
		{big.NewInt(0), 4, "0.0000"},
		{nil, 2, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEther(tt.wei, tt.decimals))
		})
	}
}
