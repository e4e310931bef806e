package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals 原生币精度（wei）
const EtherDecimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)

// ParseEther 将十进制以太数量（如 "0.1"）转换为 wei
//
// **规则**：
// - 不接受负数与科学计数法
// - 小数位最多 18 位
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > EtherDecimals {
		return nil, fmt.Errorf("too many decimal places in %q", s)
	}
	for _, part := range []string{intPart, fracPart} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return nil, fmt.Errorf("invalid amount %q", s)
			}
		}
	}

	digits := intPart + fracPart + strings.Repeat("0", EtherDecimals-len(fracPart))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return wei, nil
}

// MustParseEther ParseEther 的 panic 版本，仅用于常量与测试
func MustParseEther(s string) *big.Int {
	wei, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return wei
}

// FormatEther 将 wei 格式化为保留 decimals 位小数的以太数量（四舍五入）
func FormatEther(wei *big.Int, decimals int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	if decimals < 0 {
		decimals = 0
	}
	if decimals > EtherDecimals {
		decimals = EtherDecimals
	}

	abs := new(big.Int).Abs(wei)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(EtherDecimals-decimals)), nil)
	half := new(big.Int).Rsh(scale, 1)
	units := new(big.Int).Quo(new(big.Int).Add(abs, half), scale)

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(units, unit, new(big.Int))

	sign := ""
	if wei.Sign() < 0 && units.Sign() != 0 {
		sign = "-"
	}
	if decimals == 0 {
		return sign + whole.String()
	}
	fracDigits := frac.String()
	fracDigits = strings.Repeat("0", decimals-len(fracDigits)) + fracDigits
	return sign + whole.String() + "." + fracDigits
}

// WeiPerEther 返回 1 ether 对应的 wei（副本）
func WeiPerEther() *big.Int {
	return new(big.Int).Set(weiPerEther)
}
