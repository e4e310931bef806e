package utils

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/rps-client-go/types"
)

// ParseAddress 解析并校验身份地址（20 字节十六进制）
//
// **规则**：
// - 必须带 0x 前缀，40 个十六进制字符
// - 全小写或全大写直接接受；大小写混合时必须通过 EIP-55 校验和
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("%w: missing 0x prefix: %q", types.ErrInvalidAddress, s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", types.ErrInvalidAddress, s)
	}

	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		mixed, err := common.NewMixedcaseAddressFromString(s)
		if err != nil || !mixed.ValidChecksum() {
			return common.Address{}, fmt.Errorf("%w: bad checksum: %q", types.ErrInvalidAddress, s)
		}
	}

	return common.HexToAddress(s), nil
}

// IsAddress 判断字符串是否为合法身份地址
func IsAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// CanonicalHex 返回地址的规范小写十六进制形式（带 0x 前缀）
func CanonicalHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// SameAddress 不区分大小写比较两个地址
func SameAddress(a, b common.Address) bool {
	return a == b
}

// SortParticipants 按规范小写十六进制升序排列参与者
// 结果与入参顺序无关，不修改入参
func SortParticipants(addrs ...common.Address) []common.Address {
	sorted := slices.Clone(addrs)
	slices.SortFunc(sorted, func(a, b common.Address) int {
		return strings.Compare(CanonicalHex(a), CanonicalHex(b))
	})
	return sorted
}

// ParseHash 解析 32 字节十六进制哈希（意图标识）
func ParseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("%w: missing 0x prefix: %q", types.ErrInvalidIntentHash, s)
	}
	body := s[2:]
	if len(body) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: expected 64 hex characters, got %d", types.ErrInvalidIntentHash, len(body))
	}
	for _, c := range body {
		if !isHexChar(c) {
			return common.Hash{}, fmt.Errorf("%w: invalid character %q", types.ErrInvalidIntentHash, c)
		}
	}
	return common.HexToHash(s), nil
}

// Shorten 缩短十六进制字符串用于展示：0x1234...abcd
func Shorten(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// ShortenAddress 缩短地址用于展示
func ShortenAddress(addr common.Address) string {
	return Shorten(addr.Hex())
}

func isHexChar(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
