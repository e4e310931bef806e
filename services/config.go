package services

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config 统一的协议运行时配置，为 ledger / coordination / watch 等服务提供账本地址、签名域和时序参数。
//
// **设计目的**：
// - 避免在各个 service 内部硬编码合约地址、链 ID 和有效期
// - 所有字段均可选，未提供时由 WithDefaults 补齐
//
// **说明**：
// - ChainID 为 nil 时以节点 eth_chainId 为准
// - AcceptanceNonce 为接受证明使用的 nonce，账本当前只接受每个参与者的首次接受（1）
type Config struct {
	// LedgerAddress 账本合约地址（EIP-712 verifyingContract）
	LedgerAddress common.Address

	// ChainID 期望的链 ID
	ChainID *big.Int

	// MinWager 最低赌注（wei）
	MinWager *big.Int

	// IntentTTL 意图有效期
	IntentTTL time.Duration

	// AcceptanceTTL 接受证明有效期
	AcceptanceTTL time.Duration

	// AcceptanceNonce 接受证明 nonce
	AcceptanceNonce uint64

	// ReceiptPollInterval 交易回执轮询间隔
	ReceiptPollInterval time.Duration

	// ReceiptTimeout 等待回执的最长时间，超时视为未确认而非失败
	ReceiptTimeout time.Duration

	// RefreshInterval 游戏视图自动刷新间隔
	RefreshInterval time.Duration

	// MyGamesLimit "我的游戏"列表条数
	MyGamesLimit int
}

// DefaultLedgerAddress 本地 hardhat 节点首个部署合约的地址
var DefaultLedgerAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

const (
	DefaultIntentTTL           = time.Hour
	DefaultAcceptanceTTL       = time.Hour
	DefaultAcceptanceNonce     = uint64(1)
	DefaultReceiptPollInterval = time.Second
	DefaultReceiptTimeout      = 2 * time.Minute
	DefaultRefreshInterval     = 10 * time.Second
	DefaultMyGamesLimit        = 10
)

// DefaultMinWager 0.001 ETH
func DefaultMinWager() *big.Int {
	return big.NewInt(1_000_000_000_000_000)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return (&Config{}).WithDefaults()
}

// WithDefaults 返回补齐默认值后的副本
func (c *Config) WithDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.LedgerAddress == (common.Address{}) {
		out.LedgerAddress = DefaultLedgerAddress
	}
	if out.ChainID != nil {
		out.ChainID = new(big.Int).Set(out.ChainID)
	}
	if out.MinWager == nil {
		out.MinWager = DefaultMinWager()
	} else {
		out.MinWager = new(big.Int).Set(out.MinWager)
	}
	if out.IntentTTL <= 0 {
		out.IntentTTL = DefaultIntentTTL
	}
	if out.AcceptanceTTL <= 0 {
		out.AcceptanceTTL = DefaultAcceptanceTTL
	}
	if out.AcceptanceNonce == 0 {
		out.AcceptanceNonce = DefaultAcceptanceNonce
	}
	if out.ReceiptPollInterval <= 0 {
		out.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if out.ReceiptTimeout <= 0 {
		out.ReceiptTimeout = DefaultReceiptTimeout
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.MyGamesLimit <= 0 {
		out.MyGamesLimit = DefaultMyGamesLimit
	}
	return &out
}

// knownNetworks 已知网络名称
var knownNetworks = map[uint64]string{
	31337:    "Localhost",
	11155111: "Sepolia",
	84532:    "Base Sepolia",
}

// NetworkName 返回链 ID 对应的网络名称
func NetworkName(chainID *big.Int) string {
	if chainID == nil {
		return "Unknown"
	}
	if chainID.IsUint64() {
		if name, ok := knownNetworks[chainID.Uint64()]; ok {
			return name
		}
	}
	return fmt.Sprintf("Chain %s", chainID.String())
}
