package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/weisyn/rps-client-go/types"
)

// Wallet 签名代理接口
//
// 所有签名操作都可能因用户拒绝而失败（types.ErrUserRejected）
type Wallet interface {
	// Address 获取账户地址
	Address() common.Address

	// SignHash 签名 32 字节哈希，返回 65 字节 r||s||v（v 为 27/28）
	SignHash(ctx context.Context, hash []byte) ([]byte, error)

	// SignTypedData 按 EIP-712 计算摘要并签名
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)

	// SignTransaction 签名交易
	SignTransaction(ctx context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}

// RequestKind 签名请求类型
type RequestKind string

const (
	RequestTypedData   RequestKind = "typed_data"
	RequestTransaction RequestKind = "transaction"
	RequestHash        RequestKind = "hash"
)

// ApprovalRequest 提交给用户确认的签名请求
type ApprovalRequest struct {
	Kind      RequestKind
	Account   common.Address
	TypedData *apitypes.TypedData
	Tx        *ethtypes.Transaction
	Hash      []byte
}

// Approver 用户确认回调，返回 false 表示拒绝
type Approver func(ctx context.Context, req *ApprovalRequest) (bool, error)

// SimpleWallet 基于本地私钥的钱包实现
type SimpleWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	approver   Approver
	createdAt  time.Time
}

// Option 钱包选项
type Option func(*SimpleWallet)

// WithApprover 设置用户确认回调
func WithApprover(approver Approver) Option {
	return func(w *SimpleWallet) {
		w.approver = approver
	}
}

// NewWallet 生成新的 secp256k1 私钥并创建钱包
func NewWallet(opts ...Option) (*SimpleWallet, error) {
	privateKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return newSimpleWallet(privateKey, opts...), nil
}

// NewWalletFromPrivateKey 从十六进制私钥创建钱包
func NewWalletFromPrivateKey(privateKeyHex string, opts ...Option) (*SimpleWallet, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if len(privateKeyHex) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d hex chars", len(privateKeyHex))
	}

	privateKey, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 private key failed: %w", err)
	}
	return newSimpleWallet(privateKey, opts...), nil
}

// NewWalletFromKey 从已解析的私钥创建钱包
func NewWalletFromKey(privateKey *ecdsa.PrivateKey, opts ...Option) *SimpleWallet {
	return newSimpleWallet(privateKey, opts...)
}

func newSimpleWallet(privateKey *ecdsa.PrivateKey, opts ...Option) *SimpleWallet {
	w := &SimpleWallet{
		privateKey: privateKey,
		address:    ethcrypto.PubkeyToAddress(privateKey.PublicKey),
		createdAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Address 获取账户地址
func (w *SimpleWallet) Address() common.Address {
	return w.address
}

// CreatedAt 钱包创建时间
func (w *SimpleWallet) CreatedAt() time.Time {
	return w.createdAt
}

// SignHash 签名哈希
func (w *SimpleWallet) SignHash(ctx context.Context, hash []byte) ([]byte, error) {
	if err := w.approve(ctx, &ApprovalRequest{Kind: RequestHash, Hash: hash}); err != nil {
		return nil, err
	}
	return w.signHash(hash)
}

// SignTypedData 签名 EIP-712 结构化数据
func (w *SimpleWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	if err := w.approve(ctx, &ApprovalRequest{Kind: RequestTypedData, TypedData: &data}); err != nil {
		return nil, err
	}
	return w.signHash(digest)
}

// SignTransaction 签名交易
func (w *SimpleWallet) SignTransaction(ctx context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}
	if err := w.approve(ctx, &ApprovalRequest{Kind: RequestTransaction, Tx: tx}); err != nil {
		return nil, err
	}
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// PrivateKey 获取私钥（谨慎使用）
func (w *SimpleWallet) PrivateKey() *ecdsa.PrivateKey {
	return w.privateKey
}

func (w *SimpleWallet) approve(ctx context.Context, req *ApprovalRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.approver == nil {
		return nil
	}
	req.Account = w.address
	ok, err := w.approver(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUserRejected, err)
	}
	if !ok {
		return types.ErrUserRejected
	}
	return nil
}

// signHash 签名并把恢复位调整为 27/28
func (w *SimpleWallet) signHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("invalid hash length: expected 32 bytes, got %d", len(hash))
	}
	sig, err := ethcrypto.Sign(hash, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress 从 27/28 形式的签名恢复签名者地址
func RecoverAddress(hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
