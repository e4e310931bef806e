package coordination

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/wallet"
)

// EIP-712 域常量，必须与账本合约一致
const (
	DomainName    = "RockPaperScissorsERC8001"
	DomainVersion = "1"

	IntentPrimaryType     = "AgentIntent"
	AcceptancePrimaryType = "AcceptanceAttestation"
)

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var intentFields = []apitypes.Type{
	{Name: "payloadHash", Type: "bytes32"},
	{Name: "expiry", Type: "uint64"},
	{Name: "nonce", Type: "uint64"},
	{Name: "agentId", Type: "address"},
	{Name: "coordinationType", Type: "bytes32"},
	{Name: "coordinationValue", Type: "uint256"},
	{Name: "participants", Type: "address[]"},
}

var acceptanceFields = []apitypes.Type{
	{Name: "intentHash", Type: "bytes32"},
	{Name: "participant", Type: "address"},
	{Name: "nonce", Type: "uint64"},
	{Name: "expiry", Type: "uint64"},
	{Name: "conditionsHash", Type: "bytes32"},
}

// Domain 签名域（链 + 验证合约）
type Domain struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) typed() apitypes.TypedDataDomain {
	chainID := new(big.Int)
	if d.ChainID != nil {
		chainID.Set(d.ChainID)
	}
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator 计算 EIP-712 域分隔符
func (d Domain) Separator() (common.Hash, error) {
	td := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": domainFields},
		Domain: d.typed(),
	}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// IntentTypedData 构建意图的 EIP-712 结构
func IntentTypedData(d Domain, i *Intent) apitypes.TypedData {
	participants := make([]interface{}, len(i.Participants))
	for k, p := range i.Participants {
		participants[k] = p.Hex()
	}
	value := "0"
	if i.CoordinationValue != nil {
		value = i.CoordinationValue.String()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    domainFields,
			IntentPrimaryType: intentFields,
		},
		PrimaryType: IntentPrimaryType,
		Domain:      d.typed(),
		Message: apitypes.TypedDataMessage{
			"payloadHash":       i.PayloadHash.Hex(),
			"expiry":            strconv.FormatUint(i.Expiry, 10),
			"nonce":             strconv.FormatUint(i.Nonce, 10),
			"agentId":           i.AgentID.Hex(),
			"coordinationType":  i.CoordinationType.Hex(),
			"coordinationValue": value,
			"participants":      participants,
		},
	}
}

// AcceptanceTypedData 构建接受证明的 EIP-712 结构（不含 signature 字段）
func AcceptanceTypedData(d Domain, a *Acceptance) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":        domainFields,
			AcceptancePrimaryType: acceptanceFields,
		},
		PrimaryType: AcceptancePrimaryType,
		Domain:      d.typed(),
		Message: apitypes.TypedDataMessage{
			"intentHash":     a.IntentHash.Hex(),
			"participant":    a.Participant.Hex(),
			"nonce":          strconv.FormatUint(a.Nonce, 10),
			"expiry":         strconv.FormatUint(a.Expiry, 10),
			"conditionsHash": a.ConditionsHash.Hex(),
		},
	}
}

// Digest 计算待签名摘要 keccak256("\x19\x01" ‖ domainSeparator ‖ structHash)
func Digest(td apitypes.TypedData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// ChainReader 读取节点当前链 ID
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// DomainReader 读取账本合约的域分隔符
type DomainReader interface {
	DomainSeparator(ctx context.Context) (common.Hash, error)
}

// Signer 类型化数据签名器
type Signer struct {
	domain Domain
	chain  ChainReader
}

// NewSigner 创建签名器；chain 为 nil 时跳过链校验
func NewSigner(domain Domain, chain ChainReader) *Signer {
	return &Signer{domain: domain, chain: chain}
}

// Domain 签名域
func (s *Signer) Domain() Domain {
	return s.domain
}

// SignIntent 签名意图，返回 65 字节签名
func (s *Signer) SignIntent(ctx context.Context, w wallet.Wallet, i *Intent) ([]byte, error) {
	if i == nil {
		return nil, types.Validation(errors.New("intent is nil"), "")
	}
	return s.sign(ctx, w, IntentTypedData(s.domain, i))
}

// SignAcceptance 签名接受证明，返回 65 字节签名
func (s *Signer) SignAcceptance(ctx context.Context, w wallet.Wallet, a *Acceptance) ([]byte, error) {
	if a == nil {
		return nil, types.Validation(errors.New("acceptance is nil"), "")
	}
	return s.sign(ctx, w, AcceptanceTypedData(s.domain, a))
}

func (s *Signer) sign(ctx context.Context, w wallet.Wallet, td apitypes.TypedData) ([]byte, error) {
	if w == nil {
		return nil, types.Signing(types.ErrSignerUnavailable, td.PrimaryType)
	}
	// 链不一致时不弹出签名请求
	if err := s.checkChain(ctx); err != nil {
		return nil, err
	}

	sig, err := w.SignTypedData(ctx, td)
	if err != nil {
		if errors.Is(err, types.ErrUserRejected) {
			return nil, types.Signing(types.ErrUserRejected, td.PrimaryType)
		}
		return nil, types.Signing(fmt.Errorf("%w: %v", types.ErrSignerUnavailable, err), td.PrimaryType)
	}
	return sig, nil
}

func (s *Signer) checkChain(ctx context.Context) error {
	if s.chain == nil {
		return nil
	}
	active, err := s.chain.ChainID(ctx)
	if err != nil {
		return types.Signing(fmt.Errorf("%w: read active chain: %v", types.ErrSignerUnavailable, err), "")
	}
	if s.domain.ChainID == nil || active.Cmp(s.domain.ChainID) != 0 {
		return types.Signing(types.ErrWrongChain,
			fmt.Sprintf("active chain %s, signing domain chain %v", active, s.domain.ChainID))
	}
	return nil
}

// DomainCheck 本地与账本域分隔符比对结果
type DomainCheck struct {
	Local  common.Hash
	Ledger common.Hash
	Match  bool
}

// VerifyDomain 比对本地计算的域分隔符与账本 DOMAIN_SEPARATOR()
func (s *Signer) VerifyDomain(ctx context.Context, reader DomainReader) (*DomainCheck, error) {
	local, err := s.domain.Separator()
	if err != nil {
		return nil, err
	}
	remote, err := reader.DomainSeparator(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger domain separator: %w", err)
	}
	return &DomainCheck{
		Local:  local,
		Ledger: remote,
		Match:  local == remote,
	}, nil
}
