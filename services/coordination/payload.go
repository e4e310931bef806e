package coordination

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/rps-client-go/services"
	"github.com/weisyn/rps-client-go/services/ledger"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
)

// DefaultAcceptanceNonce 首次接受使用的 nonce
const DefaultAcceptanceNonce = services.DefaultAcceptanceNonce

// Intent 协调意图（AgentIntent）
type Intent struct {
	PayloadHash       common.Hash
	Expiry            uint64
	Nonce             uint64
	AgentID           common.Address
	CoordinationType  common.Hash
	CoordinationValue *big.Int
	// Participants 按小写十六进制升序
	Participants []common.Address
}

// IntentParams 构建意图的输入
type IntentParams struct {
	Proposer         string
	Counterparty     string
	Wager            *big.Int
	CoordinationType common.Hash
	// CurrentNonce 账本上 agentNonces(proposer) 的当前值
	CurrentNonce uint64
	Expiry       uint64
}

// BuildIntent 构建规范化意图
//
// 相同输入总是得到字节级相同的意图；nonce 为 CurrentNonce+1
func BuildIntent(p IntentParams) (*Intent, error) {
	proposer, err := utils.ParseAddress(p.Proposer)
	if err != nil {
		return nil, types.Validation(err, "proposer")
	}
	counterparty, err := utils.ParseAddress(p.Counterparty)
	if err != nil {
		return nil, types.Validation(err, "counterparty")
	}
	if utils.SameAddress(proposer, counterparty) {
		return nil, types.Validation(
			fmt.Errorf("%w: counterparty equals proposer", types.ErrInvalidAddress), "counterparty")
	}

	value := new(big.Int)
	if p.Wager != nil {
		if p.Wager.Sign() < 0 {
			return nil, types.Validation(types.ErrWagerTooLow, "wager must not be negative")
		}
		value.Set(p.Wager)
	}

	return &Intent{
		Expiry:            p.Expiry,
		Nonce:             p.CurrentNonce + 1,
		AgentID:           proposer,
		CoordinationType:  p.CoordinationType,
		CoordinationValue: value,
		Participants:      utils.SortParticipants(proposer, counterparty),
	}, nil
}

// Args 转换为合约调用元组
func (i *Intent) Args() ledger.IntentArgs {
	participants := make([]common.Address, len(i.Participants))
	copy(participants, i.Participants)
	value := new(big.Int)
	if i.CoordinationValue != nil {
		value.Set(i.CoordinationValue)
	}
	return ledger.IntentArgs{
		PayloadHash:       i.PayloadHash,
		Expiry:            i.Expiry,
		Nonce:             i.Nonce,
		AgentID:           i.AgentID,
		CoordinationType:  i.CoordinationType,
		CoordinationValue: value,
		Participants:      participants,
	}
}

// Acceptance 接受证明（AcceptanceAttestation）
type Acceptance struct {
	IntentHash     common.Hash
	Participant    common.Address
	Nonce          uint64
	Expiry         uint64
	ConditionsHash common.Hash
	// Signature 不参与签名
	Signature []byte
}

// AcceptanceParams 构建接受证明的输入
type AcceptanceParams struct {
	IntentHash     string
	Participant    string
	ConditionsHash common.Hash
	// Nonce 为 0 时使用 DefaultAcceptanceNonce
	Nonce  uint64
	Expiry uint64
}

// BuildAcceptance 构建接受证明，ConditionsHash 为出拳承诺摘要
func BuildAcceptance(p AcceptanceParams) (*Acceptance, error) {
	intentHash, err := utils.ParseHash(p.IntentHash)
	if err != nil {
		return nil, types.Validation(err, "intent hash")
	}
	participant, err := utils.ParseAddress(p.Participant)
	if err != nil {
		return nil, types.Validation(err, "participant")
	}
	nonce := p.Nonce
	if nonce == 0 {
		nonce = DefaultAcceptanceNonce
	}
	return &Acceptance{
		IntentHash:     intentHash,
		Participant:    participant,
		Nonce:          nonce,
		Expiry:         p.Expiry,
		ConditionsHash: p.ConditionsHash,
	}, nil
}

// Args 转换为合约调用元组（含签名）
func (a *Acceptance) Args() ledger.AcceptanceArgs {
	return ledger.AcceptanceArgs{
		IntentHash:     a.IntentHash,
		Participant:    a.Participant,
		Nonce:          a.Nonce,
		Expiry:         a.Expiry,
		ConditionsHash: a.ConditionsHash,
		Signature:      common.CopyBytes(a.Signature),
	}
}
