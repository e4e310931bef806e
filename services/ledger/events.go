package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrUnknownEvent 日志不属于账本合约接口
var ErrUnknownEvent = errors.New("unknown ledger event")

// Event 解码后的账本事件
type Event struct {
	Name        string
	IntentHash  common.Hash
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	// Removed 链重组导致日志失效
	Removed bool
	Fields  map[string]interface{}
}

// EventID 返回事件签名哈希（topic0）
func EventID(name string) common.Hash {
	return parsedABI.Events[name].ID
}

// DecodeLog 解码账本日志
func DecodeLog(l *ethtypes.Log) (*Event, error) {
	if l == nil || len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := parsedABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, l.Topics[0].Hex())
	}

	fields := make(map[string]interface{})
	if len(l.Data) > 0 {
		if err := parsedABI.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
			return nil, fmt.Errorf("unpack %s data: %w", ev.Name, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(l.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%s: expected %d indexed topics, got %d", ev.Name, len(indexed), len(l.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse %s topics: %w", ev.Name, err)
	}

	out := &Event{
		Name:        ev.Name,
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		Removed:     l.Removed,
		Fields:      fields,
	}
	if h, ok := fields["intentHash"].([32]byte); ok {
		out.IntentHash = h
	}
	return out, nil
}

// Address 读取地址字段
func (e *Event) Address(name string) (common.Address, bool) {
	v, ok := e.Fields[name].(common.Address)
	return v, ok
}

// Uint 读取整数字段（uint8/uint64/uint256）
func (e *Event) Uint(name string) (*big.Int, bool) {
	switch v := e.Fields[name].(type) {
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case *big.Int:
		return new(big.Int).Set(v), true
	}
	return nil, false
}

// FindEvent 在回执中查找本合约发出的第一条指定事件
func (s *Service) FindEvent(receipt *Receipt, name string) (*Event, error) {
	id := EventID(name)
	for _, l := range receipt.Logs {
		if l.Address != s.address || len(l.Topics) == 0 || l.Topics[0] != id {
			continue
		}
		return DecodeLog(l)
	}
	return nil, fmt.Errorf("%s event not found in tx %s", name, receipt.TxHash.Hex())
}

// ProposedIntentHash 从 proposeCoordination 回执中取得账本分配的意图哈希
func (s *Service) ProposedIntentHash(receipt *Receipt) (common.Hash, error) {
	ev, err := s.FindEvent(receipt, EventCoordinationProposed)
	if err != nil {
		return common.Hash{}, err
	}
	if ev.IntentHash == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("%s event has empty intent hash", EventCoordinationProposed)
	}
	return ev.IntentHash, nil
}
