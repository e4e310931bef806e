package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services/ledger"
)

// Service Event 业务服务接口
type Service interface {
	// GetEvents 查询历史账本事件
	GetEvents(ctx context.Context, filters *EventFilters) ([]*EventInfo, error)

	// SubscribeEvents 订阅实时账本事件（需要 WebSocket 客户端）
	SubscribeEvents(ctx context.Context, filters *EventFilters) (<-chan *EventInfo, error)
}

// eventService Event 服务实现
type eventService struct {
	client client.Client
	ledger common.Address
	logger client.Logger
}

// NewService 创建 Event 服务
func NewService(cli client.Client, ledgerAddr common.Address, logger client.Logger) Service {
	if logger == nil {
		logger = client.NopLogger{}
	}
	return &eventService{
		client: cli,
		ledger: ledgerAddr,
		logger: logger,
	}
}

// EventFilters 事件查询过滤器
type EventFilters struct {
	IntentHash *common.Hash
	EventName  *string
	FromBlock  *uint64
	Limit      int
	Offset     int
}

// EventInfo 事件信息
type EventInfo struct {
	EventName   string
	IntentHash  common.Hash
	TxHash      common.Hash
	BlockHeight uint64
	// Removed 为 true 表示日志因链重组失效
	Removed bool
	Fields  map[string]interface{}
}

func (s *eventService) filter(filters *EventFilters) *client.EventFilter {
	f := &client.EventFilter{
		Kind:      client.SubscribeLogs,
		Addresses: []common.Address{s.ledger},
	}
	if filters == nil {
		return f
	}

	var topic0, topic1 []common.Hash
	if filters.EventName != nil {
		topic0 = []common.Hash{ledger.EventID(*filters.EventName)}
	}
	if filters.IntentHash != nil {
		topic1 = []common.Hash{*filters.IntentHash}
	}
	switch {
	case topic1 != nil:
		f.Topics = [][]common.Hash{topic0, topic1}
	case topic0 != nil:
		f.Topics = [][]common.Hash{topic0}
	}
	return f
}

// GetEvents 获取事件列表
func (s *eventService) GetEvents(ctx context.Context, filters *EventFilters) ([]*EventInfo, error) {
	query := s.filter(filters).LogQuery()
	if filters != nil && filters.FromBlock != nil {
		query["fromBlock"] = hexutil.EncodeUint64(*filters.FromBlock)
	} else {
		query["fromBlock"] = "0x0"
	}

	raw, err := s.client.Call(ctx, "eth_getLogs", query)
	if err != nil {
		return nil, fmt.Errorf("get events failed: %w", err)
	}

	var logs []*ethtypes.Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("decode event array failed: %w", err)
	}

	events := make([]*EventInfo, 0, len(logs))
	for _, l := range logs {
		info, err := s.decode(l)
		if err != nil {
			s.logger.Debug("skipping undecodable log", "tx", l.TxHash.Hex(), "error", err)
			continue
		}
		events = append(events, info)
	}

	if filters != nil {
		events = page(events, filters.Offset, filters.Limit)
	}
	return events, nil
}

// SubscribeEvents 订阅事件
func (s *eventService) SubscribeEvents(ctx context.Context, filters *EventFilters) (<-chan *EventInfo, error) {
	eventChan, err := s.client.Subscribe(ctx, s.filter(filters))
	if err != nil {
		return nil, fmt.Errorf("subscribe events failed: %w", err)
	}

	infoChan := make(chan *EventInfo, 10)
	go func() {
		defer close(infoChan)
		for event := range eventChan {
			var l ethtypes.Log
			if err := json.Unmarshal(event.Data, &l); err != nil {
				s.logger.Warn("invalid log notification", "subscription", event.Subscription, "error", err)
				continue
			}
			info, err := s.decode(&l)
			if err != nil {
				s.logger.Debug("skipping undecodable log", "tx", l.TxHash.Hex(), "error", err)
				continue
			}
			select {
			case infoChan <- info:
			case <-ctx.Done():
				return
			}
		}
	}()

	return infoChan, nil
}

func (s *eventService) decode(l *ethtypes.Log) (*EventInfo, error) {
	if l.Address != s.ledger {
		return nil, fmt.Errorf("log from %s is not a ledger log", l.Address.Hex())
	}
	ev, err := ledger.DecodeLog(l)
	if err != nil {
		return nil, err
	}
	return &EventInfo{
		EventName:   ev.Name,
		IntentHash:  ev.IntentHash,
		TxHash:      ev.TxHash,
		BlockHeight: ev.BlockNumber,
		Removed:     ev.Removed,
		Fields:      ev.Fields,
	}, nil
}

func page(events []*EventInfo, offset, limit int) []*EventInfo {
	if offset > 0 {
		if offset >= len(events) {
			return []*EventInfo{}
		}
		events = events[offset:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}
