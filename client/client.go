package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Client 账本节点客户端接口（以太坊 JSON-RPC）
type Client interface {
	// Call 调用 JSON-RPC 方法，返回原始 result
	Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)

	// SendRawTransaction 发送已签名的原始交易（不重试）
	SendRawTransaction(ctx context.Context, signedTxHex string) (*SendTxResult, error)

	// Subscribe 订阅事件（仅 WebSocket 支持）
	Subscribe(ctx context.Context, filter *EventFilter) (<-chan *Event, error)

	// Close 关闭连接
	Close() error
}

// SubscriptionKind eth_subscribe 订阅类型
type SubscriptionKind string

const (
	SubscribeLogs     SubscriptionKind = "logs"
	SubscribeNewHeads SubscriptionKind = "newHeads"
)

// EventFilter 事件过滤器
type EventFilter struct {
	Kind      SubscriptionKind
	Addresses []common.Address
	// Topics 按位置匹配，nil 表示通配
	Topics [][]common.Hash
}

// params 转换为 eth_subscribe / eth_getLogs 参数
func (f *EventFilter) params() []interface{} {
	kind := f.Kind
	if kind == "" {
		kind = SubscribeLogs
	}
	if kind != SubscribeLogs {
		return []interface{}{string(kind)}
	}
	return []interface{}{string(kind), f.LogQuery()}
}

// LogQuery 构建日志过滤对象
func (f *EventFilter) LogQuery() map[string]interface{} {
	query := map[string]interface{}{}
	if len(f.Addresses) == 1 {
		query["address"] = f.Addresses[0]
	} else if len(f.Addresses) > 1 {
		query["address"] = f.Addresses
	}
	if len(f.Topics) > 0 {
		topics := make([]interface{}, len(f.Topics))
		for i, group := range f.Topics {
			switch len(group) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = group[0]
			default:
				topics[i] = group
			}
		}
		query["topics"] = topics
	}
	return query
}

// Event 订阅推送
type Event struct {
	Subscription string
	Data         json.RawMessage
}

// SendTxResult 交易提交结果
type SendTxResult struct {
	TxHash   string `json:"tx_hash"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"` // 拒绝原因
	Err      error  `json:"-"`
}

// NewClient 创建新的客户端
func NewClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Protocol {
	case ProtocolHTTP:
		return NewHTTPClient(config)
	case ProtocolWebSocket:
		return NewWebSocketClient(config)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", config.Protocol)
	}
}

// sendRawTransaction 两种传输共用的 eth_sendRawTransaction 实现
func sendRawTransaction(ctx context.Context, c Client, signedTxHex string) (*SendTxResult, error) {
	raw, err := c.Call(ctx, "eth_sendRawTransaction", signedTxHex)
	if err != nil {
		// 节点拒绝（nonce 过低、余额不足等）属于业务结果，网络错误直接返回
		if rpcErr, ok := IsRPCError(err); ok {
			reason, _ := RevertReason(rpcErr)
			if reason == "" {
				reason = rpcErr.Message
			}
			return &SendTxResult{Accepted: false, Reason: reason, Err: err}, nil
		}
		return nil, err
	}

	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return &SendTxResult{Accepted: false, Reason: "invalid response format"}, nil
	}

	return &SendTxResult{TxHash: txHash, Accepted: true}, nil
}

func normalizeParams(params []interface{}) []interface{} {
	if params == nil {
		return []interface{}{}
	}
	return params
}
