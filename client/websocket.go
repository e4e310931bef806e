package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// websocketClient WebSocket 客户端实现
type websocketClient struct {
	endpoint string
	conn     *websocket.Conn
	logger   Logger
	timeout  time.Duration
	mu       sync.Mutex // 保护写操作（gorilla 只允许单个并发写）
	closed   atomic.Bool
	nextID   atomic.Uint64
	requests map[uint64]chan *wsMessage
	muReq    sync.Mutex
	subs     map[string]chan *Event
	early    map[string][]*Event // 订阅 ID 返回前已到达的推送
	muSub    sync.Mutex
}

const (
	subscriptionBuffer = 100
	earlyEventLimit    = 16
)

// wsMessage 同时覆盖调用响应与订阅推送
type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *wsSubParams    `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type wsSubParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// NewWebSocketClient 创建 WebSocket 客户端
func NewWebSocketClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	endpoint := config.Endpoint
	// 将 http:// 或 https:// 转换为 ws:// 或 wss://
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://"):
		endpoint = "ws://" + endpoint
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, NewNetworkError(fmt.Errorf("dial websocket: %w", err))
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &websocketClient{
		endpoint: endpoint,
		conn:     conn,
		logger:   config.logger(),
		timeout:  timeout,
		requests: make(map[uint64]chan *wsMessage),
		subs:     make(map[string]chan *Event),
		early:    make(map[string][]*Event),
	}

	// 启动消息读取循环
	go client.readLoop()

	return client, nil
}

// readLoop 消息读取循环
func (c *websocketClient) readLoop() {
	defer c.shutdown()

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.closed.Load() {
				c.logger.Warn("websocket read failed", "endpoint", c.endpoint, "error", err)
			}
			return
		}

		// 订阅推送
		if msg.Method == "eth_subscription" && msg.Params != nil {
			c.dispatch(msg.Params)
			continue
		}

		if msg.ID == nil {
			continue
		}

		c.muReq.Lock()
		ch, exists := c.requests[*msg.ID]
		if exists {
			delete(c.requests, *msg.ID)
		}
		c.muReq.Unlock()

		if exists {
			ch <- &msg
		}
	}
}

// dispatch 投递订阅消息，消费者跟不上时丢弃
func (c *websocketClient) dispatch(params *wsSubParams) {
	c.muSub.Lock()
	defer c.muSub.Unlock()

	ev := &Event{Subscription: params.Subscription, Data: params.Result}
	ch, ok := c.subs[params.Subscription]
	if !ok {
		if pending := c.early[params.Subscription]; len(pending) < earlyEventLimit {
			c.early[params.Subscription] = append(pending, ev)
		}
		return
	}
	select {
	case ch <- ev:
	default:
		c.logger.Warn("subscription buffer full, dropping event", "subscription", params.Subscription)
	}
}

// shutdown 连接断开后关闭所有等待中的请求与订阅
func (c *websocketClient) shutdown() {
	c.closed.Store(true)

	c.muReq.Lock()
	for id, ch := range c.requests {
		close(ch)
		delete(c.requests, id)
	}
	c.muReq.Unlock()

	c.muSub.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	clear(c.early)
	c.muSub.Unlock()
}

// Call 调用 JSON-RPC 方法
func (c *websocketClient) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, NewNetworkError(fmt.Errorf("websocket client is closed"))
	}

	reqID := c.nextID.Add(1)
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  normalizeParams(params),
		ID:      reqID,
	}

	respCh := make(chan *wsMessage, 1)
	c.muReq.Lock()
	c.requests[reqID] = respCh
	c.muReq.Unlock()

	c.mu.Lock()
	err := c.conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		c.forget(reqID)
		return nil, NewNetworkError(fmt.Errorf("write request: %w", err))
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok || resp == nil {
			return nil, NewNetworkError(fmt.Errorf("connection closed"))
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil

	case <-ctx.Done():
		c.forget(reqID)
		return nil, ctx.Err()

	case <-timer.C:
		c.forget(reqID)
		return nil, NewTimeoutError()
	}
}

func (c *websocketClient) forget(reqID uint64) {
	c.muReq.Lock()
	delete(c.requests, reqID)
	c.muReq.Unlock()
}

// SendRawTransaction 发送已签名的原始交易
func (c *websocketClient) SendRawTransaction(ctx context.Context, signedTxHex string) (*SendTxResult, error) {
	return sendRawTransaction(ctx, c, signedTxHex)
}

// Subscribe 订阅事件
//
// ctx 结束时自动 eth_unsubscribe 并关闭返回的通道
func (c *websocketClient) Subscribe(ctx context.Context, filter *EventFilter) (<-chan *Event, error) {
	if filter == nil {
		filter = &EventFilter{Kind: SubscribeLogs}
	}

	raw, err := c.Call(ctx, "eth_subscribe", filter.params()...)
	if err != nil {
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	var subscriptionID string
	if err := json.Unmarshal(raw, &subscriptionID); err != nil || subscriptionID == "" {
		return nil, NewInvalidResponseError("missing subscription ID")
	}

	eventCh := make(chan *Event, subscriptionBuffer)
	c.muSub.Lock()
	if c.closed.Load() {
		c.muSub.Unlock()
		return nil, NewNetworkError(fmt.Errorf("websocket client is closed"))
	}
	for _, ev := range c.early[subscriptionID] {
		eventCh <- ev
	}
	delete(c.early, subscriptionID)
	c.subs[subscriptionID] = eventCh
	c.muSub.Unlock()

	go func() {
		<-ctx.Done()

		c.muSub.Lock()
		ch, ok := c.subs[subscriptionID]
		if ok {
			delete(c.subs, subscriptionID)
			close(ch)
		}
		c.muSub.Unlock()

		if ok && !c.closed.Load() {
			unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := c.Call(unsubCtx, "eth_unsubscribe", subscriptionID); err != nil {
				c.logger.Debug("eth_unsubscribe failed", "subscription", subscriptionID, "error", err)
			}
		}
	}()

	return eventCh, nil
}

// Close 关闭连接
func (c *websocketClient) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return c.conn.Close()
	}
	return nil
}
