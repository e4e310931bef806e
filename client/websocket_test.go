package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer 响应 eth_subscribe 后推送两条日志通知
func wsTestServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			switch req.Method {
			case "eth_chainId":
				_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0x7a69"})
			case "eth_subscribe":
				_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0xsub1"})
				for i := 0; i < 2; i++ {
					_ = conn.WriteJSON(map[string]interface{}{
						"jsonrpc": "2.0",
						"method":  "eth_subscription",
						"params": map[string]interface{}{
							"subscription": "0xsub1",
							"result":       map[string]interface{}{"n": i},
						},
					})
				}
			case "eth_unsubscribe":
				_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})
			default:
				_ = conn.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0", "id": req.ID,
					"error": map[string]interface{}{"code": -32601, "message": "method not found"},
				})
			}
		}
	}))
}

func TestWebSocketClient_CallAndSubscribe(t *testing.T) {
	srv := wsTestServer(t)
	defer srv.Close()

	c, err := NewWebSocketClient(&Config{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"), Protocol: ProtocolWebSocket, Timeout: 5})
	require.NoError(t, err)
	defer c.Close()

	raw, err := c.Call(context.Background(), "eth_chainId")
	require.NoError(t, err)
	assert.JSONEq(t, `"0x7a69"`, string(raw))

	_, err = c.Call(context.Background(), "eth_foo")
	_, isRPC := IsRPCError(err)
	assert.True(t, isRPC)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.Subscribe(ctx, &EventFilter{
		Kind:      SubscribeLogs,
		Addresses: []common.Address{common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			require.NotNil(t, ev)
			assert.Equal(t, "0xsub1", ev.Subscription)
			assert.True(t, strings.Contains(string(ev.Data), `"n"`))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for subscription event")
		}
	}

	cancel()
	select {
	case _, ok := <-events:
		// 可能仍有缓冲事件，最终一定会关闭
		for ok {
			_, ok = <-events
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestEventFilter_LogQuery(t *testing.T) {
	addr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	topic := common.HexToHash("0x01")
	f := &EventFilter{Addresses: []common.Address{addr}, Topics: [][]common.Hash{{topic}, nil}}

	q := f.LogQuery()
	assert.Equal(t, addr, q["address"])
	topics := q["topics"].([]interface{})
	require.Len(t, topics, 2)
	assert.Equal(t, topic, topics[0])
	assert.Nil(t, topics[1])

	params := (&EventFilter{Kind: SubscribeNewHeads}).params()
	assert.Equal(t, []interface{}{"newHeads"}, params)
}
