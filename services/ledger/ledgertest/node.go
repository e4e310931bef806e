// Package ledgertest 提供内存中的账本节点，用于在测试中模拟 RockPaperScissorsERC8001 合约
package ledgertest

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/services/ledger"
)

// RevealWindow 双方承诺后的揭示期限
const RevealWindow = 10 * time.Minute

// Node 模拟账本节点
type Node struct {
	Server *httptest.Server

	// ChainID 节点链 ID
	ChainID *big.Int
	// Ledger 账本合约地址
	Ledger common.Address
	// CoordinationType 协议类型标签
	CoordinationType common.Hash
	// DomainSeparator 合约报告的域分隔符
	DomainSeparator common.Hash
	// Now 区块时间
	Now func() time.Time

	mu          sync.Mutex
	st          *state
	block       uint64
	txNonces    map[common.Address]uint64
	receipts    map[common.Hash]*ledger.Receipt
	txs         map[common.Hash]*ethtypes.Transaction
	logs        []*ethtypes.Log
	calls       map[string]int
	rejectSend  map[string]string
	revertChain map[string]string
	holdMined   bool
	failReads   bool
}

type state struct {
	games       map[common.Hash]*game.RawGame
	commitments map[common.Hash][2]common.Hash
	playerGames map[common.Address][]common.Hash
	agentNonces map[common.Address]uint64
}

func (s *state) clone() *state {
	out := &state{
		games:       make(map[common.Hash]*game.RawGame, len(s.games)),
		commitments: make(map[common.Hash][2]common.Hash, len(s.commitments)),
		playerGames: make(map[common.Address][]common.Hash, len(s.playerGames)),
		agentNonces: make(map[common.Address]uint64, len(s.agentNonces)),
	}
	for k, g := range s.games {
		cp := *g
		cp.Wager = new(big.Int).Set(g.Wager)
		out.games[k] = &cp
	}
	for k, v := range s.commitments {
		out.commitments[k] = v
	}
	for k, v := range s.playerGames {
		out.playerGames[k] = append([]common.Hash(nil), v...)
	}
	for k, v := range s.agentNonces {
		out.agentNonces[k] = v
	}
	return out
}

// NewNode 启动模拟节点
func NewNode(chainID int64, ledgerAddr common.Address) *Node {
	n := &Node{
		ChainID:          big.NewInt(chainID),
		Ledger:           ledgerAddr,
		CoordinationType: crypto.Keccak256Hash([]byte("RPS_GAME")),
		Now:              time.Now,
		st: &state{
			games:       make(map[common.Hash]*game.RawGame),
			commitments: make(map[common.Hash][2]common.Hash),
			playerGames: make(map[common.Address][]common.Hash),
			agentNonces: make(map[common.Address]uint64),
		},
		block:       1,
		txNonces:    make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*ledger.Receipt),
		txs:         make(map[common.Hash]*ethtypes.Transaction),
		calls:       make(map[string]int),
		rejectSend:  make(map[string]string),
		revertChain: make(map[string]string),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// URL 节点 HTTP 地址
func (n *Node) URL() string {
	return n.Server.URL
}

// Close 关闭节点
func (n *Node) Close() {
	n.Server.Close()
}

// SetDomainSeparator 设置合约报告的域分隔符
func (n *Node) SetDomainSeparator(h common.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.DomainSeparator = h
}

// SetAgentNonce 设置代理 nonce
func (n *Node) SetAgentNonce(agent common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.st.agentNonces[agent] = nonce
}

// RejectSend 节点拒绝 method 交易（eth_sendRawTransaction 返回错误）
func (n *Node) RejectSend(method, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectSend[method] = reason
}

// RevertOnChain method 交易上链后执行失败
func (n *Node) RevertOnChain(method, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revertChain[method] = reason
}

// HoldReceipts 为 true 时交易不出块
func (n *Node) HoldReceipts(hold bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.holdMined = hold
}

// FailReads 为 true 时 eth_call 返回错误
func (n *Node) FailReads(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failReads = fail
}

// Calls 方法调用次数（JSON-RPC 方法名或合约方法名）
func (n *Node) Calls(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[name]
}

// Game 读取游戏快照
func (n *Node) Game(intentHash common.Hash) (game.RawGame, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.st.games[intentHash]
	if !ok {
		return game.RawGame{}, false
	}
	cp := *g
	cp.Wager = new(big.Int).Set(g.Wager)
	return cp, true
}

// SetGame 直接写入游戏状态
func (n *Node) SetGame(intentHash common.Hash, g game.RawGame) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if g.Wager == nil {
		g.Wager = new(big.Int)
	}
	n.st.games[intentHash] = &g
	if !containsHash(n.st.playerGames[g.Player1], intentHash) {
		n.st.playerGames[g.Player1] = append(n.st.playerGames[g.Player1], intentHash)
	}
	if !containsHash(n.st.playerGames[g.Player2], intentHash) {
		n.st.playerGames[g.Player2] = append(n.st.playerGames[g.Player2], intentHash)
	}
}

// Logs 已产生的全部日志
func (n *Node) Logs() []*ethtypes.Log {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*ethtypes.Log(nil), n.logs...)
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	result, rpcErr := n.dispatch(req.Method, req.Params)
	n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *Node) dispatch(method string, params []json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "eth_chainId":
		return (*hexutil.Big)(n.ChainID), nil
	case "eth_blockNumber":
		return hexutil.Uint64(n.block), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(big.NewInt(1_000_000_000)), nil
	case "eth_getBalance":
		return (*hexutil.Big)(new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))), nil
	case "eth_getTransactionCount":
		var addr common.Address
		if err := decodeParam(params, 0, &addr); err != nil {
			return nil, err
		}
		return hexutil.Uint64(n.txNonces[addr]), nil
	case "eth_call":
		return n.ethCall(params)
	case "eth_estimateGas":
		return n.estimateGas(params)
	case "eth_sendRawTransaction":
		return n.sendRawTransaction(params)
	case "eth_getTransactionReceipt":
		var h common.Hash
		if err := decodeParam(params, 0, &h); err != nil {
			return nil, err
		}
		if rc, ok := n.receipts[h]; ok {
			return rc, nil
		}
		return nil, nil
	case "eth_getTransactionByHash":
		var h common.Hash
		if err := decodeParam(params, 0, &h); err != nil {
			return nil, err
		}
		return n.txByHash(h), nil
	case "eth_getLogs":
		return n.getLogs(params)
	}
	return nil, &rpcError{Code: -32601, Message: "the method " + method + " does not exist/is not available"}
}

type callArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Data  hexutil.Bytes  `json:"data"`
	Input hexutil.Bytes  `json:"input"`
}

func (c *callArgs) payload() []byte {
	if len(c.Data) > 0 {
		return c.Data
	}
	return c.Input
}

func (c *callArgs) value() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value.ToInt()
}

func (n *Node) ethCall(params []json.RawMessage) (interface{}, *rpcError) {
	var args callArgs
	if err := decodeParam(params, 0, &args); err != nil {
		return nil, err
	}
	if args.To != n.Ledger {
		return hexutil.Bytes{}, nil
	}
	m, inputs, rpcErr := unpackCall(args.payload())
	if rpcErr != nil {
		return nil, rpcErr
	}
	n.calls[m.Name]++

	if !m.IsConstant() {
		// 重放写方法：链上强制回滚优先，其次按当前状态试执行
		if reason, ok := n.revertChain[m.Name]; ok {
			return nil, revertError(reason)
		}
		if _, reason := n.apply(n.st.clone(), args.From, m.Name, inputs, args.value(), common.Hash{}); reason != "" {
			return nil, revertError(reason)
		}
		return hexutil.Bytes{}, nil
	}

	if n.failReads {
		return nil, &rpcError{Code: -32000, Message: "header not found"}
	}

	out, err := n.view(m, inputs)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return hexutil.Bytes(out), nil
}

func (n *Node) view(m *abi.Method, inputs []interface{}) ([]byte, error) {
	switch m.Name {
	case ledger.MethodGetGame:
		g := n.gameOrZero(hashArg(inputs[0]))
		return m.Outputs.Pack(g.Player1, g.Player2, g.Wager, g.Expiry, g.RevealDeadline, g.Status,
			g.Player1Committed, g.Player2Committed, g.Player1Move, g.Player2Move, g.Result)
	case ledger.MethodGames:
		id := hashArg(inputs[0])
		g := n.gameOrZero(id)
		c := n.st.commitments[id]
		return m.Outputs.Pack(g.Player1, g.Player2, g.Wager, g.Expiry, g.RevealDeadline, g.Status,
			[32]byte(c[0]), [32]byte(c[1]), g.Player1Move, g.Player2Move, g.Result)
	case ledger.MethodGetPlayerGames:
		ids := n.st.playerGames[inputs[0].(common.Address)]
		out := make([][32]byte, len(ids))
		for i, id := range ids {
			out[i] = id
		}
		return m.Outputs.Pack(out)
	case ledger.MethodGetCoordinationStatus:
		return m.Outputs.Pack(n.gameOrZero(hashArg(inputs[0])).Status)
	case ledger.MethodAgentNonces:
		return m.Outputs.Pack(n.st.agentNonces[inputs[0].(common.Address)])
	case ledger.MethodDomainSeparator:
		return m.Outputs.Pack([32]byte(n.DomainSeparator))
	case ledger.MethodCoordinationType:
		return m.Outputs.Pack([32]byte(n.CoordinationType))
	}
	return nil, fmt.Errorf("unsupported view %s", m.Name)
}

func (n *Node) gameOrZero(id common.Hash) game.RawGame {
	if g, ok := n.st.games[id]; ok {
		return *g
	}
	return game.RawGame{Wager: new(big.Int)}
}

func (n *Node) estimateGas(params []json.RawMessage) (interface{}, *rpcError) {
	var args callArgs
	if err := decodeParam(params, 0, &args); err != nil {
		return nil, err
	}
	m, inputs, rpcErr := unpackCall(args.payload())
	if rpcErr != nil {
		return nil, rpcErr
	}
	if _, reason := n.apply(n.st.clone(), args.From, m.Name, inputs, args.value(), common.Hash{}); reason != "" {
		return nil, revertError(reason)
	}
	return hexutil.Uint64(150_000), nil
}

func (n *Node) sendRawTransaction(params []json.RawMessage) (interface{}, *rpcError) {
	var raw hexutil.Bytes
	if err := decodeParam(params, 0, &raw); err != nil {
		return nil, err
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &rpcError{Code: -32000, Message: "rlp: " + err.Error()}
	}
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(n.ChainID), tx)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: "invalid sender: " + err.Error()}
	}
	if tx.Nonce() != n.txNonces[from] {
		return nil, &rpcError{Code: -32000, Message: fmt.Sprintf("nonce too low: next nonce %d, tx nonce %d", n.txNonces[from], tx.Nonce())}
	}
	m, inputs, rpcErr := unpackCall(tx.Data())
	if rpcErr != nil {
		return nil, rpcErr
	}
	n.calls[m.Name]++
	if reason, ok := n.rejectSend[m.Name]; ok {
		return nil, &rpcError{Code: -32000, Message: reason}
	}

	n.txNonces[from]++
	n.txs[tx.Hash()] = tx
	if n.holdMined {
		return tx.Hash(), nil
	}

	n.block++
	receipt := &ledger.Receipt{
		TxHash:      tx.Hash(),
		BlockNumber: hexutil.Uint64(n.block),
		GasUsed:     hexutil.Uint64(100_000),
	}
	if _, forced := n.revertChain[m.Name]; forced {
		receipt.Status = hexutil.Uint64(ethtypes.ReceiptStatusFailed)
	} else {
		next := n.st.clone()
		logs, reason := n.apply(next, from, m.Name, inputs, tx.Value(), tx.Hash())
		if reason != "" {
			receipt.Status = hexutil.Uint64(ethtypes.ReceiptStatusFailed)
		} else {
			n.st = next
			receipt.Status = hexutil.Uint64(ethtypes.ReceiptStatusSuccessful)
			for i, l := range logs {
				l.Address = n.Ledger
				l.BlockNumber = n.block
				l.TxHash = tx.Hash()
				l.Index = uint(len(n.logs) + i)
			}
			n.logs = append(n.logs, logs...)
			receipt.Logs = logs
		}
	}
	if receipt.Logs == nil {
		receipt.Logs = []*ethtypes.Log{}
	}
	n.receipts[tx.Hash()] = receipt
	return tx.Hash(), nil
}

func (n *Node) txByHash(h common.Hash) interface{} {
	tx, ok := n.txs[h]
	if !ok {
		return nil
	}
	from, _ := ethtypes.Sender(ethtypes.LatestSignerForChainID(n.ChainID), tx)
	return map[string]interface{}{
		"hash":  h,
		"from":  from,
		"to":    tx.To(),
		"value": (*hexutil.Big)(tx.Value()),
		"input": hexutil.Bytes(tx.Data()),
		"nonce": hexutil.Uint64(tx.Nonce()),
	}
}

func (n *Node) getLogs(params []json.RawMessage) (interface{}, *rpcError) {
	var q struct {
		FromBlock *hexutil.Uint64 `json:"fromBlock"`
		Topics    []json.RawMessage
	}
	if err := decodeParam(params, 0, &q); err != nil {
		return nil, err
	}

	var topic0 *common.Hash
	if len(q.Topics) > 0 && string(q.Topics[0]) != "null" {
		var h common.Hash
		if err := json.Unmarshal(q.Topics[0], &h); err == nil {
			topic0 = &h
		}
	}
	var topic1 *common.Hash
	if len(q.Topics) > 1 && string(q.Topics[1]) != "null" {
		var h common.Hash
		if err := json.Unmarshal(q.Topics[1], &h); err == nil {
			topic1 = &h
		}
	}

	out := []*ethtypes.Log{}
	for _, l := range n.logs {
		if q.FromBlock != nil && l.BlockNumber < uint64(*q.FromBlock) {
			continue
		}
		if topic0 != nil && l.Topics[0] != *topic0 {
			continue
		}
		if topic1 != nil && (len(l.Topics) < 2 || l.Topics[1] != *topic1) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// apply 在 st 上执行合约写方法，返回日志或回滚原因
func (n *Node) apply(st *state, from common.Address, method string, inputs []interface{}, value *big.Int, txHash common.Hash) ([]*ethtypes.Log, string) {
	now := uint64(n.Now().Unix())

	switch method {
	case ledger.MethodProposeCoordination:
		intent := inputs[0]
		agent := field(intent, "AgentId").(common.Address)
		nonce := field(intent, "Nonce").(uint64)
		wager := field(intent, "CoordinationValue").(*big.Int)
		participants := field(intent, "Participants").([]common.Address)
		expiry := field(intent, "Expiry").(uint64)

		switch {
		case agent != from:
			return nil, "Agent mismatch"
		case nonce != st.agentNonces[agent]+1:
			return nil, "Invalid nonce"
		case [32]byte(n.CoordinationType) != field(intent, "CoordinationType").([32]byte):
			return nil, "Invalid coordination type"
		case len(participants) != 2 || participants[0] == participants[1]:
			return nil, "Invalid participants"
		case participants[0] != agent && participants[1] != agent:
			return nil, "Proposer not a participant"
		case strings.ToLower(participants[0].Hex()) > strings.ToLower(participants[1].Hex()):
			return nil, "Participants not sorted"
		case value.Cmp(wager) != 0:
			return nil, "Incorrect wager"
		case expiry <= now:
			return nil, "Intent expired"
		}
		opponent := participants[0]
		if opponent == agent {
			opponent = participants[1]
		}

		st.agentNonces[agent] = nonce
		id := crypto.Keccak256Hash(agent.Bytes(), common.BigToHash(new(big.Int).SetUint64(nonce)).Bytes())
		st.games[id] = &game.RawGame{
			Player1: agent,
			Player2: opponent,
			Wager:   new(big.Int).Set(wager),
			Expiry:  expiry,
			Status:  uint8(game.PhaseProposed),
		}
		st.playerGames[agent] = append(st.playerGames[agent], id)
		st.playerGames[opponent] = append(st.playerGames[opponent], id)
		return []*ethtypes.Log{makeLog(ledger.EventCoordinationProposed,
			[]common.Hash{id, common.BytesToHash(agent.Bytes()), common.BytesToHash(opponent.Bytes())},
			wager, expiry)}, ""

	case ledger.MethodAcceptCoordination:
		att := inputs[0]
		id := common.Hash(field(att, "IntentHash").([32]byte))
		participant := field(att, "Participant").(common.Address)
		conditions := common.Hash(field(att, "ConditionsHash").([32]byte))
		g, ok := st.games[id]
		switch {
		case !ok:
			return nil, "Game not found"
		case participant != from:
			return nil, "Participant mismatch"
		case g.Status != uint8(game.PhaseProposed):
			return nil, "Game not accepting"
		case field(att, "Nonce").(uint64) != 1:
			return nil, "Invalid acceptance nonce"
		case field(att, "Expiry").(uint64) <= now:
			return nil, "Acceptance expired"
		}
		c := st.commitments[id]
		switch from {
		case g.Player1:
			if g.Player1Committed {
				return nil, "Already committed"
			}
			if value.Sign() != 0 {
				return nil, "Incorrect wager"
			}
			g.Player1Committed = true
			c[0] = conditions
		case g.Player2:
			if g.Player2Committed {
				return nil, "Already committed"
			}
			if value.Cmp(g.Wager) != 0 {
				return nil, "Incorrect wager"
			}
			g.Player2Committed = true
			c[1] = conditions
		default:
			return nil, "Not a participant"
		}
		st.commitments[id] = c
		if g.Player1Committed && g.Player2Committed {
			g.Status = uint8(game.PhaseBothCommitted)
			g.RevealDeadline = now + uint64(RevealWindow/time.Second)
		}
		return []*ethtypes.Log{makeLog(ledger.EventCoordinationAccepted,
			[]common.Hash{id, common.BytesToHash(from.Bytes())}, [32]byte(conditions))}, ""

	case ledger.MethodRevealMove:
		id := hashArg(inputs[0])
		move := inputs[1].(uint8)
		salt := inputs[2].([32]byte)
		g, ok := st.games[id]
		if !ok {
			return nil, "Game not found"
		}
		if g.Status != uint8(game.PhaseBothCommitted) && g.Status != uint8(game.PhaseRevealed) {
			return nil, "Not in reveal phase"
		}
		if now > g.RevealDeadline {
			return nil, "Reveal deadline passed"
		}
		if move < 1 || move > 3 {
			return nil, "Invalid move"
		}
		digest := crypto.Keccak256Hash([]byte{move}, salt[:])
		c := st.commitments[id]
		switch from {
		case g.Player1:
			if g.Player1Move != 0 {
				return nil, "Already revealed"
			}
			if digest != c[0] {
				return nil, "Invalid reveal"
			}
			g.Player1Move = move
		case g.Player2:
			if g.Player2Move != 0 {
				return nil, "Already revealed"
			}
			if digest != c[1] {
				return nil, "Invalid reveal"
			}
			g.Player2Move = move
		default:
			return nil, "Not a participant"
		}
		logs := []*ethtypes.Log{makeLog(ledger.EventMoveRevealed,
			[]common.Hash{id, common.BytesToHash(from.Bytes())}, move)}
		// 单方揭示后仍处于 BothCommitted，另一方才能继续揭示
		if g.Player1Move != 0 && g.Player2Move != 0 {
			g.Status = uint8(game.PhaseCompleted)
			g.Result = judge(g.Player1Move, g.Player2Move)
			winner := common.Address{}
			switch game.Result(g.Result) {
			case game.ResultPlayer1Wins:
				winner = g.Player1
			case game.ResultPlayer2Wins:
				winner = g.Player2
			}
			logs = append(logs, makeLog(ledger.EventCoordinationExecuted, []common.Hash{id}, g.Result, winner))
		}
		return logs, ""

	case ledger.MethodCancelCoordination:
		id := hashArg(inputs[0])
		g, ok := st.games[id]
		switch {
		case !ok:
			return nil, "Game not found"
		case from != g.Player1:
			return nil, "Only proposer"
		case g.Status != uint8(game.PhaseProposed):
			return nil, "Cannot cancel"
		}
		g.Status = uint8(game.PhaseCancelled)
		return []*ethtypes.Log{makeLog(ledger.EventCoordinationCancelled, []common.Hash{id}, from)}, ""
	}
	return nil, "unsupported method " + method
}

// judge 1 石头 2 布 3 剪刀
func judge(p1, p2 uint8) uint8 {
	switch {
	case p1 == p2:
		return uint8(game.ResultDraw)
	case (p1 == 1 && p2 == 3) || (p1 == 2 && p2 == 1) || (p1 == 3 && p2 == 2):
		return uint8(game.ResultPlayer1Wins)
	}
	return uint8(game.ResultPlayer2Wins)
}

func makeLog(event string, indexed []common.Hash, data ...interface{}) *ethtypes.Log {
	ev := ledger.ABI().Events[event]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(fmt.Sprintf("ledgertest: pack %s: %v", event, err))
	}
	return &ethtypes.Log{
		Topics: append([]common.Hash{ev.ID}, indexed...),
		Data:   packed,
	}
}

func unpackCall(data []byte) (*abi.Method, []interface{}, *rpcError) {
	if len(data) < 4 {
		return nil, nil, &rpcError{Code: -32000, Message: "execution reverted"}
	}
	parsed := ledger.ABI()
	m, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, &rpcError{Code: -32000, Message: "execution reverted: unknown selector"}
	}
	inputs, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, &rpcError{Code: -32000, Message: "execution reverted: bad calldata"}
	}
	return m, inputs, nil
}

func revertError(reason string) *rpcError {
	strTy, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: strTy}}.Pack(reason)
	return &rpcError{
		Code:    3,
		Message: "execution reverted: " + reason,
		Data:    hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)),
	}
}

func decodeParam(params []json.RawMessage, i int, v interface{}) *rpcError {
	if len(params) <= i {
		return &rpcError{Code: -32602, Message: fmt.Sprintf("missing value for required argument %d", i)}
	}
	if err := json.Unmarshal(params[i], v); err != nil {
		return &rpcError{Code: -32602, Message: "invalid argument: " + err.Error()}
	}
	return nil
}

func hashArg(v interface{}) common.Hash {
	return common.Hash(v.([32]byte))
}

// field 读取 abi 解码出的匿名结构体字段
func field(v interface{}, name string) interface{} {
	return reflect.ValueOf(v).FieldByName(name).Interface()
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
