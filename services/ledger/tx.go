package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/wallet"
)

// IntentArgs proposeCoordination 的意图元组
type IntentArgs struct {
	PayloadHash       [32]byte         `abi:"payloadHash"`
	Expiry            uint64           `abi:"expiry"`
	Nonce             uint64           `abi:"nonce"`
	AgentID           common.Address   `abi:"agentId"`
	CoordinationType  [32]byte         `abi:"coordinationType"`
	CoordinationValue *big.Int         `abi:"coordinationValue"`
	Participants      []common.Address `abi:"participants"`
}

// AcceptanceArgs acceptCoordination 的接受证明元组（含签名）
type AcceptanceArgs struct {
	IntentHash     [32]byte       `abi:"intentHash"`
	Participant    common.Address `abi:"participant"`
	Nonce          uint64         `abi:"nonce"`
	Expiry         uint64         `abi:"expiry"`
	ConditionsHash [32]byte       `abi:"conditionsHash"`
	Signature      []byte         `abi:"signature"`
}

// TxHandle 已提交交易
type TxHandle struct {
	Hash   common.Hash
	From   common.Address
	Nonce  uint64
	Method string
}

// gasHeadroom estimateGas 结果上浮比例（百分比）
const gasHeadroom = 120

// ProposeCoordination 提交意图，value 为赌注
func (s *Service) ProposeCoordination(ctx context.Context, w wallet.Wallet, intent IntentArgs, signature []byte, value *big.Int) (*TxHandle, error) {
	return s.transact(ctx, w, value, MethodProposeCoordination, intent, signature)
}

// AcceptCoordination 提交接受证明；player2 需附带赌注，player1 为 0
func (s *Service) AcceptCoordination(ctx context.Context, w wallet.Wallet, attestation AcceptanceArgs, value *big.Int) (*TxHandle, error) {
	return s.transact(ctx, w, value, MethodAcceptCoordination, attestation)
}

// RevealMove 揭示出拳
func (s *Service) RevealMove(ctx context.Context, w wallet.Wallet, intentHash common.Hash, move uint8, salt [32]byte) (*TxHandle, error) {
	return s.transact(ctx, w, nil, MethodRevealMove, intentHash, move, salt)
}

// CancelCoordination 取消意图
func (s *Service) CancelCoordination(ctx context.Context, w wallet.Wallet, intentHash common.Hash) (*TxHandle, error) {
	return s.transact(ctx, w, nil, MethodCancelCoordination, intentHash)
}

// transact 构建、签名并发送交易（只发送一次，不重试）
//
// 流程: pack → nonce → gasPrice → estimateGas → 钱包签名 → eth_sendRawTransaction
func (s *Service) transact(ctx context.Context, w wallet.Wallet, value *big.Int, method string, args ...interface{}) (*TxHandle, error) {
	if w == nil {
		return nil, types.Signing(types.ErrSignerUnavailable, "no wallet for "+method)
	}
	if value == nil {
		value = new(big.Int)
	}

	data, err := s.abi.Pack(method, args...)
	if err != nil {
		return nil, types.Validation(err, "pack "+method)
	}

	from := w.Address()
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return nil, types.Submission(types.ErrTxRejected, err.Error())
	}

	nonce, err := s.pendingNonce(ctx, from)
	if err != nil {
		return nil, types.Submission(types.ErrTxRejected, err.Error())
	}

	gasPrice, err := s.gasPrice(ctx)
	if err != nil {
		return nil, types.Submission(types.ErrTxRejected, err.Error())
	}

	msg := callMsg{From: &from, To: s.address, Value: (*hexutil.Big)(value), Data: data}
	gas, err := s.estimateGas(ctx, msg)
	if err != nil {
		// 预执行回滚：交易不会被发送
		reason := revertReason(err)
		s.logger.Warn("transaction would revert", "method", method, "reason", reason)
		return nil, types.Submission(types.ErrTxRejected, reason)
	}

	to := s.address
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas * gasHeadroom / 100,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := w.SignTransaction(ctx, tx, chainID)
	if err != nil {
		return nil, signingError(err, method)
	}

	rawTx, err := signed.MarshalBinary()
	if err != nil {
		return nil, types.Submission(types.ErrTxRejected, fmt.Sprintf("encode transaction: %v", err))
	}

	result, err := s.client.SendRawTransaction(ctx, hexutil.Encode(rawTx))
	if err != nil {
		// 网络错误时无法确定节点是否已收到交易
		return nil, types.NewError(types.KindSubmission, types.ErrTxPending,
			fmt.Sprintf("send %s: %v (tx %s)", method, err, signed.Hash().Hex()))
	}
	if !result.Accepted {
		return nil, types.Submission(types.ErrTxRejected, result.Reason)
	}

	handle := &TxHandle{Hash: signed.Hash(), From: from, Nonce: nonce, Method: method}
	s.logger.Info("transaction submitted", "method", method, "tx", handle.Hash.Hex(), "nonce", nonce)
	return handle, nil
}

func signingError(err error, method string) error {
	if errors.Is(err, types.ErrUserRejected) {
		return types.Signing(types.ErrUserRejected, method)
	}
	if _, ok := types.IsEngineError(err); ok {
		return err
	}
	return types.Signing(fmt.Errorf("%w: %v", types.ErrSignerUnavailable, err), method)
}

// revertReason 优先使用回滚原因，否则使用原始错误信息
func revertReason(err error) string {
	if reason, ok := client.RevertReason(err); ok {
		return reason
	}
	if rpcErr, ok := client.IsRPCError(err); ok {
		return rpcErr.Message
	}
	return err.Error()
}

func (s *Service) pendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	raw, err := s.client.Call(ctx, "eth_getTransactionCount", account, "pending")
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	var n hexutil.Uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return uint64(n), nil
}

func (s *Service) gasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := s.client.Call(ctx, "eth_gasPrice")
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	var p hexutil.Big
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode gas price: %w", err)
	}
	return p.ToInt(), nil
}

func (s *Service) estimateGas(ctx context.Context, msg callMsg) (uint64, error) {
	raw, err := s.client.Call(ctx, "eth_estimateGas", msg)
	if err != nil {
		return 0, err
	}
	var g hexutil.Uint64
	if err := json.Unmarshal(raw, &g); err != nil {
		return 0, fmt.Errorf("decode gas estimate: %w", err)
	}
	return uint64(g), nil
}

// Receipt 交易回执
type Receipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	Status      hexutil.Uint64  `json:"status"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	Logs        []*ethtypes.Log `json:"logs"`
}

// Succeeded 交易是否执行成功
func (r *Receipt) Succeeded() bool {
	return r.Status == hexutil.Uint64(ethtypes.ReceiptStatusSuccessful)
}

// WaitForReceipt 轮询交易回执直到确认
//
// 超时返回 ErrTxPending（交易可能仍会上链），执行失败返回 ErrTxReverted
func (s *Service) WaitForReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.config.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.getReceipt(ctx, txHash)
		switch {
		case err != nil:
			s.logger.Debug("receipt not available", "tx", txHash.Hex(), "error", err)
		case receipt != nil:
			if !receipt.Succeeded() {
				reason := s.replayRevertReason(ctx, txHash, uint64(receipt.BlockNumber))
				return receipt, types.Submission(types.ErrTxReverted, reason)
			}
			s.logger.Debug("transaction confirmed", "tx", txHash.Hex(), "block", uint64(receipt.BlockNumber))
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, types.NewError(types.KindSubmission, types.ErrTxPending,
				fmt.Sprintf("tx %s not confirmed: %v", txHash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (s *Service) getReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	raw, err := s.client.Call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

// replayRevertReason 在回滚所在区块重放交易以取得回滚原因
func (s *Service) replayRevertReason(ctx context.Context, txHash common.Hash, block uint64) string {
	fallback := fmt.Sprintf("transaction %s reverted in block %d", txHash.Hex(), block)

	raw, err := s.client.Call(ctx, "eth_getTransactionByHash", txHash)
	if err != nil || string(raw) == "null" {
		return fallback
	}
	var tx struct {
		From  common.Address `json:"from"`
		To    common.Address `json:"to"`
		Value *hexutil.Big   `json:"value"`
		Input hexutil.Bytes  `json:"input"`
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return fallback
	}

	msg := callMsg{From: &tx.From, To: tx.To, Value: tx.Value, Data: tx.Input}
	if _, err := s.client.Call(ctx, "eth_call", msg, hexutil.EncodeUint64(block)); err != nil {
		if reason, ok := client.RevertReason(err); ok {
			return reason
		}
	}
	return fallback
}
