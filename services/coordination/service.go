// Package coordination 负责一局游戏从创建到揭示的完整协调流程
//
// 流程中的每一步（构建载荷、签名、承诺、持久化、提交）都在这里串联，
// 账本读写由 services/ledger 完成，承诺存储由 services/commitment 完成
package coordination

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services"
	"github.com/weisyn/rps-client-go/services/commitment"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/services/ledger"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
)

// Service 游戏协调服务
type Service struct {
	ledger      *ledger.Service
	commitments *commitment.Manager
	config      *services.Config
	logger      client.Logger
	now         func() time.Time

	session atomic.Pointer[Session]

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option 服务选项
type Option func(*Service)

// WithLogger 设置日志器
func WithLogger(logger client.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock 替换时钟（测试使用）
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 创建协调服务
func NewService(ledgerSvc *ledger.Service, commitments *commitment.Manager, opts ...Option) *Service {
	if commitments == nil {
		commitments = commitment.NewManager(nil)
	}
	s := &Service{
		ledger:      ledgerSvc,
		commitments: commitments,
		config:      ledgerSvc.Config(),
		logger:      client.NopLogger{},
		now:         time.Now,
		inFlight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger 账本服务
func (s *Service) Ledger() *ledger.Service {
	return s.ledger
}

// Commitments 承诺管理器
func (s *Service) Commitments() *commitment.Manager {
	return s.commitments
}

// acquire 同一意图（或同一账户的创建）同时只允许一个变更操作
func (s *Service) acquire(key string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return nil, types.Validation(types.ErrOperationInProgress, key)
	}
	s.inFlight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}, nil
}

func (s *Service) expiry(ttl time.Duration) uint64 {
	return uint64(s.now().Add(ttl).Unix())
}

// ============================================================================
// 创建与接受
// ============================================================================

// CreateGameRequest 创建游戏请求
type CreateGameRequest struct {
	Opponent string
	Wager    *big.Int
	Move     game.Move
}

// CreateGameResult 创建游戏结果
//
// 意图已上链但接受失败时，结果与错误同时返回
type CreateGameResult struct {
	IntentHash common.Hash
	Intent     *Intent
	ProposeTx  common.Hash
	Accept     *AcceptResult
}

// AcceptResult 提交承诺结果
type AcceptResult struct {
	IntentHash common.Hash
	Tx         common.Hash
	Move       game.Move
	// Commitment 上链的承诺摘要
	Commitment common.Hash
}

// CreateGame 发起游戏并立即提交自己的承诺
//
// 流程: 校验 → 读取协议类型与 nonce → 构建并签名意图 → 提交并等待确认 →
// 取得 intentHash → 承诺 → 签名接受证明 → 持久化 → 提交接受
func (s *Service) CreateGame(ctx context.Context, req CreateGameRequest) (*CreateGameResult, error) {
	opponent, err := utils.ParseAddress(req.Opponent)
	if err != nil {
		return nil, types.Validation(err, "opponent")
	}
	if !req.Move.Playable() {
		return nil, types.Validation(types.ErrMissingMove, "")
	}
	if req.Wager == nil || req.Wager.Cmp(s.config.MinWager) < 0 {
		return nil, types.Validation(types.ErrWagerTooLow,
			fmt.Sprintf("minimum wager is %s ETH", utils.FormatEther(s.config.MinWager, 4)))
	}

	sess, err := s.requireSession()
	if err != nil {
		return nil, err
	}
	if opponent == sess.Account {
		return nil, types.Validation(
			fmt.Errorf("%w: opponent equals connected account", types.ErrInvalidAddress), "opponent")
	}
	unlock, err := s.acquire("create:" + utils.CanonicalHex(sess.Account))
	if err != nil {
		return nil, err
	}
	defer unlock()

	coordType, err := s.ledger.CoordinationType(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := s.ledger.AgentNonce(ctx, sess.Account)
	if err != nil {
		return nil, err
	}

	intent, err := BuildIntent(IntentParams{
		Proposer:         sess.Account.Hex(),
		Counterparty:     opponent.Hex(),
		Wager:            req.Wager,
		CoordinationType: coordType,
		CurrentNonce:     nonce,
		Expiry:           s.expiry(s.config.IntentTTL),
	})
	if err != nil {
		return nil, err
	}

	sig, err := sess.signer.SignIntent(ctx, sess.Wallet, intent)
	if err != nil {
		return nil, err
	}

	handle, err := s.ledger.ProposeCoordination(ctx, sess.Wallet, intent.Args(), sig, intent.CoordinationValue)
	if err != nil {
		return nil, err
	}
	result := &CreateGameResult{Intent: intent, ProposeTx: handle.Hash}

	receipt, err := s.ledger.WaitForReceipt(ctx, handle.Hash)
	if err != nil {
		return result, err
	}
	intentHash, err := s.ledger.ProposedIntentHash(receipt)
	if err != nil {
		return result, types.Synchronization(err, "propose receipt "+handle.Hash.Hex())
	}
	result.IntentHash = intentHash
	s.logger.Info("game proposed", "intent", intentHash.Hex(), "opponent", opponent.Hex(), "nonce", intent.Nonce)

	// 发起方是 player1，承诺不附带赌注
	accept, err := s.commitAndAccept(ctx, sess, intentHash, req.Move, nil)
	result.Accept = accept
	if err != nil {
		return result, err
	}
	return result, nil
}

// AcceptGameRequest 加入游戏请求
type AcceptGameRequest struct {
	IntentHash string
	Move       game.Move
}

// AcceptGame 对已有意图提交承诺；player2 附带赌注，player1 不附带
func (s *Service) AcceptGame(ctx context.Context, req AcceptGameRequest) (*AcceptResult, error) {
	intentHash, err := utils.ParseHash(req.IntentHash)
	if err != nil {
		return nil, types.Validation(err, "intent hash")
	}
	if !req.Move.Playable() {
		return nil, types.Validation(types.ErrMissingMove, "")
	}

	sess, err := s.requireSession()
	if err != nil {
		return nil, err
	}
	unlock, err := s.acquire(intentHash.Hex())
	if err != nil {
		return nil, err
	}
	defer unlock()

	view, err := s.project(ctx, intentHash, sess.Account)
	if err != nil {
		return nil, err
	}
	switch {
	case !view.IsParticipant:
		return nil, types.Validation(types.ErrNotParticipant, sess.Account.Hex())
	case view.You.Committed:
		return nil, types.Validation(types.ErrAlreadyCommitted, intentHash.Hex())
	case view.Phase != game.PhaseProposed:
		return nil, types.Validation(types.ErrGameClosed, "phase "+view.Phase.String())
	}

	var value *big.Int
	if !view.IsPlayer1 {
		value = view.Wager
	}
	return s.commitAndAccept(ctx, sess, intentHash, req.Move, value)
}

// commitAndAccept 承诺 → 签名 → 持久化 → 提交
//
// 签名被拒绝时不写入存储；提交被拒绝或回滚时恢复原存储条目；
// 交易未确认时保留秘密，调用方需继续轮询。
// 已提交过的条目不再换秘密：同一出拳复用原秘密重发，不同出拳直接拒绝
func (s *Service) commitAndAccept(ctx context.Context, sess *Session, intentHash common.Hash, move game.Move, value *big.Int) (*AcceptResult, error) {
	prev, hadPrev := s.commitments.Load(intentHash)

	var c *commitment.Commitment
	if hadPrev && prev.Submitted {
		if prev.Move != move {
			return nil, types.Validation(types.ErrCommitmentPending,
				fmt.Sprintf("%s submitted in tx %s", prev.Move, prev.Tx.Hex()))
		}
		reused := *prev
		c = &reused
		s.logger.Info("resubmitting stored commitment", "intent", intentHash.Hex(), "previous_tx", prev.Tx.Hex())
	} else {
		fresh, err := s.commitments.Commit(move)
		if err != nil {
			return nil, err
		}
		c = fresh
	}

	acc, err := BuildAcceptance(AcceptanceParams{
		IntentHash:     intentHash.Hex(),
		Participant:    sess.Account.Hex(),
		ConditionsHash: c.Digest(),
		Nonce:          s.config.AcceptanceNonce,
		Expiry:         s.expiry(s.config.AcceptanceTTL),
	})
	if err != nil {
		return nil, err
	}

	sig, err := sess.signer.SignAcceptance(ctx, sess.Wallet, acc)
	if err != nil {
		return nil, err
	}
	acc.Signature = sig

	c.Submitted = true
	if err := s.commitments.Persist(intentHash, c); err != nil {
		return nil, types.NewError(types.KindCommitmentLost, err, "persist before submitting "+intentHash.Hex())
	}

	result := &AcceptResult{IntentHash: intentHash, Move: move, Commitment: c.Digest()}
	handle, err := s.ledger.AcceptCoordination(ctx, sess.Wallet, acc.Args(), value)
	if err != nil {
		s.rollback(intentHash, prev, hadPrev, err)
		return nil, err
	}
	result.Tx = handle.Hash

	c.Tx = handle.Hash
	if err := s.commitments.Persist(intentHash, c); err != nil {
		s.logger.Warn("record submitted tx failed", "intent", intentHash.Hex(), "tx", handle.Hash.Hex(), "error", err)
	}

	if _, err := s.ledger.WaitForReceipt(ctx, handle.Hash); err != nil {
		s.rollback(intentHash, prev, hadPrev, err)
		return result, err
	}
	s.logger.Info("move committed", "intent", intentHash.Hex(), "tx", handle.Hash.Hex())
	return result, nil
}

// rollback 交易确定未上链时恢复提交前的存储状态
func (s *Service) rollback(intentHash common.Hash, prev *commitment.Commitment, hadPrev bool, cause error) {
	if !submissionFailed(cause) {
		s.logger.Warn("submission outcome unknown, keeping commitment", "intent", intentHash.Hex(), "error", cause)
		return
	}
	var err error
	if hadPrev {
		err = s.commitments.Persist(intentHash, prev)
	} else {
		err = s.commitments.Forget(intentHash)
	}
	if err != nil {
		s.logger.Error("commitment rollback failed", "intent", intentHash.Hex(), "error", err)
		return
	}
	s.logger.Debug("commitment rolled back", "intent", intentHash.Hex(), "cause", cause)
}

// submissionFailed 交易确定未生效（拒绝、回滚、签名失败）
func submissionFailed(err error) bool {
	if errors.Is(err, types.ErrTxPending) {
		return false
	}
	if errors.Is(err, types.ErrTxRejected) || errors.Is(err, types.ErrTxReverted) {
		return true
	}
	switch types.KindOf(err) {
	case types.KindSigning, types.KindValidation:
		return true
	}
	return false
}

// ============================================================================
// 揭示与取消
// ============================================================================

// RevealResult 揭示结果
type RevealResult struct {
	IntentHash common.Hash
	Tx         common.Hash
	Move       game.Move
}

// Reveal 揭示自己的出拳
//
// 仅在投影确认 BothCommitted 且自己尚未揭示时提交；本地秘密缺失返回 CommitmentLost
func (s *Service) Reveal(ctx context.Context, intentHashHex string) (*RevealResult, error) {
	intentHash, err := utils.ParseHash(intentHashHex)
	if err != nil {
		return nil, types.Validation(err, "intent hash")
	}
	sess, err := s.requireSession()
	if err != nil {
		return nil, err
	}
	unlock, err := s.acquire(intentHash.Hex())
	if err != nil {
		return nil, err
	}
	defer unlock()

	view, err := s.project(ctx, intentHash, sess.Account)
	if err != nil {
		return nil, err
	}
	if !view.IsParticipant {
		return nil, types.Validation(types.ErrNotParticipant, sess.Account.Hex())
	}
	if view.Phase != game.PhaseBothCommitted || view.You.Move != game.MoveNone {
		return nil, types.Validation(types.ErrRevealNotAllowed,
			fmt.Sprintf("phase %s, your move %s", view.Phase, view.You.Move))
	}

	move, salt, err := s.commitments.RevealArgs(intentHash)
	if err != nil {
		return nil, err
	}

	handle, err := s.ledger.RevealMove(ctx, sess.Wallet, intentHash, uint8(move), salt)
	if err != nil {
		return nil, err
	}
	result := &RevealResult{IntentHash: intentHash, Tx: handle.Hash, Move: move}
	if _, err := s.ledger.WaitForReceipt(ctx, handle.Hash); err != nil {
		return result, err
	}
	s.logger.Info("move revealed", "intent", intentHash.Hex(), "move", move.String())
	return result, nil
}

// Cancel 取消尚未被接受的意图（仅发起方）
func (s *Service) Cancel(ctx context.Context, intentHashHex string) (common.Hash, error) {
	intentHash, err := utils.ParseHash(intentHashHex)
	if err != nil {
		return common.Hash{}, types.Validation(err, "intent hash")
	}
	sess, err := s.requireSession()
	if err != nil {
		return common.Hash{}, err
	}
	unlock, err := s.acquire(intentHash.Hex())
	if err != nil {
		return common.Hash{}, err
	}
	defer unlock()

	handle, err := s.ledger.CancelCoordination(ctx, sess.Wallet, intentHash)
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := s.ledger.WaitForReceipt(ctx, handle.Hash); err != nil {
		return handle.Hash, err
	}
	s.logger.Info("game cancelled", "intent", intentHash.Hex())
	return handle.Hash, nil
}

// ============================================================================
// 查询
// ============================================================================

// project 读取并投影游戏；不存在时返回 ErrGameNotFound
func (s *Service) project(ctx context.Context, intentHash common.Hash, viewer common.Address) (*game.GameView, error) {
	raw, err := s.ledger.GetGame(ctx, intentHash)
	if err != nil {
		return nil, err
	}
	view := game.Project(*raw, viewer, game.ProjectOptions{
		Now:       s.now(),
		HasSecret: s.commitments.Has(intentHash),
	})
	if view.Phase == game.PhaseNone {
		return nil, types.Validation(types.ErrGameNotFound, intentHash.Hex())
	}
	return &view, nil
}

// Preview 以当前账户视角查看游戏（未连接时为旁观视角）
func (s *Service) Preview(ctx context.Context, intentHashHex string) (*game.GameView, error) {
	intentHash, err := utils.ParseHash(intentHashHex)
	if err != nil {
		return nil, types.Validation(err, "intent hash")
	}
	return s.project(ctx, intentHash, s.viewer())
}

// GameSummary 我的游戏列表项
type GameSummary struct {
	IntentHash common.Hash
	View       *game.GameView
	// Err 单项读取失败
	Err error
}

// MyGames 列出当前账户最近的游戏（最新在前）
func (s *Service) MyGames(ctx context.Context, limit int) ([]GameSummary, error) {
	sess, err := s.requireSession()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.config.MyGamesLimit
	}

	ids, err := s.ledger.GetPlayerGames(ctx, sess.Account)
	if err != nil {
		return nil, err
	}
	recent := utils.LastN(ids, limit)

	res, err := utils.BatchQuery(ctx, recent, func(ctx context.Context, id common.Hash, _ int) (*game.GameView, error) {
		raw, err := s.ledger.GetGame(ctx, id)
		if err != nil {
			return nil, err
		}
		view := game.Project(*raw, sess.Account, game.ProjectOptions{
			Now:       s.now(),
			HasSecret: s.commitments.Has(id),
		})
		return &view, nil
	}, nil)
	if err != nil {
		return nil, err
	}

	out := make([]GameSummary, len(recent))
	for i, id := range recent {
		out[i] = GameSummary{IntentHash: id, View: res.Results[i]}
	}
	for _, e := range res.Errors {
		out[e.Index].Err = e.Error
		s.logger.Warn("game read failed", "intent", recent[e.Index].Hex(), "error", e.Error)
	}
	return out, nil
}

// DebugInfo 诊断信息
type DebugInfo struct {
	Account    common.Address
	ChainID    *big.Int
	Network    string
	AgentNonce uint64
	// Balance 账户余额（wei）
	Balance *big.Int
	// Block 节点最新区块高度
	Block  uint64
	Domain *DomainCheck

	IntentHash *common.Hash
	// Stored 本地承诺（缺失时为 nil）
	Stored *commitment.Commitment
	// StoredDigest 由本地 move+salt 重新计算的摘要
	StoredDigest common.Hash
	// OnChain 账本记录的自己一方的承诺摘要
	OnChain     common.Hash
	DigestMatch bool
}

// Debug 汇总会话、nonce、域分隔符与承诺状态
func (s *Service) Debug(ctx context.Context, intentHashHex string) (*DebugInfo, error) {
	sess, err := s.requireSession()
	if err != nil {
		return nil, err
	}

	info := &DebugInfo{
		Account: sess.Account,
		ChainID: new(big.Int).Set(sess.ChainID),
		Network: services.NetworkName(sess.ChainID),
	}
	if info.AgentNonce, err = s.ledger.AgentNonce(ctx, sess.Account); err != nil {
		return nil, err
	}
	if info.Balance, err = s.ledger.Balance(ctx, sess.Account); err != nil {
		return nil, types.Synchronization(err, "balance "+sess.Account.Hex())
	}
	if info.Block, err = s.ledger.BlockNumber(ctx); err != nil {
		return nil, types.Synchronization(err, "block number")
	}
	if info.Domain, err = sess.signer.VerifyDomain(ctx, s.ledger); err != nil {
		return nil, err
	}
	if intentHashHex == "" {
		return info, nil
	}

	intentHash, err := utils.ParseHash(intentHashHex)
	if err != nil {
		return nil, types.Validation(err, "intent hash")
	}
	info.IntentHash = &intentHash
	if c, ok := s.commitments.Load(intentHash); ok {
		info.Stored = c
		info.StoredDigest = c.Digest()
	}

	raw, err := s.ledger.GetGame(ctx, intentHash)
	if err != nil {
		return nil, err
	}
	onChain, err := s.ledger.GetCommitments(ctx, intentHash)
	if err != nil {
		return nil, err
	}
	if raw.Player1 == sess.Account {
		info.OnChain = onChain.Player1
	} else {
		info.OnChain = onChain.Player2
	}
	info.DigestMatch = info.Stored != nil && info.StoredDigest == info.OnChain
	return info, nil
}
