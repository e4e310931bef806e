package coordination

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/wallet"
)

// Session 已连接的签名会话
//
// 账户或链变化时会话失效，必须重新 Connect
type Session struct {
	ID          string
	Wallet      wallet.Wallet
	Account     common.Address
	ChainID     *big.Int
	ConnectedAt time.Time
	signer      *Signer
}

// Signer 会话签名器（域链 ID 固定为连接时的链）
func (s *Session) Signer() *Signer {
	return s.signer
}

// Connect 连接钱包并建立会话
//
// 配置了 ChainID 时要求节点链一致，否则返回 ErrWrongChain
func (s *Service) Connect(ctx context.Context, w wallet.Wallet) (*Session, error) {
	if w == nil {
		return nil, types.Signing(types.ErrSignerUnavailable, "connect")
	}
	chainID, err := s.ledger.ChainID(ctx)
	if err != nil {
		return nil, types.Signing(fmt.Errorf("%w: read chain id: %v", types.ErrSignerUnavailable, err), "connect")
	}
	if want := s.config.ChainID; want != nil && want.Cmp(chainID) != 0 {
		return nil, types.Signing(types.ErrWrongChain,
			fmt.Sprintf("node is on chain %s, expected %s", chainID, want))
	}

	sess := &Session{
		ID:          uuid.NewString(),
		Wallet:      w,
		Account:     w.Address(),
		ChainID:     chainID,
		ConnectedAt: s.now(),
		signer: NewSigner(Domain{
			ChainID:           new(big.Int).Set(chainID),
			VerifyingContract: s.ledger.Address(),
		}, s.ledger),
	}
	s.session.Store(sess)
	s.logger.Info("wallet connected", "session", sess.ID, "account", sess.Account.Hex(), "chain", chainID.String())
	return sess, nil
}

// Disconnect 清除会话
func (s *Service) Disconnect() {
	if old := s.session.Swap(nil); old != nil {
		s.logger.Info("wallet disconnected", "session", old.ID, "account", old.Account.Hex())
	}
}

// OnAccountsChanged 钱包账户变化；与当前账户不同则清除会话
func (s *Service) OnAccountsChanged(accounts []common.Address) {
	sess := s.session.Load()
	if sess == nil {
		return
	}
	if len(accounts) > 0 && accounts[0] == sess.Account {
		return
	}
	s.logger.Warn("account changed, session cleared", "session", sess.ID)
	s.session.CompareAndSwap(sess, nil)
}

// OnChainChanged 钱包链变化；与会话链不同则清除会话
func (s *Service) OnChainChanged(chainID *big.Int) {
	sess := s.session.Load()
	if sess == nil {
		return
	}
	if chainID != nil && chainID.Cmp(sess.ChainID) == 0 {
		return
	}
	s.logger.Warn("chain changed, session cleared", "session", sess.ID, "chain", fmt.Sprint(chainID))
	s.session.CompareAndSwap(sess, nil)
}

// Session 当前会话，未连接时返回 nil
func (s *Service) Session() *Session {
	return s.session.Load()
}

// requireSession 返回当前会话，未连接时返回 ErrSignerUnavailable
func (s *Service) requireSession() (*Session, error) {
	sess := s.session.Load()
	if sess == nil {
		return nil, types.Signing(fmt.Errorf("%w: %w", types.ErrSignerUnavailable, types.ErrNoSession), "")
	}
	return sess, nil
}

// viewer 当前观察者账户，未连接时为零地址
func (s *Service) viewer() common.Address {
	if sess := s.session.Load(); sess != nil {
		return sess.Account
	}
	return common.Address{}
}
