package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services"
	"github.com/weisyn/rps-client-go/services/game"
)

// Service 账本合约服务（只读查询 + 交易提交）
type Service struct {
	client  client.Client
	address common.Address
	abi     abi.ABI
	config  *services.Config
	logger  client.Logger

	mu       sync.Mutex
	coordTyp *common.Hash
}

// NewService 创建账本服务
func NewService(cli client.Client, config *services.Config, logger client.Logger) *Service {
	config = config.WithDefaults()
	if logger == nil {
		logger = client.NopLogger{}
	}
	return &Service{
		client:  cli,
		address: config.LedgerAddress,
		abi:     parsedABI,
		config:  config,
		logger:  logger,
	}
}

// Address 账本合约地址
func (s *Service) Address() common.Address {
	return s.address
}

// Config 当前协议配置
func (s *Service) Config() *services.Config {
	return s.config
}

// Client 底层节点客户端
func (s *Service) Client() client.Client {
	return s.client
}

// callMsg eth_call / eth_estimateGas 参数
type callMsg struct {
	From  *common.Address `json:"from,omitempty"`
	To    common.Address  `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}

// call 在最新区块上执行只读方法并解码返回值
func (s *Service) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := s.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := s.client.Call(ctx, "eth_call", callMsg{To: s.address, Data: data}, "latest")
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	var out hexutil.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: empty result (is %s a ledger contract?)", method, s.address.Hex())
	}

	values, err := s.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// GetGame 读取游戏原始状态
func (s *Service) GetGame(ctx context.Context, intentHash common.Hash) (*game.RawGame, error) {
	values, err := s.call(ctx, MethodGetGame, intentHash)
	if err != nil {
		return nil, err
	}
	var raw game.RawGame
	if err := s.abi.Methods[MethodGetGame].Outputs.Copy(&raw, values); err != nil {
		return nil, fmt.Errorf("copy %s: %w", MethodGetGame, err)
	}
	return &raw, nil
}

// Commitments 链上记录的双方承诺摘要
type Commitments struct {
	Player1 common.Hash
	Player2 common.Hash
}

// GetCommitments 读取 games 映射中的承诺摘要（调试用）
func (s *Service) GetCommitments(ctx context.Context, intentHash common.Hash) (*Commitments, error) {
	values, err := s.call(ctx, MethodGames, intentHash)
	if err != nil {
		return nil, err
	}
	p1, ok1 := values[6].([32]byte)
	p2, ok2 := values[7].([32]byte)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected %s output types", MethodGames)
	}
	return &Commitments{Player1: p1, Player2: p2}, nil
}

// GetPlayerGames 读取玩家参与过的全部意图（按创建顺序）
func (s *Service) GetPlayerGames(ctx context.Context, player common.Address) ([]common.Hash, error) {
	values, err := s.call(ctx, MethodGetPlayerGames, player)
	if err != nil {
		return nil, err
	}
	ids, ok := values[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", MethodGetPlayerGames, values[0])
	}
	hashes := make([]common.Hash, len(ids))
	for i, id := range ids {
		hashes[i] = id
	}
	return hashes, nil
}

// GetCoordinationStatus 读取意图状态
func (s *Service) GetCoordinationStatus(ctx context.Context, intentHash common.Hash) (game.Phase, error) {
	values, err := s.call(ctx, MethodGetCoordinationStatus, intentHash)
	if err != nil {
		return game.PhaseNone, err
	}
	status, ok := values[0].(uint8)
	if !ok {
		return game.PhaseNone, fmt.Errorf("unexpected %s output type %T", MethodGetCoordinationStatus, values[0])
	}
	return game.ParsePhase(status), nil
}

// AgentNonce 读取代理当前 nonce
func (s *Service) AgentNonce(ctx context.Context, agent common.Address) (uint64, error) {
	values, err := s.call(ctx, MethodAgentNonces, agent)
	if err != nil {
		return 0, err
	}
	nonce, ok := values[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("unexpected %s output type %T", MethodAgentNonces, values[0])
	}
	return nonce, nil
}

// CoordinationType 读取协议类型标签（合约常量，首次读取后缓存）
func (s *Service) CoordinationType(ctx context.Context) (common.Hash, error) {
	s.mu.Lock()
	cached := s.coordTyp
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	h, err := s.readHash(ctx, MethodCoordinationType)
	if err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	s.coordTyp = &h
	s.mu.Unlock()
	return h, nil
}

// DomainSeparator 读取合约的 EIP-712 域分隔符
func (s *Service) DomainSeparator(ctx context.Context) (common.Hash, error) {
	return s.readHash(ctx, MethodDomainSeparator)
}

func (s *Service) readHash(ctx context.Context, method string) (common.Hash, error) {
	values, err := s.call(ctx, method)
	if err != nil {
		return common.Hash{}, err
	}
	h, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected %s output type %T", method, values[0])
	}
	return h, nil
}

// ChainID 读取节点当前链 ID
func (s *Service) ChainID(ctx context.Context) (*big.Int, error) {
	raw, err := s.client.Call(ctx, "eth_chainId")
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	var id hexutil.Big
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("decode chain id: %w", err)
	}
	return id.ToInt(), nil
}

// Balance 读取账户余额（wei）
func (s *Service) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	raw, err := s.client.Call(ctx, "eth_getBalance", account, "latest")
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	var bal hexutil.Big
	if err := json.Unmarshal(raw, &bal); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return bal.ToInt(), nil
}

// BlockNumber 读取最新区块高度
func (s *Service) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := s.client.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	var n hexutil.Uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return uint64(n), nil
}
