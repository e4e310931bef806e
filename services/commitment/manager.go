package commitment

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/types"
)

// KeyPrefix 存储键前缀
const KeyPrefix = "rps_"

// Commitment 一次承诺的秘密部分
//
// Submitted 表示摘要可能已广播，此后不得再换秘密；Tx 为最近一次提交的交易哈希
type Commitment struct {
	Move      game.Move
	Secret    [32]byte
	Submitted bool
	Tx        common.Hash
}

// Digest 承诺摘要
func (c *Commitment) Digest() common.Hash {
	return Digest(c.Move, c.Secret)
}

// Digest keccak256(uint8(move) ‖ secret)，与合约 abi.encodePacked(uint8, bytes32) 一致
func Digest(move game.Move, secret [32]byte) common.Hash {
	return crypto.Keccak256Hash([]byte{byte(move)}, secret[:])
}

// Key 意图对应的存储键
func Key(intentHash common.Hash) string {
	return KeyPrefix + strings.ToLower(intentHash.Hex())
}

// storedCommitment 持久化格式
type storedCommitment struct {
	Move      uint8  `json:"move"`
	Salt      string `json:"salt"`
	Submitted bool   `json:"submitted,omitempty"`
	Tx        string `json:"tx,omitempty"`
}

// Manager 承诺管理器
type Manager struct {
	store  Store
	logger client.Logger
	random io.Reader
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 设置日志器
func WithLogger(logger client.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRandom 替换随机源（仅测试使用）
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

// NewManager 创建承诺管理器
func NewManager(store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		store:  store,
		logger: client.NopLogger{},
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Commit 为出拳生成新的随机秘密，不做持久化
func (m *Manager) Commit(move game.Move) (*Commitment, error) {
	if !move.Playable() {
		return nil, types.Validation(types.ErrMissingMove, fmt.Sprintf("move %d is not playable", move))
	}
	c := &Commitment{Move: move}
	if _, err := io.ReadFull(m.random, c.Secret[:]); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return c, nil
}

// Persist 按意图保存承诺，覆盖已有条目
func (m *Manager) Persist(intentHash common.Hash, c *Commitment) error {
	sc := storedCommitment{
		Move:      uint8(c.Move),
		Salt:      hexutil.Encode(c.Secret[:]),
		Submitted: c.Submitted,
	}
	if c.Tx != (common.Hash{}) {
		sc.Tx = c.Tx.Hex()
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode commitment: %w", err)
	}
	if err := m.store.Put(Key(intentHash), data); err != nil {
		return fmt.Errorf("persist commitment: %w", err)
	}
	m.logger.Debug("commitment persisted", "intent", intentHash.Hex(), "move", c.Move.String())
	return nil
}

// Load 读取承诺；缺失、损坏或读取失败均视为不存在
func (m *Manager) Load(intentHash common.Hash) (*Commitment, bool) {
	key := Key(intentHash)
	data, ok, err := m.store.Get(key)
	if err != nil {
		m.logger.Warn("commitment store read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	c, err := decode(data)
	if err != nil {
		m.logger.Warn("ignoring corrupt commitment entry", "key", key, "error", err)
		return nil, false
	}
	return c, true
}

// Has 本地是否存有该意图的承诺
func (m *Manager) Has(intentHash common.Hash) bool {
	_, ok := m.Load(intentHash)
	return ok
}

// Forget 删除承诺（提交失败时回滚）
func (m *Manager) Forget(intentHash common.Hash) error {
	if err := m.store.Delete(Key(intentHash)); err != nil {
		return fmt.Errorf("forget commitment: %w", err)
	}
	return nil
}

// RevealArgs 返回揭示所需的 (move, salt)
func (m *Manager) RevealArgs(intentHash common.Hash) (game.Move, [32]byte, error) {
	c, ok := m.Load(intentHash)
	if !ok {
		return game.MoveNone, [32]byte{}, types.CommitmentLost(intentHash.Hex())
	}
	return c.Move, c.Secret, nil
}

func decode(data []byte) (*Commitment, error) {
	var sc storedCommitment
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	move := game.Move(sc.Move)
	if !move.Playable() {
		return nil, fmt.Errorf("invalid move %d", sc.Move)
	}
	salt, err := hexutil.Decode(sc.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %w", err)
	}
	if len(salt) != 32 {
		return nil, fmt.Errorf("invalid salt length %d", len(salt))
	}
	c := &Commitment{Move: move, Submitted: sc.Submitted}
	copy(c.Secret[:], salt)
	if sc.Tx != "" {
		tx, err := hexutil.Decode(sc.Tx)
		if err != nil || len(tx) != common.HashLength {
			return nil, fmt.Errorf("invalid tx hash %q", sc.Tx)
		}
		c.Tx = common.BytesToHash(tx)
	}
	return c, nil
}
