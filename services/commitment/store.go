package commitment

import (
	"errors"
	"sync"
)

// ErrStoreClosed 存储已关闭
var ErrStoreClosed = errors.New("commitment store closed")

// Store 承诺持久化接口（按键读写，后写覆盖）
type Store interface {
	// Get 读取键值，键不存在时 ok 为 false
	Get(key string) (value []byte, ok bool, err error)
	// Put 写入键值，覆盖已有值
	Put(key string, value []byte) error
	// Delete 删除键，键不存在不视为错误
	Delete(key string) error
}

// MemoryStore 内存存储（测试与临时会话）
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
