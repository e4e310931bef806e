package commitment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// CommitmentsBucket bbolt 桶名
const CommitmentsBucket = "rps:commitments"

// BoltStore 基于 bbolt 的持久化存储，跨进程重启保留承诺
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore 打开（必要时创建）数据库文件
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database path: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(CommitmentsBucket)); err != nil {
			return fmt.Errorf("failed to create %s bucket: %w", CommitmentsBucket, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CommitmentsBucket))
		if b == nil {
			return nil
		}
		// bbolt 返回的切片只在事务内有效
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, wrapStoreErr("read", key, err)
	}
	return value, value != nil, nil
}

func (s *BoltStore) Put(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(CommitmentsBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return wrapStoreErr("write", key, err)
	}
	return nil
}

func (s *BoltStore) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CommitmentsBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return wrapStoreErr("delete", key, err)
	}
	return nil
}

// wrapStoreErr 关闭后的访问统一报告为 ErrStoreClosed
func wrapStoreErr(op, key string, err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		err = ErrStoreClosed
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	//nolint:wrapcheck
	return s.db.Close()
}
