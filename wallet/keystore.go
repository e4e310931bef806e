package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// KeystoreManager Keystore 管理器（Web3 Secret Storage v3 格式，scrypt + aes-128-ctr）
type KeystoreManager struct {
	keystoreDir string
	scryptN     int
	scryptP     int
}

// KeystoreOption Keystore 选项
type KeystoreOption func(*KeystoreManager)

// WithLightScrypt 使用轻量 scrypt 参数（测试或低配设备）
func WithLightScrypt() KeystoreOption {
	return func(km *KeystoreManager) {
		km.scryptN = keystore.LightScryptN
		km.scryptP = keystore.LightScryptP
	}
}

// NewKeystoreManager 创建 Keystore 管理器
func NewKeystoreManager(keystoreDir string, opts ...KeystoreOption) (*KeystoreManager, error) {
	if err := os.MkdirAll(keystoreDir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}

	km := &KeystoreManager{
		keystoreDir: keystoreDir,
		scryptN:     keystore.StandardScryptN,
		scryptP:     keystore.StandardScryptP,
	}
	for _, opt := range opts {
		opt(km)
	}
	return km, nil
}

// Save 加密保存钱包私钥，返回文件路径
func (km *KeystoreManager) Save(w *SimpleWallet, password string) (string, error) {
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    w.Address(),
		PrivateKey: w.PrivateKey(),
	}

	data, err := keystore.EncryptKey(key, password, km.scryptN, km.scryptP)
	if err != nil {
		return "", fmt.Errorf("encrypt private key: %w", err)
	}

	path := km.path(w.Address())
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write keystore file: %w", err)
	}
	return path, nil
}

// Load 解密 Keystore 并创建钱包
func (km *KeystoreManager) Load(address common.Address, password string, opts ...Option) (*SimpleWallet, error) {
	data, err := os.ReadFile(km.path(address))
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}

	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	if key.Address != address {
		return nil, fmt.Errorf("keystore address mismatch: file %s, key %s", address.Hex(), key.Address.Hex())
	}
	return NewWalletFromKey(key.PrivateKey, opts...), nil
}

// List 列出已保存的账户
func (km *KeystoreManager) List() ([]common.Address, error) {
	entries, err := os.ReadDir(km.keystoreDir)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var addrs []common.Address
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		hex := strings.TrimSuffix(name, ".json")
		if common.IsHexAddress(hex) {
			addrs = append(addrs, common.HexToAddress(hex))
		}
	}
	return addrs, nil
}

func (km *KeystoreManager) path(address common.Address) string {
	return filepath.Join(km.keystoreDir, strings.ToLower(address.Hex())+".json")
}
