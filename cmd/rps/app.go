package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/logging"
	"github.com/weisyn/rps-client-go/services"
	"github.com/weisyn/rps-client-go/services/commitment"
	"github.com/weisyn/rps-client-go/services/coordination"
	"github.com/weisyn/rps-client-go/services/event"
	"github.com/weisyn/rps-client-go/services/ledger"
	"github.com/weisyn/rps-client-go/utils"
	"github.com/weisyn/rps-client-go/wallet"
)

// errNoAccount 未配置签名账户
var errNoAccount = errors.New("no account configured: pass --private-key, or --keystore with --account")

// settings 由命令行、RPS_* 环境变量与配置文件合并得到
type settings struct {
	Client   client.Config
	Protocol services.Config

	StorePath string
	LogLevel  string
	LogJSON   bool

	PrivateKey string
	Keystore   string
	Account    string
	Password   string
	Yes        bool
}

func loadSettings() (*settings, error) {
	s := &settings{
		Client: client.Config{
			Endpoint: viper.GetString("endpoint"),
			Timeout:  viper.GetInt("timeout"),
		},
		StorePath:  viper.GetString("store"),
		LogLevel:   viper.GetString("log-level"),
		LogJSON:    viper.GetBool("log-json"),
		PrivateKey: viper.GetString("private-key"),
		Keystore:   viper.GetString("keystore"),
		Account:    viper.GetString("account"),
		Password:   viper.GetString("password"),
		Yes:        viper.GetBool("yes"),
	}
	if s.Client.Endpoint == "" {
		return nil, errors.New("--endpoint required")
	}

	proto, err := resolveProtocol(viper.GetString("protocol"), s.Client.Endpoint)
	if err != nil {
		return nil, err
	}
	s.Client.Protocol = proto

	if addr := viper.GetString("ledger"); addr != "" {
		ledgerAddr, err := utils.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("--ledger: %w", err)
		}
		s.Protocol.LedgerAddress = ledgerAddr
	}
	if id := viper.GetUint64("chain-id"); id != 0 {
		s.Protocol.ChainID = new(big.Int).SetUint64(id)
	}
	s.Protocol.ReceiptTimeout = viper.GetDuration("receipt-timeout")
	s.Protocol = *s.Protocol.WithDefaults()
	return s, nil
}

// resolveProtocol 未指定时按端点 scheme 推断
func resolveProtocol(proto, endpoint string) (client.Protocol, error) {
	switch strings.ToLower(proto) {
	case "":
		if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
			return client.ProtocolWebSocket, nil
		}
		return client.ProtocolHTTP, nil
	case "http", "https":
		return client.ProtocolHTTP, nil
	case "ws", "websocket":
		return client.ProtocolWebSocket, nil
	}
	return "", fmt.Errorf("unsupported protocol %q", proto)
}

func (s *settings) hasAccount() bool {
	return s.PrivateKey != "" || (s.Keystore != "" && s.Account != "")
}

// loadWallet 私钥优先，其次 keystore
func (s *settings) loadWallet(approver wallet.Approver) (wallet.Wallet, error) {
	var opts []wallet.Option
	if approver != nil {
		opts = append(opts, wallet.WithApprover(approver))
	}
	if s.PrivateKey != "" {
		w, err := wallet.NewWalletFromPrivateKey(s.PrivateKey, opts...)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	if s.Keystore == "" || s.Account == "" {
		return nil, errNoAccount
	}
	addr, err := utils.ParseAddress(s.Account)
	if err != nil {
		return nil, fmt.Errorf("--account: %w", err)
	}
	km, err := wallet.NewKeystoreManager(s.Keystore)
	if err != nil {
		return nil, err
	}
	w, err := km.Load(addr, s.Password, opts...)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// promptApprover 在终端上逐个确认签名请求
func promptApprover(in io.Reader, out io.Writer) wallet.Approver {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req *wallet.ApprovalRequest) (bool, error) {
		fmt.Fprintf(out, "%s\nSign with %s? [y/N] ", describeRequest(req), req.Account.Hex())
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func describeRequest(req *wallet.ApprovalRequest) string {
	switch req.Kind {
	case wallet.RequestTypedData:
		if req.TypedData == nil {
			return "typed data"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%s)", req.TypedData.PrimaryType, req.TypedData.Domain.Name)
		for _, f := range req.TypedData.Types[req.TypedData.PrimaryType] {
			fmt.Fprintf(&b, "\n  %s: %v", f.Name, req.TypedData.Message[f.Name])
		}
		return b.String()
	case wallet.RequestTransaction:
		if req.Tx == nil || req.Tx.To() == nil {
			return "transaction"
		}
		return fmt.Sprintf("transaction to %s, value %s ETH", req.Tx.To().Hex(), utils.FormatEther(req.Tx.Value(), 4))
	}
	return string(req.Kind)
}

// app 一次命令执行所需的服务
type app struct {
	settings *settings
	logger   *logging.Logger
	client   client.Client
	ledger   *ledger.Service
	store    *commitment.BoltStore
	coord    *coordination.Service
	events   event.Service
}

func openApp(s *settings) (*app, error) {
	logger, err := logging.NewZap(logging.Config{Level: s.LogLevel, JSON: s.LogJSON, Color: !s.LogJSON})
	if err != nil {
		return nil, err
	}

	cfg := s.Client
	cfg.Logger = logger
	cli, err := client.NewClient(&cfg)
	if err != nil {
		return nil, err
	}

	store, err := commitment.OpenBoltStore(s.StorePath)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}

	ledgerSvc := ledger.NewService(cli, &s.Protocol, logger)
	manager := commitment.NewManager(store, commitment.WithLogger(logger))
	a := &app{
		settings: s,
		logger:   logger,
		client:   cli,
		ledger:   ledgerSvc,
		store:    store,
		coord:    coordination.NewService(ledgerSvc, manager, coordination.WithLogger(logger)),
		events:   event.NewService(cli, ledgerSvc.Address(), logger),
	}
	logger.Debug("app ready", "endpoint", cfg.Endpoint, "protocol", string(cfg.Protocol), "ledger", ledgerSvc.Address().Hex())
	return a, nil
}

// connect 加载钱包并建立会话
func (a *app) connect(ctx context.Context) (*coordination.Session, error) {
	var approver wallet.Approver
	if !a.settings.Yes {
		approver = promptApprover(os.Stdin, os.Stderr)
	}
	w, err := a.settings.loadWallet(approver)
	if err != nil {
		return nil, err
	}
	sess, err := a.coord.Connect(ctx, w)
	if err != nil {
		return nil, err
	}
	a.logger.Info("connected", "account", sess.Account.Hex(), "chain", sess.ChainID.String(), "session", sess.ID)
	return sess, nil
}

func (a *app) Close() {
	a.coord.Disconnect()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close client", "error", err)
	}
	_ = a.logger.Sync()
}

// sessionMode 命令对会话的要求
type sessionMode int

const (
	sessionNone sessionMode = iota
	// sessionOptional 配置了账户才连接（只读命令以该账户视角展示）
	sessionOptional
	sessionRequired
)

func withApp(ctx context.Context, mode sessionMode, fn func(context.Context, *app) error) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	a, err := openApp(s)
	if err != nil {
		return err
	}
	defer a.Close()

	if mode == sessionRequired || (mode == sessionOptional && s.hasAccount()) {
		if _, err := a.connect(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

// expiresIn 展示用剩余时间
func expiresIn(unix uint64, now time.Time) string {
	if unix == 0 {
		return "-"
	}
	left := time.Unix(int64(unix), 0).Sub(now).Truncate(time.Second)
	if left <= 0 {
		return "expired"
	}
	return left.String()
}
