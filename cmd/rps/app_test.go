package main

import (
	"bytes"
	"context"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services"
	"github.com/weisyn/rps-client-go/services/commitment"
	"github.com/weisyn/rps-client-go/services/coordination"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
	"github.com/weisyn/rps-client-go/wallet"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestResolveProtocol(t *testing.T) {
	tests := []struct {
		proto    string
		endpoint string
		want     client.Protocol
		wantErr  bool
	}{
		{"", "http://localhost:8545", client.ProtocolHTTP, false},
		{"", "ws://localhost:8546", client.ProtocolWebSocket, false},
		{"", "wss://node.example/ws", client.ProtocolWebSocket, false},
		{"websocket", "http://localhost:8545", client.ProtocolWebSocket, false},
		{"HTTP", "ws://localhost:8546", client.ProtocolHTTP, false},
		{"grpc", "http://localhost:8545", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.proto+" "+tt.endpoint, func(t *testing.T) {
			got, err := resolveProtocol(tt.proto, tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadSettings(t *testing.T) {
	resetViper(t)
	viper.Set("endpoint", "ws://127.0.0.1:8546")
	viper.Set("ledger", "0x5fbdb2315678afecb367f032d93f642f64180aa3")
	viper.Set("chain-id", uint64(11155111))
	viper.Set("receipt-timeout", "30s")
	viper.Set("timeout", 12)

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, client.ProtocolWebSocket, s.Client.Protocol)
	assert.Equal(t, 12, s.Client.Timeout)
	assert.Equal(t, services.DefaultLedgerAddress, s.Protocol.LedgerAddress)
	assert.Equal(t, uint64(11155111), s.Protocol.ChainID.Uint64())
	assert.Equal(t, 30*time.Second, s.Protocol.ReceiptTimeout)
	assert.Equal(t, services.DefaultMinWager().String(), s.Protocol.MinWager.String())
	assert.False(t, s.hasAccount())
}

func TestLoadSettings_Errors(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]interface{}
	}{
		{"no endpoint", map[string]interface{}{"endpoint": ""}},
		{"bad protocol", map[string]interface{}{"endpoint": "http://x", "protocol": "udp"}},
		{"bad ledger", map[string]interface{}{"endpoint": "http://x", "ledger": "0x1234"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			for k, v := range tt.set {
				viper.Set(k, v)
			}
			_, err := loadSettings()
			assert.Error(t, err)
		})
	}
}

func TestSettings_LoadWallet(t *testing.T) {
	s := &settings{}
	_, err := s.loadWallet(nil)
	assert.ErrorIs(t, err, errNoAccount)

	s.PrivateKey = aliceKey
	w, err := s.loadWallet(nil)
	require.NoError(t, err)
	alice := w.Address()

	// keystore 往返
	dir := t.TempDir()
	km, err := wallet.NewKeystoreManager(dir, wallet.WithLightScrypt())
	require.NoError(t, err)
	sw, err := wallet.NewWalletFromPrivateKey(aliceKey)
	require.NoError(t, err)
	_, err = km.Save(sw, "hunter2")
	require.NoError(t, err)

	s = &settings{Keystore: dir, Account: alice.Hex(), Password: "hunter2"}
	assert.True(t, s.hasAccount())
	w, err = s.loadWallet(nil)
	require.NoError(t, err)
	assert.Equal(t, alice, w.Address())

	s.Password = "wrong"
	_, err = s.loadWallet(nil)
	assert.Error(t, err)
}

func TestPromptApprover(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			approve := promptApprover(strings.NewReader(tt.input), &out)
			ok, err := approve(context.Background(), &wallet.ApprovalRequest{Kind: wallet.RequestHash})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), "[y/N]")
		})
	}
}

func TestDescribeRequest(t *testing.T) {
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{To: &to, Value: utils.MustParseEther("0.5")})
	got := describeRequest(&wallet.ApprovalRequest{Kind: wallet.RequestTransaction, Tx: tx})
	assert.Equal(t, "transaction to "+to.Hex()+", value 0.5000 ETH", got)

	assert.Equal(t, "typed data", describeRequest(&wallet.ApprovalRequest{Kind: wallet.RequestTypedData}))
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, types.CommitmentLost("0xabc"))
	out := buf.String()
	assert.Contains(t, out, "error [commitment_lost]")
	assert.Contains(t, out, "detail: 0xabc")
	assert.Contains(t, out, "cancel the game")
	assert.Contains(t, out, "trace: ")

	buf.Reset()
	printError(&buf, assert.AnError)
	assert.Equal(t, "error: "+assert.AnError.Error()+"\n", buf.String())
}

func TestToGameJSON(t *testing.T) {
	alice := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	raw := game.RawGame{
		Player1:     alice,
		Player2:     bob,
		Wager:       utils.MustParseEther("0.1"),
		Status:      uint8(game.PhaseCompleted),
		Player1Move: uint8(game.MoveRock),
		Player2Move: uint8(game.MoveScissors),
		Result:      uint8(game.ResultPlayer1Wins),
	}
	view := game.Project(raw, alice, game.ProjectOptions{Now: time.Now()})
	got := toGameJSON(common.HexToHash("0x01"), &view)

	assert.Equal(t, "Completed", got.Phase)
	assert.Equal(t, "200000000000000000", got.Pot)
	assert.Equal(t, "Rock", got.YourMove)
	assert.Equal(t, "Scissors", got.OpponentMove)
	assert.Equal(t, "YOU WIN!", got.Outcome)
	assert.Equal(t, "+0.1000 ETH", got.Prize)

	// 旁观者没有胜负
	view = game.Project(raw, common.Address{}, game.ProjectOptions{Now: time.Now()})
	got = toGameJSON(common.HexToHash("0x01"), &view)
	assert.Empty(t, got.Outcome)
	assert.Empty(t, got.YourStatus)
	assert.Equal(t, "Player1 Wins", got.Result)
}

func TestViewKey_IgnoresCountdown(t *testing.T) {
	v := game.GameView{Phase: game.PhaseBothCommitted, Countdown: "4:59"}
	w := v
	w.Countdown = "4:58"
	assert.Equal(t, viewKey(v), viewKey(w))

	w.CanReveal = true
	assert.NotEqual(t, viewKey(v), viewKey(w))
}

func TestExpiresIn(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, "-", expiresIn(0, now))
	assert.Equal(t, "expired", expiresIn(1_699_999_999, now))
	assert.Equal(t, "1m30s", expiresIn(1_700_000_090, now))
}

func TestPrintFields_JSON(t *testing.T) {
	resetViper(t)
	viper.Set("json", true)
	var buf bytes.Buffer
	require.NoError(t, printFields(&buf, "Game created", []field{{"intent_hash", "Intent", "0x01"}}))
	assert.JSONEq(t, `{"intent_hash":"0x01"}`, buf.String())
}

func testStore(t *testing.T) string {
	return filepath.Join(t.TempDir(), "commitments.db")
}

func TestRenderDebug(t *testing.T) {
	resetViper(t)
	h := common.HexToHash("0x01")
	info := &coordination.DebugInfo{
		Account:    common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		ChainID:    big.NewInt(31337),
		Network:    "Localhost",
		AgentNonce: 3,
		Balance:    utils.MustParseEther("1.5"),
		Block:      42,
		IntentHash: &h,
		Stored: &commitment.Commitment{
			Move:      game.MoveRock,
			Submitted: true,
			Tx:        common.HexToHash("0x0c"),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderDebug(&buf, info))
	out := buf.String()
	assert.Contains(t, out, "1.5000 ETH")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "Submitted in")
	assert.Contains(t, out, common.HexToHash("0x0c").Hex())

	viper.Set("json", true)
	buf.Reset()
	require.NoError(t, renderDebug(&buf, info))
	assert.Contains(t, buf.String(), `"balance_wei": "1500000000000000000"`)
	assert.Contains(t, buf.String(), `"block": 42`)
	assert.Contains(t, buf.String(), `"stored_submitted": true`)
}
