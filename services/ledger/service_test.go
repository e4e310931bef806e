package ledger_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/services/ledger"
	"github.com/weisyn/rps-client-go/services/ledger/ledgertest"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
	"github.com/weisyn/rps-client-go/wallet"
)

const (
	aliceKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bobKey   = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

type fixture struct {
	node   *ledgertest.Node
	ledger *ledger.Service
	alice  *wallet.SimpleWallet
	bob    *wallet.SimpleWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node := ledgertest.NewNode(31337, services.DefaultLedgerAddress)
	t.Cleanup(node.Close)

	cli, err := client.NewHTTPClient(&client.Config{Endpoint: node.URL(), Protocol: client.ProtocolHTTP, Timeout: 5})
	require.NoError(t, err)

	alice, err := wallet.NewWalletFromPrivateKey(aliceKey)
	require.NoError(t, err)
	bob, err := wallet.NewWalletFromPrivateKey(bobKey)
	require.NoError(t, err)

	svc := ledger.NewService(cli, &services.Config{
		ReceiptPollInterval: 10 * time.Millisecond,
		ReceiptTimeout:      300 * time.Millisecond,
	}, nil)
	return &fixture{node: node, ledger: svc, alice: alice, bob: bob}
}

func (f *fixture) intent(t *testing.T, nonce uint64, wager *big.Int) ledger.IntentArgs {
	t.Helper()
	coordType, err := f.ledger.CoordinationType(context.Background())
	require.NoError(t, err)
	return ledger.IntentArgs{
		Expiry:            uint64(time.Now().Add(time.Hour).Unix()),
		Nonce:             nonce,
		AgentID:           f.alice.Address(),
		CoordinationType:  coordType,
		CoordinationValue: wager,
		Participants:      utils.SortParticipants(f.alice.Address(), f.bob.Address()),
	}
}

func TestService_ReadsSeededGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := common.HexToHash("0x01")
	f.node.SetGame(id, game.RawGame{
		Player1:          f.alice.Address(),
		Player2:          f.bob.Address(),
		Wager:            utils.MustParseEther("0.5"),
		Expiry:           1234,
		RevealDeadline:   5678,
		Status:           uint8(game.PhaseBothCommitted),
		Player1Committed: true,
		Player2Committed: true,
		Player2Move:      uint8(game.MovePaper),
	})

	raw, err := f.ledger.GetGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.alice.Address(), raw.Player1)
	assert.Equal(t, "500000000000000000", raw.Wager.String())
	assert.Equal(t, uint64(5678), raw.RevealDeadline)
	assert.Equal(t, uint8(game.PhaseBothCommitted), raw.Status)
	assert.True(t, raw.Player2Committed)
	assert.Equal(t, uint8(game.MovePaper), raw.Player2Move)

	ids, err := f.ledger.GetPlayerGames(ctx, f.bob.Address())
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{id}, ids)

	phase, err := f.ledger.GetCoordinationStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseBothCommitted, phase)

	missing, err := f.ledger.GetGame(ctx, common.HexToHash("0x02"))
	require.NoError(t, err)
	assert.Equal(t, uint8(0), missing.Status)

	chainID, err := f.ledger.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31337), chainID.Int64())
}

func TestService_CoordinationTypeCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ledger.CoordinationType(ctx)
	require.NoError(t, err)
	second, err := f.ledger.CoordinationType(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.node.CoordinationType, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.node.Calls(ledger.MethodCoordinationType))
}

func TestService_ProposeAndAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.node.SetAgentNonce(f.alice.Address(), 4)

	nonce, err := f.ledger.AgentNonce(ctx, f.alice.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(4), nonce)

	wager := utils.MustParseEther("0.1")
	handle, err := f.ledger.ProposeCoordination(ctx, f.alice, f.intent(t, nonce+1, wager), []byte{1}, wager)
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodProposeCoordination, handle.Method)

	receipt, err := f.ledger.WaitForReceipt(ctx, handle.Hash)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())

	intentHash, err := f.ledger.ProposedIntentHash(receipt)
	require.NoError(t, err)

	ev, err := f.ledger.FindEvent(receipt, ledger.EventCoordinationProposed)
	require.NoError(t, err)
	opponent, ok := ev.Address("opponent")
	require.True(t, ok)
	assert.Equal(t, f.bob.Address(), opponent)
	w, ok := ev.Uint("wager")
	require.True(t, ok)
	assert.Equal(t, wager.String(), w.String())

	accept, err := f.ledger.AcceptCoordination(ctx, f.bob, ledger.AcceptanceArgs{
		IntentHash:     intentHash,
		Participant:    f.bob.Address(),
		Nonce:          1,
		Expiry:         uint64(time.Now().Add(time.Hour).Unix()),
		ConditionsHash: common.HexToHash("0xaa"),
		Signature:      []byte{2},
	}, wager)
	require.NoError(t, err)
	_, err = f.ledger.WaitForReceipt(ctx, accept.Hash)
	require.NoError(t, err)

	raw, err := f.ledger.GetGame(ctx, intentHash)
	require.NoError(t, err)
	assert.Equal(t, uint8(game.PhaseProposed), raw.Status)
	assert.True(t, raw.Player2Committed)

	commitments, err := f.ledger.GetCommitments(ctx, intentHash)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xaa"), commitments.Player2)

	nonce, err = f.ledger.AgentNonce(ctx, f.alice.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), nonce)
}

func TestService_EstimateRevertIsRejected(t *testing.T) {
	f := newFixture(t)
	wager := utils.MustParseEther("0.1")

	// nonce 未递增，账本预执行即回滚
	_, err := f.ledger.ProposeCoordination(context.Background(), f.alice, f.intent(t, 0, wager), []byte{1}, wager)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTxRejected)

	engErr, ok := types.IsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindSubmission, engErr.Kind)
	assert.Equal(t, "Invalid nonce", engErr.Details["revert_reason"])
	assert.Zero(t, f.node.Calls("eth_sendRawTransaction"))
}

func TestService_SendRejected(t *testing.T) {
	f := newFixture(t)
	wager := utils.MustParseEther("0.1")
	f.node.RejectSend(ledger.MethodProposeCoordination, "insufficient funds for gas * price + value")

	_, err := f.ledger.ProposeCoordination(context.Background(), f.alice, f.intent(t, 1, wager), []byte{1}, wager)
	assert.ErrorIs(t, err, types.ErrTxRejected)
	engErr, _ := types.IsEngineError(err)
	require.NotNil(t, engErr)
	assert.Contains(t, engErr.Detail, "insufficient funds")
	assert.Equal(t, 1, f.node.Calls("eth_sendRawTransaction"))
}

func TestService_RevertedOnChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wager := utils.MustParseEther("0.1")
	f.node.RevertOnChain(ledger.MethodProposeCoordination, "Game expired")

	handle, err := f.ledger.ProposeCoordination(ctx, f.alice, f.intent(t, 1, wager), []byte{1}, wager)
	require.NoError(t, err)

	receipt, err := f.ledger.WaitForReceipt(ctx, handle.Hash)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Succeeded())
	assert.ErrorIs(t, err, types.ErrTxReverted)
	engErr, _ := types.IsEngineError(err)
	require.NotNil(t, engErr)
	assert.Equal(t, "Game expired", engErr.Details["revert_reason"])
}

func TestService_UnconfirmedIsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wager := utils.MustParseEther("0.1")
	f.node.HoldReceipts(true)

	handle, err := f.ledger.ProposeCoordination(ctx, f.alice, f.intent(t, 1, wager), []byte{1}, wager)
	require.NoError(t, err)

	_, err = f.ledger.WaitForReceipt(ctx, handle.Hash)
	assert.ErrorIs(t, err, types.ErrTxPending)
	assert.Equal(t, types.KindSubmission, types.KindOf(err))
}

func TestService_NoWallet(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.CancelCoordination(context.Background(), nil, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, types.ErrSignerUnavailable)
	assert.Equal(t, types.KindSigning, types.KindOf(err))
}

func TestService_UserRejectsTransaction(t *testing.T) {
	f := newFixture(t)
	declining, err := wallet.NewWalletFromPrivateKey(aliceKey, wallet.WithApprover(
		func(context.Context, *wallet.ApprovalRequest) (bool, error) { return false, nil }))
	require.NoError(t, err)

	wager := utils.MustParseEther("0.1")
	_, err = f.ledger.ProposeCoordination(context.Background(), declining, f.intent(t, 1, wager), []byte{1}, wager)
	assert.ErrorIs(t, err, types.ErrUserRejected)
	assert.Equal(t, types.KindSigning, types.KindOf(err))
	assert.Zero(t, f.node.Calls("eth_sendRawTransaction"))
}
