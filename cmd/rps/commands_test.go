package main

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services"
	"github.com/weisyn/rps-client-go/services/coordination"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/services/ledger/ledgertest"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
)

const (
	aliceKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bobKey   = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

func openTestApp(t *testing.T, node *ledgertest.Node, key string) *app {
	t.Helper()
	s := &settings{
		Client: client.Config{Endpoint: node.URL(), Protocol: client.ProtocolHTTP, Timeout: 5},
		Protocol: *(&services.Config{
			ReceiptPollInterval: 10 * time.Millisecond,
			ReceiptTimeout:      time.Second,
		}).WithDefaults(),
		StorePath:  testStore(t),
		LogLevel:   "error",
		PrivateKey: key,
		Yes:        true,
	}
	a, err := openApp(s)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	_, err = a.connect(context.Background())
	require.NoError(t, err)
	return a
}

func TestRunWatch_AutoRevealSettlesGame(t *testing.T) {
	node := ledgertest.NewNode(31337, services.DefaultLedgerAddress)
	t.Cleanup(node.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := openTestApp(t, node, aliceKey)
	bob := openTestApp(t, node, bobKey)

	res, err := alice.coord.CreateGame(ctx, coordination.CreateGameRequest{
		Opponent: bob.coord.Session().Account.Hex(),
		Wager:    utils.MustParseEther("0.01"),
		Move:     game.MoveScissors,
	})
	require.NoError(t, err)
	h := res.IntentHash

	_, err = bob.coord.AcceptGame(ctx, coordination.AcceptGameRequest{IntentHash: h.Hex(), Move: game.MovePaper})
	require.NoError(t, err)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runWatch(ctx, alice, h, 20*time.Millisecond, true) })
	g.Go(func() error { return runWatch(ctx, bob, h, 20*time.Millisecond, true) })
	require.NoError(t, g.Wait())

	raw, ok := node.Game(h)
	require.True(t, ok)
	assert.Equal(t, uint8(game.PhaseCompleted), raw.Status)
	assert.Equal(t, uint8(game.ResultPlayer1Wins), raw.Result)

	view, err := bob.coord.Preview(context.Background(), h.Hex())
	require.NoError(t, err)
	assert.Equal(t, game.OutcomeLose, view.Outcome)
}

func TestRunWatch_CancelledGameEnds(t *testing.T) {
	node := ledgertest.NewNode(31337, services.DefaultLedgerAddress)
	t.Cleanup(node.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := openTestApp(t, node, aliceKey)
	bob := openTestApp(t, node, bobKey)
	res, err := alice.coord.CreateGame(ctx, coordination.CreateGameRequest{
		Opponent: bob.coord.Session().Account.Hex(),
		Wager:    utils.MustParseEther("0.01"),
		Move:     game.MoveRock,
	})
	require.NoError(t, err)

	_, err = alice.coord.Cancel(ctx, res.IntentHash.Hex())
	require.NoError(t, err)
	assert.NoError(t, runWatch(ctx, bob, res.IntentHash, 20*time.Millisecond, false))
}

func TestRunWatch_UnknownGame(t *testing.T) {
	node := ledgertest.NewNode(31337, services.DefaultLedgerAddress)
	t.Cleanup(node.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := openTestApp(t, node, aliceKey)
	err := runWatch(ctx, alice, common.HexToHash("0xdead"), 20*time.Millisecond, false)
	assert.ErrorIs(t, err, types.ErrGameNotFound)
}

func TestRunWatch_StopsOnContext(t *testing.T) {
	node := ledgertest.NewNode(31337, services.DefaultLedgerAddress)
	t.Cleanup(node.Close)

	alice := openTestApp(t, node, aliceKey)
	bob := openTestApp(t, node, bobKey)
	res, err := alice.coord.CreateGame(context.Background(), coordination.CreateGameRequest{
		Opponent: bob.coord.Session().Account.Hex(),
		Wager:    utils.MustParseEther("0.01"),
		Move:     game.MoveRock,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, runWatch(ctx, bob, res.IntentHash, 20*time.Millisecond, false))
}
