package watch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/types"
)

var (
	intentA = common.HexToHash("0xa1")
	intentB = common.HexToHash("0xb2")
	alice   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

type fakeFetcher struct {
	mu       sync.Mutex
	raw      game.RawGame
	failures int
	calls    atomic.Int32
	gate     chan struct{}
	entered  chan struct{}
}

func newFetcher(status game.Phase) *fakeFetcher {
	return &fakeFetcher{raw: game.RawGame{
		Player1: alice,
		Player2: bob,
		Wager:   big.NewInt(1000),
		Status:  uint8(status),
	}}
}

func (f *fakeFetcher) GetGame(ctx context.Context, _ common.Hash) (*game.RawGame, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	raw := f.raw
	raw.Wager = new(big.Int).Set(f.raw.Wager)
	return &raw, nil
}

func (f *fakeFetcher) set(mutate func(*game.RawGame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(&f.raw)
}

type secrets map[common.Hash]bool

func (s secrets) Has(h common.Hash) bool { return s[h] }

type recorder struct {
	mu        sync.Mutex
	updates   int
	completed int
	errs      []error
}

func (r *recorder) listener() ListenerFuncs {
	return ListenerFuncs{
		Update: func(common.Hash, game.GameView) {
			r.mu.Lock()
			r.updates++
			r.mu.Unlock()
		},
		Completed: func(common.Hash, game.GameView) {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
		},
		Error: func(_ common.Hash, err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (updates, completed, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates, r.completed, len(r.errs)
}

func TestPoll_ProjectsAndStoresLatest(t *testing.T) {
	f := newFetcher(game.PhaseBothCommitted)
	f.set(func(g *game.RawGame) {
		g.Player1Committed, g.Player2Committed = true, true
		g.RevealDeadline = uint64(time.Now().Add(time.Minute).Unix())
	})
	p := NewPoller(f, secrets{intentA: true}, func() common.Address { return alice })

	_, ok := p.Latest(intentA)
	assert.False(t, ok)

	view, err := p.Poll(context.Background(), intentA)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseBothCommitted, view.Phase)
	assert.True(t, view.IsPlayer1)
	assert.True(t, view.CanReveal)

	latest, ok := p.Latest(intentA)
	require.True(t, ok)
	assert.Equal(t, view.Phase, latest.Phase)

	// 无秘密的意图不提供揭示
	view, err = p.Poll(context.Background(), intentB)
	require.NoError(t, err)
	assert.False(t, view.CanReveal)
}

func TestPoll_SingleInFlight(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 16)
	p := NewPoller(f, nil, nil)

	var wg sync.WaitGroup
	views := make([]game.GameView, 5)
	for i := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := p.Poll(context.Background(), intentA)
			assert.NoError(t, err)
			views[i] = v
		}()
	}

	<-f.entered
	// 等其余调用加入在途请求
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, v := range views {
		assert.Equal(t, game.PhaseProposed, v.Phase)
	}
}

func TestPoll_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 4)
	rec := &recorder{}
	p := NewPoller(f, nil, nil, WithListener(rec.listener()))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Poll(first, intentA)
		firstErr <- err
	}()
	<-f.entered

	type result struct {
		view game.GameView
		err  error
	}
	second := make(chan result, 1)
	go func() {
		v, err := p.Poll(context.Background(), intentA)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// 先发起的调用方退出，在途请求继续
	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.KindSynchronization, types.KindOf(err))

	close(f.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, game.PhaseProposed, res.view.Phase)
	assert.Equal(t, int32(1), f.calls.Load())

	_, _, errs := rec.counts()
	assert.Zero(t, errs)
}

func TestPoll_FetchTimeout(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	f.gate = make(chan struct{})
	defer close(f.gate)
	rec := &recorder{}
	p := NewPoller(f, nil, nil, WithListener(rec.listener()), WithFetchTimeout(20*time.Millisecond))

	_, err := p.Poll(context.Background(), intentA)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.KindSynchronization, types.KindOf(err))

	_, _, errs := rec.counts()
	assert.Equal(t, 1, errs)
}

func TestPoll_CompletionNotifiedOnce(t *testing.T) {
	f := newFetcher(game.PhaseBothCommitted)
	rec := &recorder{}
	p := NewPoller(f, nil, func() common.Address { return bob }, WithListener(rec.listener()))
	ctx := context.Background()

	_, err := p.Poll(ctx, intentA)
	require.NoError(t, err)

	f.set(func(g *game.RawGame) {
		g.Status = uint8(game.PhaseCompleted)
		g.Player1Move, g.Player2Move = uint8(game.MoveRock), uint8(game.MovePaper)
		g.Result = uint8(game.ResultPlayer2Wins)
	})
	for i := 0; i < 3; i++ {
		view, err := p.Poll(ctx, intentA)
		require.NoError(t, err)
		assert.Equal(t, game.OutcomeWin, view.Outcome)
	}
	updates, completed, errs := rec.counts()
	assert.Equal(t, 4, updates)
	assert.Equal(t, 1, completed)
	assert.Zero(t, errs)

	p.Rerender(intentA)
	_, err = p.Poll(ctx, intentA)
	require.NoError(t, err)
	_, err = p.Poll(ctx, intentA)
	require.NoError(t, err)
	_, completed, _ = rec.counts()
	assert.Equal(t, 2, completed)
}

func TestPoll_FailureIsSynchronizationError(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	f.failures = 1
	rec := &recorder{}
	p := NewPoller(f, nil, nil, WithListener(rec.listener()))

	_, err := p.Poll(context.Background(), intentA)
	require.Error(t, err)
	assert.Equal(t, types.KindSynchronization, types.KindOf(err))
	_, ok := p.Latest(intentA)
	assert.False(t, ok)

	_, _, errs := rec.counts()
	assert.Equal(t, 1, errs)

	_, err = p.Poll(context.Background(), intentA)
	require.NoError(t, err)
}

func TestAutoRefresh_ContinuesAfterErrors(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	f.failures = 2
	rec := &recorder{}
	p := NewPoller(f, nil, nil, WithListener(rec.listener()))
	defer p.StopAll()

	p.StartAutoRefresh(context.Background(), intentA, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := p.Latest(intentA)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	_, _, errs := rec.counts()
	assert.Equal(t, 2, errs)
	assert.True(t, p.Running(intentA))
}

func TestAutoRefresh_RestartReplacesTask(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	p := NewPoller(f, nil, nil)

	p.StartAutoRefresh(context.Background(), intentA, time.Hour)
	p.StartAutoRefresh(context.Background(), intentA, time.Hour)
	p.StartAutoRefresh(context.Background(), intentB, time.Hour)
	assert.True(t, p.Running(intentA))
	assert.True(t, p.Running(intentB))

	p.Stop(intentA)
	p.Stop(intentA)
	assert.False(t, p.Running(intentA))
	assert.True(t, p.Running(intentB))

	p.StopAll()
	p.StopAll()
	assert.False(t, p.Running(intentB))

	// 停止后不再轮询
	calls := f.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load())
}

func TestAutoRefresh_Nudge(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	p := NewPoller(f, nil, nil)
	defer p.StopAll()

	p.Nudge(intentA)
	assert.Zero(t, f.calls.Load())

	p.StartAutoRefresh(context.Background(), intentA, time.Hour)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	p.Nudge(intentA)
	require.Eventually(t, func() bool { return f.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAutoRefresh_ContextCancel(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	rec := &recorder{}
	p := NewPoller(f, nil, nil, WithListener(rec.listener()))
	ctx, cancel := context.WithCancel(context.Background())

	p.StartAutoRefresh(ctx, intentA, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !p.Running(intentA) }, time.Second, 5*time.Millisecond)
	_, _, errs := rec.counts()
	assert.Zero(t, errs)
}

func TestAutoRefresh_StopFromCallback(t *testing.T) {
	f := newFetcher(game.PhaseCompleted)
	var p *Poller
	done := make(chan struct{})
	p = NewPoller(f, nil, nil, WithListener(ListenerFuncs{
		Completed: func(h common.Hash, _ game.GameView) {
			p.Stop(h)
			close(done)
		},
	}))

	p.StartAutoRefresh(context.Background(), intentA, 10*time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion not delivered")
	}
	assert.False(t, p.Running(intentA))
	p.StopAll()
}

func TestPoll_CancelledContextDoesNotFetch(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	p := NewPoller(f, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Poll(ctx, intentA)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.KindSynchronization, types.KindOf(err))
	assert.Zero(t, f.calls.Load())
}

func TestAutoRefresh_NoCallbacksAfterStopAll(t *testing.T) {
	f := newFetcher(game.PhaseCompleted)
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 4)
	rec := &recorder{}
	p := NewPoller(f, nil, nil, WithListener(rec.listener()))

	p.StartAutoRefresh(context.Background(), intentA, time.Hour)
	<-f.entered

	// 最后一个等待者离开后在途读取被取消，StopAll 不会被闸门卡住
	p.StopAll()
	close(f.gate)
	time.Sleep(20 * time.Millisecond)

	updates, completed, errs := rec.counts()
	assert.Zero(t, updates)
	assert.Zero(t, completed)
	assert.Zero(t, errs)
	_, ok := p.Latest(intentA)
	assert.False(t, ok)
}

func TestPoll_SharedFetchDeliversOnce(t *testing.T) {
	f := newFetcher(game.PhaseProposed)
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 16)
	rec := &recorder{}
	p := NewPoller(f, nil, nil, WithListener(rec.listener()))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Poll(context.Background(), intentA)
			assert.NoError(t, err)
		}()
	}
	<-f.entered
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	updates, _, _ := rec.counts()
	assert.Equal(t, int(f.calls.Load()), updates)
}
