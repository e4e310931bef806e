// Package watch 轮询账本并把最新的游戏视图推送给展示层
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/types"
)

// DefaultFetchTimeout 单次读取默认超时
const DefaultFetchTimeout = 30 * time.Second

// Fetcher 读取原始游戏数据（ledger.Service 实现）
type Fetcher interface {
	GetGame(ctx context.Context, intentHash common.Hash) (*game.RawGame, error)
}

// SecretChecker 本地是否存有承诺秘密（commitment.Manager 实现）
type SecretChecker interface {
	Has(intentHash common.Hash) bool
}

// Listener 展示层回调
//
// 回调在轮询协程中同步执行，不应阻塞
type Listener interface {
	// OnUpdate 每次轮询成功
	OnUpdate(intentHash common.Hash, view game.GameView)
	// OnCompleted 首次观察到 Completed 时触发一次
	OnCompleted(intentHash common.Hash, view game.GameView)
	// OnError 轮询失败（同步错误），自动刷新不会因此停止
	OnError(intentHash common.Hash, err error)
}

// ListenerFuncs 以函数实现 Listener，未设置的回调忽略
type ListenerFuncs struct {
	Update    func(intentHash common.Hash, view game.GameView)
	Completed func(intentHash common.Hash, view game.GameView)
	Error     func(intentHash common.Hash, err error)
}

func (l ListenerFuncs) OnUpdate(h common.Hash, v game.GameView) {
	if l.Update != nil {
		l.Update(h, v)
	}
}

func (l ListenerFuncs) OnCompleted(h common.Hash, v game.GameView) {
	if l.Completed != nil {
		l.Completed(h, v)
	}
}

func (l ListenerFuncs) OnError(h common.Hash, err error) {
	if l.Error != nil {
		l.Error(h, err)
	}
}

// Poller 游戏视图轮询器
type Poller struct {
	fetcher  Fetcher
	secrets  SecretChecker
	viewer   func() common.Address
	listener Listener
	logger   client.Logger
	now      func() time.Time

	group        singleflight.Group
	fetchTimeout time.Duration

	mu        sync.Mutex
	idle      *sync.Cond
	latest    map[common.Hash]game.GameView
	notified  map[common.Hash]bool
	delivered map[common.Hash]uint64
	tasks     map[common.Hash]*task
	waiters   map[string]int
	flights   map[string]*flight
	inflight  int
	seq       uint64
	wg        sync.WaitGroup
}

type flight struct {
	cancel context.CancelFunc
}

type task struct {
	cancel context.CancelFunc
	nudge  chan struct{}
}

// Option 轮询器选项
type Option func(*Poller)

// WithListener 设置回调
func WithListener(l Listener) Option {
	return func(p *Poller) {
		if l != nil {
			p.listener = l
		}
	}
}

// WithLogger 设置日志器
func WithLogger(logger client.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock 替换时钟（倒计时计算）
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithFetchTimeout 单次读取的超时，默认 30s
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// NewPoller 创建轮询器；viewer 返回当前观察者账户，可为 nil
func NewPoller(fetcher Fetcher, secrets SecretChecker, viewer func() common.Address, opts ...Option) *Poller {
	if viewer == nil {
		viewer = func() common.Address { return common.Address{} }
	}
	p := &Poller{
		fetcher:   fetcher,
		secrets:   secrets,
		viewer:    viewer,
		listener:  ListenerFuncs{},
		logger:    client.NopLogger{},
		now:       time.Now,
		latest:    make(map[common.Hash]game.GameView),
		notified:  make(map[common.Hash]bool),
		delivered: make(map[common.Hash]uint64),
		tasks:     make(map[common.Hash]*task),
		waiters:   make(map[string]int),
		flights:   make(map[string]*flight),

		fetchTimeout: DefaultFetchTimeout,
	}
	p.idle = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// fetchResult 一次共享读取的结果，seq 按完成顺序递增
type fetchResult struct {
	seq  uint64
	view game.GameView
}

// Poll 读取并投影一次
//
// 同一意图同时只有一次请求在途，并发调用共享该次结果，
// 每次读取只由第一个仍在等待的调用方投递一次回调。
// 在途请求不随单个调用方取消，全部调用方离开后才取消；
// 调用方自己的 ctx 结束时立即返回，不投递任何回调
func (p *Poller) Poll(ctx context.Context, intentHash common.Hash) (game.GameView, error) {
	key := intentHash.Hex()
	if err := ctx.Err(); err != nil {
		return game.GameView{}, types.Synchronization(err, key)
	}

	p.mu.Lock()
	p.waiters[key]++
	p.mu.Unlock()

	ch := p.group.DoChan(key, func() (interface{}, error) {
		return p.fetch(ctx, intentHash)
	})

	select {
	case <-ctx.Done():
		p.leave(key)
		return game.GameView{}, types.Synchronization(ctx.Err(), key)
	case res := <-ch:
		p.leave(key)
		if err := ctx.Err(); err != nil {
			return game.GameView{}, types.Synchronization(err, key)
		}
		fr, _ := res.Val.(fetchResult)
		if res.Err != nil {
			if p.claim(intentHash, fr.seq) {
				p.listener.OnError(intentHash, res.Err)
			}
			return game.GameView{}, res.Err
		}
		p.record(intentHash, fr)
		return fr.view, nil
	}
}

// fetch 在 singleflight 中执行；读取上下文只在所有等待者离开或超时后取消
func (p *Poller) fetch(ctx context.Context, intentHash common.Hash) (interface{}, error) {
	key := intentHash.Hex()
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.fetchTimeout)
	fl := &flight{cancel: cancel}
	defer cancel()

	p.mu.Lock()
	p.inflight++
	p.flights[key] = fl
	if p.waiters[key] == 0 {
		cancel()
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.flights[key] == fl {
			delete(p.flights, key)
		}
		p.inflight--
		p.idle.Broadcast()
		p.mu.Unlock()
	}()

	raw, err := p.fetcher.GetGame(fetchCtx, intentHash)
	if err != nil {
		p.logger.Warn("poll failed", "intent", key, "error", err)
		return fetchResult{seq: p.nextSeq()}, types.Synchronization(err, key)
	}
	hasSecret := p.secrets != nil && p.secrets.Has(intentHash)
	view := game.Project(*raw, p.viewer(), game.ProjectOptions{Now: p.now(), HasSecret: hasSecret})
	return fetchResult{seq: p.nextSeq(), view: view}, nil
}

func (p *Poller) nextSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return p.seq
}

// leave 调用方离开；最后一个等待者离开时取消在途读取
func (p *Poller) leave(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters[key]--
	if p.waiters[key] > 0 {
		return
	}
	delete(p.waiters, key)
	if fl, ok := p.flights[key]; ok {
		fl.cancel()
		// 已取消的读取不再被后来的调用方复用
		p.group.Forget(key)
	}
}

// claim 读取结果是否尚未投递过回调
func (p *Poller) claim(intentHash common.Hash, seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.delivered[intentHash] {
		return false
	}
	p.delivered[intentHash] = seq
	return true
}

func (p *Poller) record(intentHash common.Hash, fr fetchResult) {
	p.mu.Lock()
	if fr.seq <= p.delivered[intentHash] {
		p.mu.Unlock()
		return
	}
	p.delivered[intentHash] = fr.seq
	view := fr.view
	p.latest[intentHash] = view
	fire := view.Phase == game.PhaseCompleted && !p.notified[intentHash]
	if fire {
		p.notified[intentHash] = true
	}
	p.mu.Unlock()

	p.listener.OnUpdate(intentHash, view)
	if fire {
		p.logger.Info("game completed", "intent", intentHash.Hex(), "result", view.Result.String())
		p.listener.OnCompleted(intentHash, view)
	}
}

// Latest 最近一次成功轮询的视图
func (p *Poller) Latest(intentHash common.Hash) (game.GameView, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.latest[intentHash]
	return v, ok
}

// Rerender 重新允许下一次轮询触发完成通知
func (p *Poller) Rerender(intentHash common.Hash) {
	p.mu.Lock()
	delete(p.notified, intentHash)
	p.mu.Unlock()
}

// StartAutoRefresh 立即轮询一次，之后每隔 interval 轮询
//
// 同一意图重复启动会先停止旧任务；ctx 结束或 Stop 时任务退出
func (p *Poller) StartAutoRefresh(ctx context.Context, intentHash common.Hash, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	p.Stop(intentHash)

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		cancel: cancel,
		nudge:  make(chan struct{}, 1),
	}

	p.mu.Lock()
	p.tasks[intentHash] = t
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(taskCtx, intentHash, interval, t.nudge)

		p.mu.Lock()
		if p.tasks[intentHash] == t {
			delete(p.tasks, intentHash)
		}
		p.mu.Unlock()
		cancel()
	}()
}

func (p *Poller) run(ctx context.Context, intentHash common.Hash, interval time.Duration, nudge <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Debug("auto refresh started", "intent", intentHash.Hex(), "interval", interval.String())
	for {
		// 失败已通过 OnError 上报，继续下一轮
		_, _ = p.Poll(ctx, intentHash)

		select {
		case <-ctx.Done():
			p.logger.Debug("auto refresh stopped", "intent", intentHash.Hex())
			return
		case <-ticker.C:
		case <-nudge:
		}
	}
}

// Nudge 让运行中的任务立即轮询；无任务时忽略
func (p *Poller) Nudge(intentHash common.Hash) {
	p.mu.Lock()
	t, ok := p.tasks[intentHash]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case t.nudge <- struct{}{}:
	default:
	}
}

// Running 意图是否有运行中的自动刷新
func (p *Poller) Running(intentHash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[intentHash]
	return ok
}

// Stop 停止意图的自动刷新，可重复调用，也可在回调中调用
func (p *Poller) Stop(intentHash common.Hash) {
	p.mu.Lock()
	t, ok := p.tasks[intentHash]
	if ok {
		delete(p.tasks, intentHash)
	}
	p.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// StopAll 停止全部自动刷新，等待任务和在途读取退出（不可在回调中调用）
//
// 返回后不再有任务回调
func (p *Poller) StopAll() {
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = make(map[common.Hash]*task)
	p.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	for p.inflight > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}
