package game

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/rps-client-go/utils"
)

// RawGame getGame 返回的原始账本字段
type RawGame struct {
	Player1          common.Address
	Player2          common.Address
	Wager            *big.Int
	Expiry           uint64
	RevealDeadline   uint64
	Status           uint8
	Player1Committed bool
	Player2Committed bool
	Player1Move      uint8
	Player2Move      uint8
	Result           uint8
}

// SideView 单方视图
type SideView struct {
	Identity  common.Address
	Committed bool
	Move      Move
	Status    SideStatus
}

// GameView 某一观察者视角下的游戏快照
//
// 每次轮询重新计算，从不作为权威状态
type GameView struct {
	Phase          Phase
	Result         Result
	Player1        common.Address
	Player2        common.Address
	Wager          *big.Int
	Pot            *big.Int
	Expiry         uint64
	RevealDeadline uint64

	IsPlayer1     bool
	IsParticipant bool
	You           SideView
	Opponent      SideView

	// HasCountdown 仅 BothCommitted / Revealed 阶段有倒计时
	HasCountdown bool
	TimeLeft     time.Duration
	Expired      bool
	Countdown    string

	CanReveal   bool
	NeedsCommit bool

	// Outcome / Payout / PrizeLabel 仅在 PhaseCompleted 且观察者为参与方时设置
	Outcome    Outcome
	Payout     *big.Int
	PrizeLabel string
}

// ProjectOptions 投影参数
type ProjectOptions struct {
	// Now 当前时间，由调用方提供以保持投影纯函数
	Now time.Time
	// HasSecret 本地是否存有该意图的承诺秘密
	HasSecret bool
}

const noCountdown = "--:--"

// Project 将原始账本字段投影为观察者视图
//
// 对任意输入都返回确定的视图，未知状态值归为 PhaseNone
func Project(raw RawGame, viewer common.Address, opts ProjectOptions) GameView {
	wager := new(big.Int)
	if raw.Wager != nil && raw.Wager.Sign() > 0 {
		wager.Set(raw.Wager)
	}

	view := GameView{
		Phase:          ParsePhase(raw.Status),
		Result:         ParseResult(raw.Result),
		Player1:        raw.Player1,
		Player2:        raw.Player2,
		Wager:          wager,
		Pot:            new(big.Int).Lsh(wager, 1),
		Expiry:         raw.Expiry,
		RevealDeadline: raw.RevealDeadline,
		Countdown:      noCountdown,
		Payout:         new(big.Int),
	}

	hasViewer := viewer != (common.Address{})
	view.IsPlayer1 = hasViewer && viewer == raw.Player1
	isPlayer2 := hasViewer && viewer == raw.Player2
	view.IsParticipant = view.IsPlayer1 || isPlayer2

	p1 := side(raw.Player1, raw.Player1Committed, raw.Player1Move)
	p2 := side(raw.Player2, raw.Player2Committed, raw.Player2Move)
	if view.IsPlayer1 {
		view.You, view.Opponent = p1, p2
	} else {
		view.You, view.Opponent = p2, p1
	}

	if view.Phase == PhaseBothCommitted || view.Phase == PhaseRevealed {
		view.HasCountdown = true
		left := secondsUntil(raw.RevealDeadline, opts.Now)
		if left > 0 {
			view.TimeLeft = time.Duration(left) * time.Second
			view.Countdown = fmt.Sprintf("%d:%02d", left/60, left%60)
		} else {
			view.Expired = true
			view.Countdown = "EXPIRED"
		}
	}

	view.CanReveal = ShouldOfferReveal(view.Phase, view.You.Move, opts.HasSecret)
	view.NeedsCommit = view.IsParticipant && view.Phase == PhaseProposed && !view.You.Committed

	// 旁观者只看中立的 Result
	if view.Phase == PhaseCompleted && view.IsParticipant {
		view.Outcome = outcome(view.Result, view.IsPlayer1)
		switch view.Outcome {
		case OutcomeWin:
			view.Payout.Set(wager)
			view.PrizeLabel = "+" + utils.FormatEther(wager, 4) + " ETH"
		case OutcomeLose:
			view.Payout.Neg(wager)
			view.PrizeLabel = "-" + utils.FormatEther(wager, 4) + " ETH"
		default:
			view.PrizeLabel = "REFUNDED"
		}
	}

	return view
}

// ShouldOfferReveal 仅当双方已承诺、自己尚未揭示且本地仍有秘密时可揭示
func ShouldOfferReveal(phase Phase, yourMove Move, hasSecret bool) bool {
	return phase == PhaseBothCommitted && yourMove == MoveNone && hasSecret
}

// maxSeconds time.Duration 可表示的最大秒数
const maxSeconds = int64(math.MaxInt64 / int64(time.Second))

func secondsUntil(deadline uint64, now time.Time) int64 {
	if deadline > uint64(math.MaxInt64/2) {
		return maxSeconds
	}
	left := int64(deadline) - now.Unix()
	if left > maxSeconds {
		return maxSeconds
	}
	return left
}

// side 状态优先级：已揭示 > 已承诺 > 等待
func side(identity common.Address, committed bool, rawMove uint8) SideView {
	s := SideView{
		Identity:  identity,
		Committed: committed,
		Move:      ParseMove(rawMove),
	}
	switch {
	case s.Move != MoveNone:
		s.Status = SideRevealed
	case committed:
		s.Status = SideCommitted
	default:
		s.Status = SideWaiting
	}
	return s
}

// outcome 非 player1 的观察者按 player2 计算；Pending 结果按平局处理
func outcome(result Result, isPlayer1 bool) Outcome {
	switch result {
	case ResultPlayer1Wins:
		if isPlayer1 {
			return OutcomeWin
		}
		return OutcomeLose
	case ResultPlayer2Wins:
		if isPlayer1 {
			return OutcomeLose
		}
		return OutcomeWin
	}
	return OutcomeDraw
}
