package game

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase 账本游戏状态（与合约 GameStatus 一一对应）
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseProposed
	PhaseBothCommitted
	PhaseRevealed
	PhaseCompleted
	PhaseCancelled
)

// ParsePhase 解析账本原始状态值，未知值归为 PhaseNone
func ParsePhase(v uint8) Phase {
	p := Phase(v)
	if p > PhaseCancelled {
		return PhaseNone
	}
	return p
}

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseProposed:
		return "Proposed"
	case PhaseBothCommitted:
		return "Committed"
	case PhaseRevealed:
		return "Revealed"
	case PhaseCompleted:
		return "Completed"
	case PhaseCancelled:
		return "Cancelled"
	}
	return "None"
}

// Terminal 是否为终止状态
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// Move 出拳
type Move uint8

const (
	MoveNone Move = iota
	MoveRock
	MovePaper
	MoveScissors
)

// ParseMove 解析账本原始出拳值，未知值归为 MoveNone
func ParseMove(v uint8) Move {
	m := Move(v)
	if m > MoveScissors {
		return MoveNone
	}
	return m
}

// ParseMoveName 解析用户输入（名称或数字）
func ParseMoveName(s string) (Move, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rock", "r":
		return MoveRock, nil
	case "paper", "p":
		return MovePaper, nil
	case "scissors", "s":
		return MoveScissors, nil
	}
	if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8); err == nil {
		if m := Move(n); m.Playable() {
			return m, nil
		}
	}
	return MoveNone, fmt.Errorf("unknown move %q", s)
}

// Playable 是否为可出的拳（MoveNone 只是占位）
func (m Move) Playable() bool {
	return m >= MoveRock && m <= MoveScissors
}

func (m Move) String() string {
	switch m {
	case MoveNone:
		return "None"
	case MoveRock:
		return "Rock"
	case MovePaper:
		return "Paper"
	case MoveScissors:
		return "Scissors"
	}
	return "None"
}

// Symbol 展示用符号
func (m Move) Symbol() string {
	switch m {
	case MoveNone:
		return "?"
	case MoveRock:
		return "✊"
	case MovePaper:
		return "✋"
	case MoveScissors:
		return "✌️"
	}
	return "?"
}

// Result 账本判定结果，仅在 PhaseCompleted 时有意义
type Result uint8

const (
	ResultPending Result = iota
	ResultPlayer1Wins
	ResultPlayer2Wins
	ResultDraw
)

// ParseResult 解析账本原始结果值，未知值归为 ResultPending
func ParseResult(v uint8) Result {
	r := Result(v)
	if r > ResultDraw {
		return ResultPending
	}
	return r
}

func (r Result) String() string {
	switch r {
	case ResultPending:
		return "Pending"
	case ResultPlayer1Wins:
		return "Player1 Wins"
	case ResultPlayer2Wins:
		return "Player2 Wins"
	case ResultDraw:
		return "Draw"
	}
	return "Pending"
}

// SideStatus 单方状态
type SideStatus uint8

const (
	SideWaiting SideStatus = iota
	SideCommitted
	SideRevealed
)

func (s SideStatus) String() string {
	switch s {
	case SideWaiting:
		return "WAITING"
	case SideCommitted:
		return "COMMITTED"
	case SideRevealed:
		return "REVEALED"
	}
	return "WAITING"
}

// Outcome 观察者视角的胜负
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeWin
	OutcomeLose
	OutcomeDraw
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return ""
	case OutcomeWin:
		return "YOU WIN!"
	case OutcomeLose:
		return "YOU LOSE"
	case OutcomeDraw:
		return "DRAW!"
	}
	return ""
}
