package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/viper"

	"github.com/weisyn/rps-client-go/services/coordination"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
)

// gameJSON --json 输出的游戏视图
type gameJSON struct {
	IntentHash     string `json:"intent_hash"`
	Phase          string `json:"phase"`
	Player1        string `json:"player1"`
	Player2        string `json:"player2"`
	Wager          string `json:"wager_wei"`
	Pot            string `json:"pot_wei"`
	YourStatus     string `json:"your_status,omitempty"`
	YourMove       string `json:"your_move,omitempty"`
	OpponentStatus string `json:"opponent_status,omitempty"`
	OpponentMove   string `json:"opponent_move,omitempty"`
	Countdown      string `json:"countdown"`
	CanReveal      bool   `json:"can_reveal"`
	NeedsCommit    bool   `json:"needs_commit"`
	Result         string `json:"result,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Prize          string `json:"prize,omitempty"`
	Error          string `json:"error,omitempty"`
}

func toGameJSON(intentHash common.Hash, v *game.GameView) gameJSON {
	out := gameJSON{IntentHash: intentHash.Hex()}
	if v == nil {
		return out
	}
	out.Phase = v.Phase.String()
	out.Player1 = v.Player1.Hex()
	out.Player2 = v.Player2.Hex()
	out.Wager = v.Wager.String()
	out.Pot = v.Pot.String()
	out.Countdown = v.Countdown
	out.CanReveal = v.CanReveal
	out.NeedsCommit = v.NeedsCommit
	if v.IsParticipant {
		out.YourStatus = v.You.Status.String()
		out.YourMove = v.You.Move.String()
		out.OpponentStatus = v.Opponent.Status.String()
		out.OpponentMove = v.Opponent.Move.String()
	}
	if v.Phase == game.PhaseCompleted {
		out.Result = v.Result.String()
		out.Prize = v.PrizeLabel
		if v.IsParticipant {
			out.Outcome = v.Outcome.String()
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

// renderGame 单局详情
func renderGame(w io.Writer, intentHash common.Hash, v *game.GameView) error {
	if viper.GetBool("json") {
		return printJSON(w, toGameJSON(intentHash, v))
	}

	tw := newTable(w)
	tw.SetTitle("Game " + utils.Shorten(intentHash.Hex()))
	tw.AppendRow(table.Row{"Phase", v.Phase.String()})
	tw.AppendRow(table.Row{"Player 1", sideLabel(v.Player1, v.IsPlayer1)})
	tw.AppendRow(table.Row{"Player 2", sideLabel(v.Player2, v.IsParticipant && !v.IsPlayer1)})
	tw.AppendRow(table.Row{"Wager", utils.FormatEther(v.Wager, 4) + " ETH"})
	tw.AppendRow(table.Row{"Pot", utils.FormatEther(v.Pot, 4) + " ETH"})
	if v.IsParticipant {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"You", sideStatus(v.You)})
		tw.AppendRow(table.Row{"Opponent", sideStatus(v.Opponent)})
	}
	if v.Phase == game.PhaseProposed {
		tw.AppendRow(table.Row{"Expires in", expiresIn(v.Expiry, time.Now())})
	}
	if v.HasCountdown {
		tw.AppendRow(table.Row{"Reveal deadline", v.Countdown})
	}
	if v.Phase == game.PhaseCompleted {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Result", v.Result.String()})
		if v.IsParticipant {
			tw.AppendRow(table.Row{v.Outcome.String(), v.PrizeLabel})
		}
	}
	tw.Render()

	switch {
	case v.CanReveal:
		fmt.Fprintf(w, "Both moves are committed. Reveal with: rps reveal %s\n", intentHash.Hex())
	case v.NeedsCommit:
		fmt.Fprintf(w, "Waiting for your move. Join with: rps join %s --move rock|paper|scissors\n", intentHash.Hex())
	}
	return nil
}

func sideLabel(addr common.Address, isViewer bool) string {
	label := utils.ShortenAddress(addr)
	if isViewer {
		label += " (you)"
	}
	return label
}

func sideStatus(s game.SideView) string {
	if s.Status == game.SideRevealed {
		return fmt.Sprintf("%s %s %s", s.Status, s.Move.Symbol(), s.Move)
	}
	return s.Status.String()
}

// renderGames 我的游戏列表
func renderGames(w io.Writer, games []coordination.GameSummary) error {
	if viper.GetBool("json") {
		items := make([]gameJSON, len(games))
		for i, g := range games {
			items[i] = toGameJSON(g.IntentHash, g.View)
			if g.Err != nil {
				items[i].Error = g.Err.Error()
			}
		}
		return printJSON(w, items)
	}

	if len(games) == 0 {
		fmt.Fprintln(w, "No games yet.")
		return nil
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"#", "Intent", "Phase", "Opponent", "Wager", "You", "Status"})
	for i, g := range games {
		if g.View == nil {
			tw.AppendRow(table.Row{i + 1, utils.Shorten(g.IntentHash.Hex()), "?", "", "", "", text.FgRed.Sprint(g.Err)})
			continue
		}
		v := g.View
		tw.AppendRow(table.Row{
			i + 1,
			utils.Shorten(g.IntentHash.Hex()),
			v.Phase.String(),
			utils.ShortenAddress(v.Opponent.Identity),
			utils.FormatEther(v.Wager, 4),
			sideStatus(v.You),
			summaryStatus(v),
		})
	}
	tw.Render()
	return nil
}

func summaryStatus(v *game.GameView) string {
	switch {
	case v.Phase == game.PhaseCompleted:
		return v.Outcome.String() + " " + v.PrizeLabel
	case v.CanReveal:
		return "reveal now (" + v.Countdown + ")"
	case v.NeedsCommit:
		return "your move"
	case v.HasCountdown:
		return v.Countdown
	}
	return ""
}

// renderDebug 诊断信息
func renderDebug(w io.Writer, info *coordination.DebugInfo) error {
	if viper.GetBool("json") {
		out := map[string]any{
			"account":     info.Account.Hex(),
			"chain_id":    info.ChainID.String(),
			"network":     info.Network,
			"agent_nonce": info.AgentNonce,
			"balance_wei": info.Balance.String(),
			"block":       info.Block,
		}
		if info.Domain != nil {
			out["domain_local"] = info.Domain.Local.Hex()
			out["domain_ledger"] = info.Domain.Ledger.Hex()
			out["domain_match"] = info.Domain.Match
		}
		if info.IntentHash != nil {
			out["intent_hash"] = info.IntentHash.Hex()
			out["stored"] = info.Stored != nil
			if info.Stored != nil {
				out["stored_move"] = info.Stored.Move.String()
				out["stored_digest"] = info.StoredDigest.Hex()
				out["stored_submitted"] = info.Stored.Submitted
				if info.Stored.Tx != (common.Hash{}) {
					out["stored_tx"] = info.Stored.Tx.Hex()
				}
			}
			out["onchain_commitment"] = info.OnChain.Hex()
			out["digest_match"] = info.DigestMatch
		}
		return printJSON(w, out)
	}

	tw := newTable(w)
	tw.SetTitle("Debug")
	tw.AppendRow(table.Row{"Account", info.Account.Hex()})
	tw.AppendRow(table.Row{"Network", fmt.Sprintf("%s (%s)", info.Network, info.ChainID)})
	tw.AppendRow(table.Row{"Agent nonce", info.AgentNonce})
	tw.AppendRow(table.Row{"Balance", utils.FormatEther(info.Balance, 4) + " ETH"})
	tw.AppendRow(table.Row{"Block", info.Block})
	if info.Domain != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Domain (local)", info.Domain.Local.Hex()})
		tw.AppendRow(table.Row{"Domain (ledger)", info.Domain.Ledger.Hex()})
		tw.AppendRow(table.Row{"Domain match", yesNo(info.Domain.Match)})
	}
	if info.IntentHash != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Intent", info.IntentHash.Hex()})
		if info.Stored != nil {
			tw.AppendRow(table.Row{"Stored move", info.Stored.Move.String()})
			tw.AppendRow(table.Row{"Stored salt", common.Hash(info.Stored.Secret).Hex()})
			tw.AppendRow(table.Row{"Recomputed digest", info.StoredDigest.Hex()})
			if info.Stored.Submitted {
				tw.AppendRow(table.Row{"Submitted in", info.Stored.Tx.Hex()})
			}
		} else {
			tw.AppendRow(table.Row{"Stored move", text.FgRed.Sprint("missing")})
		}
		tw.AppendRow(table.Row{"On-chain commitment", info.OnChain.Hex()})
		tw.AppendRow(table.Row{"Digest match", yesNo(info.DigestMatch)})
	}
	tw.Render()
	return nil
}

func yesNo(ok bool) string {
	if ok {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgRed.Sprint("no")
}

// printError 引擎错误按分类给出提示
func printError(w io.Writer, err error) {
	engErr, ok := types.IsEngineError(err)
	if !ok {
		fmt.Fprintln(w, "error:", err)
		return
	}
	fmt.Fprintf(w, "error [%s]: %s\n", engErr.Kind, engErr.UserMessage)
	if engErr.Detail != "" {
		fmt.Fprintf(w, "  detail: %s\n", engErr.Detail)
	}
	if hint := errorHint(engErr.Kind); hint != "" {
		fmt.Fprintf(w, "  %s\n", hint)
	}
	fmt.Fprintf(w, "  trace: %s\n", engErr.TraceID)
}

func errorHint(kind types.ErrorKind) string {
	switch kind {
	case types.KindValidation:
		return "nothing was sent to the ledger"
	case types.KindSigning:
		return "nothing changed on the ledger; it is safe to retry"
	case types.KindSubmission:
		return "the ledger did not accept the transaction"
	case types.KindSynchronization:
		return "could not read the ledger; the game state is unchanged"
	case types.KindCommitmentLost:
		return "the local move secret is gone; wait for the reveal deadline or cancel the game"
	}
	return ""
}
