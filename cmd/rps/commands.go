package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weisyn/rps-client-go/client"
	"github.com/weisyn/rps-client-go/services/coordination"
	"github.com/weisyn/rps-client-go/services/event"
	"github.com/weisyn/rps-client-go/services/game"
	"github.com/weisyn/rps-client-go/services/watch"
	"github.com/weisyn/rps-client-go/types"
	"github.com/weisyn/rps-client-go/utils"
	"github.com/weisyn/rps-client-go/wallet"
)

// field 命令结果的一行
type field struct {
	Key   string
	Label string
	Value string
}

func printFields(w io.Writer, title string, fields []field) error {
	if viper.GetBool("json") {
		out := make(map[string]string, len(fields))
		for _, f := range fields {
			out[f.Key] = f.Value
		}
		return printJSON(w, out)
	}
	tw := newTable(w)
	tw.SetTitle(title)
	for _, f := range fields {
		tw.AppendRow(table.Row{f.Label, f.Value})
	}
	tw.Render()
	return nil
}

func parseMoveFlag(s string) (game.Move, error) {
	if s == "" {
		return game.MoveNone, types.Validation(types.ErrMissingMove, "--move rock|paper|scissors")
	}
	m, err := game.ParseMoveName(s)
	if err != nil {
		return game.MoveNone, types.Validation(fmt.Errorf("%w: %v", types.ErrMissingMove, err), s)
	}
	return m, nil
}

func createCmd() *cobra.Command {
	var opponent, wager, move string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose a game and commit your move",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMoveFlag(move)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), sessionRequired, func(ctx context.Context, a *app) error {
				amount := a.settings.Protocol.MinWager
				if wager != "" {
					if amount, err = utils.ParseEther(wager); err != nil {
						return types.Validation(fmt.Errorf("%w: %v", types.ErrWagerTooLow, err), wager)
					}
				}
				res, err := a.coord.CreateGame(ctx, coordination.CreateGameRequest{
					Opponent: opponent,
					Wager:    amount,
					Move:     m,
				})
				if res != nil {
					fields := []field{{"propose_tx", "Propose tx", res.ProposeTx.Hex()}}
					if res.IntentHash != (common.Hash{}) {
						fields = append([]field{{"intent_hash", "Intent", res.IntentHash.Hex()}}, fields...)
					}
					if res.Accept != nil {
						fields = append(fields,
							field{"accept_tx", "Commit tx", res.Accept.Tx.Hex()},
							field{"move", "Move", res.Accept.Move.String()},
							field{"commitment", "Commitment", res.Accept.Commitment.Hex()},
						)
					}
					if perr := printFields(os.Stdout, "Game created", fields); perr != nil {
						return perr
					}
				}
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("Share the intent hash with your opponent. Follow with: rps watch %s\n", res.IntentHash.Hex())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opponent, "opponent", "", "opponent address")
	cmd.Flags().StringVar(&wager, "wager", "", "wager in ETH (default: ledger minimum)")
	cmd.Flags().StringVarP(&move, "move", "m", "", "rock, paper or scissors")
	_ = cmd.MarkFlagRequired("opponent")
	return cmd
}

func joinCmd() *cobra.Command {
	var move string
	cmd := &cobra.Command{
		Use:   "join <intent-hash>",
		Short: "Commit your move to a game you were invited to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMoveFlag(move)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), sessionRequired, func(ctx context.Context, a *app) error {
				res, err := a.coord.AcceptGame(ctx, coordination.AcceptGameRequest{IntentHash: args[0], Move: m})
				if err != nil {
					if res != nil && errors.Is(err, types.ErrTxPending) {
						fmt.Fprintf(os.Stderr, "commit tx %s is not confirmed yet; your move secret is kept\n", res.Tx.Hex())
					}
					return err
				}
				return printFields(os.Stdout, "Move committed", []field{
					{"intent_hash", "Intent", res.IntentHash.Hex()},
					{"tx", "Commit tx", res.Tx.Hex()},
					{"move", "Move", res.Move.String()},
					{"commitment", "Commitment", res.Commitment.Hex()},
				})
			})
		},
	}
	cmd.Flags().StringVarP(&move, "move", "m", "", "rock, paper or scissors")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <intent-hash>",
		Short: "Show a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), sessionOptional, func(ctx context.Context, a *app) error {
				view, err := a.coord.Preview(ctx, args[0])
				if err != nil {
					return err
				}
				h, _ := utils.ParseHash(args[0])
				return renderGame(os.Stdout, h, view)
			})
		},
	}
}

func revealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <intent-hash>",
		Short: "Reveal your committed move",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), sessionRequired, func(ctx context.Context, a *app) error {
				res, err := a.coord.Reveal(ctx, args[0])
				if err != nil {
					return err
				}
				return printFields(os.Stdout, "Move revealed", []field{
					{"intent_hash", "Intent", res.IntentHash.Hex()},
					{"tx", "Reveal tx", res.Tx.Hex()},
					{"move", "Move", res.Move.String()},
				})
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <intent-hash>",
		Short: "Cancel a game nobody has joined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), sessionRequired, func(ctx context.Context, a *app) error {
				tx, err := a.coord.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				return printFields(os.Stdout, "Game cancelled", []field{
					{"intent_hash", "Intent", args[0]},
					{"tx", "Cancel tx", tx.Hex()},
				})
			})
		},
	}
}

func gamesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "games",
		Short: "List your most recent games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), sessionRequired, func(ctx context.Context, a *app) error {
				games, err := a.coord.MyGames(ctx, limit)
				if err != nil {
					return err
				}
				return renderGames(os.Stdout, games)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of games (default 10)")
	return cmd
}

func debugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug [intent-hash]",
		Short: "Show session, nonce, signing domain and stored commitment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var intent string
			if len(args) == 1 {
				intent = args[0]
			}
			return withApp(cmd.Context(), sessionRequired, func(ctx context.Context, a *app) error {
				info, err := a.coord.Debug(ctx, intent)
				if err != nil {
					return err
				}
				return renderDebug(os.Stdout, info)
			})
		},
	}
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	var autoReveal bool
	cmd := &cobra.Command{
		Use:   "watch <intent-hash>",
		Short: "Follow a game until it is settled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intentHash, err := utils.ParseHash(args[0])
			if err != nil {
				return types.Validation(err, "intent hash")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode := sessionOptional
			if autoReveal {
				mode = sessionRequired
			}
			return withApp(ctx, mode, func(ctx context.Context, a *app) error {
				return runWatch(ctx, a, intentHash, interval, autoReveal)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default 10s)")
	cmd.Flags().BoolVar(&autoReveal, "reveal", false, "reveal automatically once both moves are committed")
	return cmd
}

// runWatch 自动刷新直到游戏完成、取消或被中断
//
// WebSocket 连接下订阅账本日志，收到事件立即刷新
func runWatch(ctx context.Context, a *app, intentHash common.Hash, interval time.Duration, autoReveal bool) error {
	if interval <= 0 {
		interval = a.settings.Protocol.RefreshInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var viewer common.Address
	if sess := a.coord.Session(); sess != nil {
		viewer = sess.Account
	}

	var (
		poller    *watch.Poller
		revealing atomic.Bool
		revealWG  sync.WaitGroup
		last      string
		finishErr error
		doneOnce  sync.Once
		done      = make(chan struct{})
	)
	finish := func(err error) {
		doneOnce.Do(func() {
			finishErr = err
			close(done)
		})
	}

	poller = watch.NewPoller(a.ledger, a.coord.Commitments(), func() common.Address { return viewer },
		watch.WithLogger(a.logger),
		watch.WithListener(watch.ListenerFuncs{
			Update: func(h common.Hash, v game.GameView) {
				if key := viewKey(v); key != last {
					last = key
					_ = renderGame(os.Stdout, h, &v)
				}
				switch v.Phase {
				case game.PhaseNone:
					poller.Stop(h)
					finish(types.Validation(types.ErrGameNotFound, h.Hex()))
					return
				case game.PhaseCancelled:
					poller.Stop(h)
					finish(nil)
					return
				}
				if autoReveal && v.CanReveal && revealing.CompareAndSwap(false, true) {
					revealWG.Add(1)
					go func() {
						defer revealWG.Done()
						res, err := a.coord.Reveal(ctx, h.Hex())
						if err != nil {
							printError(os.Stderr, err)
						} else {
							fmt.Fprintf(os.Stderr, "revealed %s in %s\n", res.Move, res.Tx.Hex())
						}
						poller.Nudge(h)
					}()
				}
			},
			Completed: func(h common.Hash, _ game.GameView) {
				poller.Stop(h)
				finish(nil)
			},
			Error: func(_ common.Hash, err error) {
				a.logger.Warn("refresh failed", "error", err)
			},
		}))

	if a.settings.Client.Protocol == client.ProtocolWebSocket {
		events, err := a.events.SubscribeEvents(ctx, &event.EventFilters{IntentHash: &intentHash})
		if err != nil {
			a.logger.Warn("event subscription unavailable, polling only", "error", err)
		} else {
			go func() {
				for ev := range events {
					a.logger.Debug("ledger event", "event", ev.EventName, "tx", ev.TxHash.Hex(), "removed", ev.Removed)
					poller.Nudge(intentHash)
				}
			}()
		}
	}

	poller.StartAutoRefresh(ctx, intentHash, interval)
	select {
	case <-ctx.Done():
	case <-done:
	}
	poller.StopAll()
	revealWG.Wait()
	return finishErr
}

// viewKey 视图中影响展示的部分（倒计时按秒变化，不计入）
func viewKey(v game.GameView) string {
	return v.Phase.String() + "|" + v.You.Status.String() + "|" + v.Opponent.Status.String() + "|" +
		strconv.FormatBool(v.CanReveal) + "|" + strconv.FormatBool(v.Expired)
}

func keystoreCmd() *cobra.Command {
	ks := &cobra.Command{Use: "keystore", Short: "Manage encrypted player keys"}
	ks.AddCommand(keystoreNewCmd())
	ks.AddCommand(keystoreImportCmd())
	ks.AddCommand(keystoreListCmd())
	return ks
}

func keystoreManager() (*wallet.KeystoreManager, error) {
	dir := viper.GetString("keystore")
	if dir == "" {
		return nil, errors.New("--keystore required")
	}
	return wallet.NewKeystoreManager(dir)
}

func saveWallet(w *wallet.SimpleWallet) error {
	password := viper.GetString("password")
	if password == "" {
		return errors.New("--password (or RPS_PASSWORD) required")
	}
	km, err := keystoreManager()
	if err != nil {
		return err
	}
	path, err := km.Save(w, password)
	if err != nil {
		return err
	}
	return printFields(os.Stdout, "Key saved", []field{
		{"address", "Address", w.Address().Hex()},
		{"path", "File", path},
	})
}

func keystoreNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Generate a new key",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.NewWallet()
			if err != nil {
				return err
			}
			return saveWallet(w)
		},
	}
}

func keystoreImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <private-key-hex>",
		Short: "Import an existing private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.NewWalletFromPrivateKey(args[0])
			if err != nil {
				return err
			}
			return saveWallet(w)
		},
	}
}

func keystoreListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			km, err := keystoreManager()
			if err != nil {
				return err
			}
			addrs, err := km.List()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				out := make([]string, len(addrs))
				for i, addr := range addrs {
					out[i] = addr.Hex()
				}
				return printJSON(os.Stdout, out)
			}
			tw := newTable(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Address"})
			for i, addr := range addrs {
				tw.AppendRow(table.Row{i + 1, addr.Hex()})
			}
			tw.Render()
			return nil
		},
	}
}
