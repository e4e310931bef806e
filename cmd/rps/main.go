package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "rps",
	Short: "Rock-paper-scissors on an ERC-8001 coordination ledger",
	Long: `rps plays two-party commit-reveal rock-paper-scissors against an ERC-8001 ledger contract.
- create: propose a game to an opponent and commit your move in one go
- join: commit your move to a game you were invited to
- reveal: open your commitment once both sides have committed
- watch: follow a game until the ledger settles it
Move secrets are kept in a local store; losing it means you cannot reveal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return readConfigFile()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// readConfigFile 读取可选的 YAML 配置文件，命令行与环境变量优先
func readConfigFile() error {
	path := viper.GetString("config")
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml)")
	flags.StringP("endpoint", "e", "http://localhost:8545", "ledger node JSON-RPC endpoint")
	flags.String("protocol", "", "transport: http or websocket (default: from endpoint scheme)")
	flags.Int("timeout", 30, "request timeout in seconds")
	flags.String("ledger", "", "ledger contract address")
	flags.Uint64("chain-id", 0, "expected chain id (0: accept the node's)")
	flags.String("private-key", "", "hex private key of the player account")
	flags.String("keystore", "", "keystore directory")
	flags.String("account", "", "keystore account address")
	flags.String("password", "", "keystore password")
	flags.String("store", defaultStorePath(), "commitment store file")
	flags.Duration("receipt-timeout", 0, "how long to wait for a transaction receipt")
	flags.BoolP("yes", "y", false, "sign without confirmation prompts")
	flags.Bool("json", false, "output JSON")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "log as JSON")

	for _, name := range []string{
		"config", "endpoint", "protocol", "timeout", "ledger", "chain-id",
		"private-key", "keystore", "account", "password", "store",
		"receipt-timeout", "yes", "json", "log-level", "log-json",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(joinCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(revealCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(gamesCmd())
	rootCmd.AddCommand(debugCmd())
	rootCmd.AddCommand(keystoreCmd())
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rps-commitments.db"
	}
	return filepath.Join(home, ".rps", "commitments.db")
}
