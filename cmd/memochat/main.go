package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/memochat/internal/config"
)

var (
	flagBind     string
	flagStore    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "memochat",
	Short: "Chat relay to Gemini with memo reminders",
	Long: `memochat serves a small chat page that relays messages to Gemini.
Replies may carry a memo; due memos are pushed to open pages as reminders.

Configuration comes from the environment (APP_*, GEMINI_*, MEMO_STORE_*,
REMINDER_*). Flags override the matching variables.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBind, "bind", "", "HTTP listen address (overrides APP_BIND_ADDR)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "memo store URL (overrides MEMO_STORE_URL)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides APP_LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd, memosCmd)
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flagBind != "" {
		cfg.BindAddr = flagBind
	}
	if flagStore != "" {
		cfg.MemoStoreURL = flagStore
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
