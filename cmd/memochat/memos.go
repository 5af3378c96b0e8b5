package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/antoniostano/memochat/internal/kv"
	"github.com/antoniostano/memochat/internal/logging"
	"github.com/antoniostano/memochat/internal/memo"
)

var memosCmd = &cobra.Command{
	Use:   "memos",
	Short: "Print the persisted memo collection as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		backend, err := kv.NewStore(ctx, cfg.MemoStoreURL)
		if err != nil {
			return err
		}
		defer backend.Close()

		store := memo.NewStore(backend, cfg.MemoStoreKey, memo.WithLogger(logger))
		store.Reload(ctx)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(store.List())
	},
}
