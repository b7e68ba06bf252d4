package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relaychat",
		Short: "Minimal chat relay in front of an OpenAI-compatible completion API",
		Long: `relaychat serves a small chat page and a POST /api/generate endpoint that
forwards each submission to an upstream chat-completion provider.

Examples:
  relaychat serve --port 8080 --mode history
  relaychat chat --server http://localhost:8080`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

// loadConfig reads .env files, then the configuration, and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger.Init(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	return cfg, nil
}
