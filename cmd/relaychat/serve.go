package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/relaychat/internal/history"
	"github.com/comigor/relaychat/internal/llm"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/metrics"
	"github.com/comigor/relaychat/internal/relay"
	"github.com/comigor/relaychat/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			window, err := history.NewWindow(cfg.Relay.History)
			if err != nil {
				return err
			}

			llmClient := llm.NewClient(cfg.LLM, llm.EnvCredential(cfg.LLM.APIKeyEnv))
			m := metrics.New()
			svc := relay.New(llmClient, *cfg, window, m)

			logger.L.Info("relay configured",
				"mode", cfg.Relay.Mode,
				"model", cfg.LLM.Model,
				"max_tokens", cfg.Relay.EffectiveMaxTokens(),
				"history_policy", window.Name(),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg.Server.Address(), server.NewRouter(svc, m), 15*time.Second)
		},
	}
	cmd.Flags().String("host", "0.0.0.0", "listen host")
	cmd.Flags().String("port", "8080", "listen port")
	cmd.Flags().String("mode", "prompt", "request shape: prompt or history")
	cmd.Flags().String("model", "gpt-3.5-turbo", "upstream model identifier")
	return cmd
}
