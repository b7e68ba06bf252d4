package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/comigor/relaychat/internal/conversation"
	"github.com/comigor/relaychat/internal/history"
	"github.com/comigor/relaychat/internal/logger"
)

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running relay server from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger.Init(os.Stderr, "text", cfg.Log.Level)

			serverURL, _ := cmd.Flags().GetString("server")
			store := conversation.NewStore(conversation.NewHTTPRelay(serverURL, cfg.Relay.Mode, nil))

			ln := liner.NewLiner()
			defer ln.Close()
			ln.SetCtrlCAborts(true)

			fmt.Fprintf(os.Stdout, "relaychat (%s mode) connected to %s\n", cfg.Relay.Mode, serverURL)
			shown := 0
			for {
				line, err := ln.Prompt("> ")
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					fmt.Fprintln(os.Stdout)
					return nil
				}
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				if strings.TrimSpace(line) != "" {
					ln.AppendHistory(line)
				}

				store.SetInput(line)
				// failures are already logged by the store and add no message
				_ = store.Submit(cmd.Context())

				msgs := store.Messages()
				renderMessages(os.Stdout, msgs[shown:])
				shown = len(msgs)
			}
		},
	}
	cmd.Flags().String("server", "http://localhost:8080", "relay server base URL")
	cmd.Flags().String("mode", "prompt", "request shape: prompt or history (must match the server)")
	return cmd
}

// renderMessages prints messages in order, tagged by role.
func renderMessages(w io.Writer, msgs []history.Message) {
	for _, m := range msgs {
		color := colorGreen
		if m.Role == history.RoleAssistant {
			color = colorBlue
		}
		fmt.Fprintf(w, "%s[%s]%s %s\n", color, m.Role, colorReset, m.Content)
	}
}
