// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/ui/chat"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// chatOptions are the flags of the chat command.
type chatOptions struct {
	plain     bool
	last      bool
	chatID    string
	model     string
	reasoning string
	theme     string
	noTools   bool
}

func newChatCmd(o *options) *cobra.Command {
	co := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a model through the relay",
		Long: `Open an interactive chat. The full-screen UI is used when stdin and
stdout are terminals; --plain, or redirected input, gives a line-oriented
session instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, o, co)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&co.plain, "plain", false, "line-oriented chat without the full-screen UI")
	f.BoolVarP(&co.last, "continue", "c", false, "continue the most recent chat")
	f.StringVar(&co.chatID, "chat", "", "continue the chat with this id")
	f.StringVarP(&co.model, "model", "m", "", "model to use (default: the relay's default)")
	f.StringVar(&co.reasoning, "reasoning", "", "reasoning level: low, medium, high")
	f.StringVar(&co.theme, "theme", "", "color theme: auto, dark, light")
	f.BoolVar(&co.noTools, "no-tools", false, "do not offer tools to the model")
	return cmd
}

func runChat(cmd *cobra.Command, o *options, co *chatOptions) error {
	cfg, _, err := o.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	api := o.api(cfg)

	chatID := co.chatID
	if chatID == "" && co.last {
		if chatID, err = latestChat(ctx, api); err != nil {
			return err
		}
	}

	reasoning := cfg.Client.ReasoningLevel
	if co.reasoning != "" {
		reasoning = co.reasoning
	}
	session := client.NewSession(api, display.New(), client.SessionConfig{
		ChatID: chatID,
		Model:  co.model,
		Tools:  cfg.Client.Tools && !co.noTools,
		Logger: clientLogger(cfg),
	})
	if err := session.SetReasoningLevel(reasoning); err != nil {
		return err
	}

	if co.plain || !IsTTY() || !IsStdoutTTY() {
		return runPlain(ctx, session, cfg, cmd)
	}

	themeName := cfg.Client.Theme
	if co.theme != "" {
		themeName = co.theme
	}
	return chat.Run(ctx, session, styles.NewTheme(themeName))
}

// latestChat returns the id of the most recently active chat.
func latestChat(ctx context.Context, api *client.API) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	chats, err := api.ListChats(ctx)
	if err != nil {
		return "", fmt.Errorf("list chats: %s", client.Describe(err))
	}
	if len(chats) == 0 {
		return "", errors.New("no chats to continue")
	}
	return chats[0].ID, nil
}

// =============================================================================
// PLAIN MODE INPUT
// =============================================================================

// runPlain runs a line-oriented session on the command's streams. Input
// goes through liner when stdin is a terminal so history and line editing
// work.
func runPlain(ctx context.Context, session *client.Session, cfg *config.Config, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	p := newPlainChat(session, out)
	if out == os.Stdout && IsStdoutTTY() {
		p.markdown = newMarkdownRenderer(cfg.Client.Theme, TerminalWidth())
	}

	if in := cmd.InOrStdin(); in != os.Stdin || !IsTTY() {
		return p.Run(ctx, newScanReader(in))
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := ""
	if dir, err := config.ConfigDir(); err == nil {
		historyPath = filepath.Join(dir, "chat_history")
		if f, err := os.Open(historyPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyPath == "" {
			return
		}
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o700); err != nil {
			return
		}
		if f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	return p.Run(ctx, &linerReader{state: line})
}

// linerReader adapts liner to lineReader.
type linerReader struct {
	state *liner.State
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	s, err := r.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errAborted
	}
	if err == nil && s != "" {
		r.state.AppendHistory(s)
	}
	return s, err
}
