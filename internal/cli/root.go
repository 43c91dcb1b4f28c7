// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// requestTimeout bounds one-shot API calls made by the list commands.
const requestTimeout = 15 * time.Second

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	serverURL  string
	jsonOutput bool
}

// loadConfig resolves the configuration the way every command sees it:
// an explicit --config file or the first config file found, then the
// environment, then the persistent flags. The returned path is "" when
// only defaults and the environment were used.
func (o *options) loadConfig() (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if o.configPath != "" {
		config.LoadDotEnv()
		path = o.configPath
		cfg, err = config.LoadFromPath(path)
	} else {
		path = config.FindConfigFile()
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, "", err
	}

	if o.logLevel != "" {
		if _, err := logging.ParseLevel(o.logLevel); err != nil {
			return nil, "", err
		}
		cfg.Logging.Level = o.logLevel
	}
	if o.serverURL != "" {
		cfg.Client.ServerURL = o.serverURL
	}
	config.SetGlobal(cfg)
	return cfg, path, nil
}

// api returns a relay client for cfg.
func (o *options) api(cfg *config.Config) *client.API {
	return client.NewAPI(client.Config{
		BaseURL: cfg.Client.ServerURL,
		Token:   cfg.Server.AuthToken,
	})
}

// clientLogger returns a logger for client commands. Console output would
// garble the terminal UI, so only file sinks are honored.
func clientLogger(cfg *config.Config) *zap.Logger {
	if !strings.HasPrefix(cfg.Logging.Output, "file:") {
		return zap.NewNop()
	}
	logger, _, err := logging.New(cfg.Logging)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:   "rigrun-chat",
		Short: "Streaming chat with local Ollama models",
		Long: `rigrun-chat relays chat turns to a local Ollama server, runs model
tool calls, and keeps conversations in a local database.

Examples:
  rigrun-chat serve                     # start the relay
  rigrun-chat                           # open the chat UI
  rigrun-chat chat --plain              # line-oriented chat
  rigrun-chat chat --chat <id>          # continue a conversation
  rigrun-chat models                    # list installed models
  rigrun-chat config show               # view configuration`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", info.Version, info.Commit, info.Date),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "config file (default: first of ~/.rigrun-chat/config.{toml,yaml,yml,json})")
	pf.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&o.serverURL, "server", "", "relay URL for client commands")
	pf.BoolVar(&o.jsonOutput, "json", false, "print machine-readable JSON")

	chatCmd := newChatCmd(o)
	root.RunE = chatCmd.RunE
	root.Flags().AddFlagSet(chatCmd.Flags())

	root.AddCommand(
		newServeCmd(o),
		chatCmd,
		newModelsCmd(o),
		newChatsCmd(o),
		newConfigCmd(o),
		newVersionCmd(info),
	)
	return root
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, TitleStyle.Render("rigrun-chat"))
			fmt.Fprintln(out, keyValue("Version:", info.Version))
			fmt.Fprintln(out, keyValue("Commit:", info.Commit))
			fmt.Fprintln(out, keyValue("Built:", info.Date))
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, info BuildInfo) int {
	root := NewRootCommand(info)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:")+" "+err.Error())
		return 1
	}
	return 0
}
