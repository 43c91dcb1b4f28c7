// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newConfigCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration",
		Long: `Show and edit the configuration file.

Keys use dot notation, for example:
  rigrun-chat config get tools.max_rounds
  rigrun-chat config set ollama.default_model llama3.2
  rigrun-chat config set tools.disabled fetch_url,list_files`,
	}
	cmd.AddCommand(
		newConfigShowCmd(o),
		newConfigPathCmd(o),
		newConfigInitCmd(o),
		newConfigGetCmd(o),
		newConfigSetCmd(o),
		newConfigKeysCmd(),
	)
	return cmd
}

// targetPath is the file config init and config set write to.
func (o *options) targetPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	if path := config.FindConfigFile(); path != "" {
		return path, nil
	}
	return config.ConfigPath("toml")
}

func newConfigShowCmd(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			if o.jsonOutput {
				return NewJSONResponse("config show", cfg.Redacted()).Write(cmd.OutOrStdout())
			}
			switch format {
			case "toml", "yaml", "json":
			default:
				return fmt.Errorf("unknown format %q (want toml, yaml or json)", format)
			}
			data, err := config.Encode(cfg.Redacted(), format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "toml", "toml, yaml or json")
	return cmd
}

func newConfigPathCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := o.targetPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newConfigInitCmd(o *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := o.targetPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveToPath(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("[OK]")+" wrote "+path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			v, err := cfg.Redacted().Get(args[0])
			if err != nil {
				return err
			}
			if o.jsonOutput {
				return NewJSONResponse("config get", map[string]any{args[0]: v}).Write(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
			return nil
		},
	}
}

func newConfigSetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting in the config file",
		Long: `Change one setting in the config file. Only the file is read and
written; environment overrides are not saved. List values are
comma-separated.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := o.targetPath()
			if err != nil {
				return err
			}
			cfg, err := readConfigFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			cfg.SetDefaults()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := config.SaveToPath(cfg, path); err != nil {
				return err
			}
			v, _ := cfg.Redacted().Get(args[0])
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("[OK]")+" "+args[0]+" = "+formatValue(v))
			return nil
		},
	}
}

func newConfigKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every settable key",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, k := range config.Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	}
}

// readConfigFile loads only what is in path over the defaults. A missing
// file yields the defaults.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := config.Decode(cfg, data, config.FormatOf(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ",")
	case config.Duration:
		return x.D().String()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
