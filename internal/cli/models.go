// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

func newModelsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Aliases: []string{"ls"},
		Short:   "List the models installed in Ollama",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			models, err := o.api(cfg).Models(ctx)
			if err != nil {
				if o.jsonOutput {
					return NewJSONErrorResponse("models", err).Write(cmd.OutOrStdout())
				}
				return fmt.Errorf("list models: %s", client.Describe(err))
			}
			if o.jsonOutput {
				return NewJSONResponse("models", models).Write(cmd.OutOrStdout())
			}
			printModels(cmd.OutOrStdout(), models, cfg.Ollama.DefaultModel)
			return nil
		},
	}
}

func printModels(w io.Writer, models []ollama.ModelInfo, defaultModel string) {
	if len(models) == 0 {
		fmt.Fprintln(w, WarningStyle.Render("[!] no models installed (try: ollama pull "+defaultModel+")"))
		return
	}

	rows := make([][]string, 0, len(models))
	for _, m := range models {
		name := m.Name
		if name == defaultModel {
			name += " *"
		}
		modified := ""
		if !m.ModifiedAt.IsZero() {
			modified = humanize.Time(m.ModifiedAt)
		}
		rows = append(rows, []string{
			name,
			humanize.Bytes(uint64(m.Size)),
			m.Details.ParameterSize,
			m.Details.QuantizationLevel,
			modified,
		})
	}
	fmt.Fprintln(w, newTable("NAME", "SIZE", "PARAMS", "QUANT", "MODIFIED").Rows(rows...).Render())
	fmt.Fprintln(w, DimStyle.Render("* default model"))
}

// newTable returns a borderless table with styled headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			return CellStyle
		})
}
