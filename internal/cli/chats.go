// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

const maxTitleWidth = 48

func newChatsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List, export and delete saved chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			chats, err := o.api(cfg).ListChats(ctx)
			if err != nil {
				if o.jsonOutput {
					return NewJSONErrorResponse("chats", err).Write(cmd.OutOrStdout())
				}
				return fmt.Errorf("list chats: %s", client.Describe(err))
			}
			if o.jsonOutput {
				return NewJSONResponse("chats", chats).Write(cmd.OutOrStdout())
			}
			printChats(cmd.OutOrStdout(), chats)
			return nil
		},
	}
	cmd.AddCommand(newChatsExportCmd(o), newChatsDeleteCmd(o))
	return cmd
}

func printChats(w io.Writer, chats []model.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(w, DimStyle.Render("no saved chats"))
		return
	}
	rows := make([][]string, 0, len(chats))
	for _, c := range chats {
		rows = append(rows, []string{
			c.ID,
			util.TruncateWidth(c.Title, maxTitleWidth),
			strconv.Itoa(c.MessageCount),
			humanize.Time(c.UpdatedAt),
		})
	}
	fmt.Fprintln(w, newTable("ID", "TITLE", "MESSAGES", "UPDATED").Rows(rows...).Render())
}

func newChatsExportCmd(o *options) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Export a chat transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			switch format {
			case "markdown", "md", "json":
			default:
				return fmt.Errorf("unknown export format %q (want markdown or json)", format)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			data, err := o.api(cfg).ExportChat(ctx, args[0], format)
			if err != nil {
				return fmt.Errorf("export %s: %s", args[0], client.Describe(err))
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := util.AtomicWriteFile(output, data, 0o600, 0o700); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), SuccessStyle.Render("[OK]")+" wrote "+output+" ("+humanize.Bytes(uint64(len(data)))+")")
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newChatsDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <chat-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a chat and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := o.api(cfg).DeleteChat(ctx, args[0]); err != nil {
				return fmt.Errorf("delete %s: %s", args[0], client.Describe(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("[OK]")+" deleted "+args[0])
			return nil
		},
	}
}
