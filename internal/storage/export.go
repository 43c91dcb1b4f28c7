// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// CHAT EXPORT
// =============================================================================

// Transcript is a chat with its messages, as exported.
type Transcript struct {
	Chat     model.Chat      `json:"chat"`
	Messages []model.Message `json:"messages"`
}

// ExportMarkdown renders the transcript as Markdown with role labels.
// Reasoning is rendered as a quoted block; tool activity as one line per
// call and result.
func (t Transcript) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + t.Chat.Title + "\n\n")
	sb.WriteString("Created: " + t.Chat.CreatedAt.Format(time.RFC3339) + "\n")
	if t.Chat.Model != "" {
		sb.WriteString("Model: " + t.Chat.Model + "\n")
	}
	sb.WriteString("\n---\n\n")

	for _, msg := range t.Messages {
		if msg.IsErrorPlaceholder() {
			continue
		}
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.CreatedAt.Format("15:04") + "):\n\n")
		for _, p := range msg.Parts {
			switch p.Type {
			case model.PartReasoning:
				for _, line := range strings.Split(strings.TrimSpace(p.Text), "\n") {
					sb.WriteString("> " + line + "\n")
				}
				sb.WriteString("\n")
			case model.PartText:
				sb.WriteString(p.Text + "\n\n")
			case model.PartToolCall:
				args, _ := json.Marshal(p.Arguments)
				fmt.Fprintf(&sb, "`%s(%s)`\n\n", p.ToolName, args)
			case model.PartToolResult:
				if p.Error != "" {
					fmt.Fprintf(&sb, "_tool error: %s_\n\n", p.Error)
				} else {
					fmt.Fprintf(&sb, "_tool result received_\n\n")
				}
			case model.PartImage, model.PartFile:
				fmt.Fprintf(&sb, "_[%s attachment %s]_\n\n", p.Type, p.Name)
			}
		}
		sb.WriteString("---\n\n")
	}
	return sb.String()
}

// ExportJSON renders the transcript as indented JSON.
func (t Transcript) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
