// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// maxToolLines caps the tool output shown under a call.
const maxToolLines = 4

// =============================================================================
// MESSAGE VIEW
// =============================================================================

// MessageView renders chat messages at a fixed width.
type MessageView struct {
	Theme    *styles.Theme
	Markdown *Markdown
	Width    int

	// ShowReasoning expands reasoning text instead of summarizing it.
	ShowReasoning bool
}

// MessageState is the live state a message is rendered with.
type MessageState struct {
	// Streaming marks the message receiving chunks.
	Streaming bool

	// Reasoning marks the streaming message as still in its reasoning phase.
	Reasoning bool

	// ReasoningSeconds is the recorded reasoning duration, if HasDuration.
	ReasoningSeconds float64
	HasDuration      bool

	// Editing marks the user message being edited.
	Editing bool
}

// Render renders one message with its role label.
func (v MessageView) Render(msg model.Message, st MessageState) string {
	switch {
	case msg.IsErrorPlaceholder():
		return v.renderError(msg)
	case msg.Role == model.RoleUser:
		return v.renderUser(msg, st)
	default:
		return v.renderAssistant(msg, st)
	}
}

func (v MessageView) contentWidth() int {
	w := v.Width - 4
	if w < 20 {
		w = 20
	}
	return w
}

func (v MessageView) renderUser(msg model.Message, st MessageState) string {
	t := v.Theme
	label := t.UserLabel.Render(model.RoleUser.DisplayName())
	if st.Editing {
		label += " " + t.EditMarker.Render("(editing)")
	}

	lines := []string{}
	if text := msg.Text(); text != "" {
		lines = append(lines, text)
	}
	for _, p := range msg.Parts {
		if p.Type == model.PartImage || p.Type == model.PartFile {
			lines = append(lines, t.Hint.Render(attachmentLabel(p)))
		}
	}
	body := t.UserBubble.Width(v.contentWidth()).Render(strings.Join(lines, "\n"))
	return label + "\n" + body
}

func (v MessageView) renderAssistant(msg model.Message, st MessageState) string {
	t := v.Theme
	label := t.AssistantLabel.Render(model.RoleAssistant.DisplayName())
	if msg.Metadata != nil && msg.Metadata.Model != "" {
		label += " " + t.Hint.Render(msg.Metadata.Model)
	}
	if msg.Metadata != nil && msg.Metadata.Interrupted {
		label += " " + t.Hint.Render("(interrupted)")
	}

	var blocks []string
	reasoningShown := false
	for i, p := range msg.Parts {
		switch p.Type {
		case model.PartReasoning:
			if reasoningShown && !v.ShowReasoning {
				continue
			}
			reasoningShown = true
			blocks = append(blocks, v.renderReasoning(msg, i, st))
		case model.PartText:
			if strings.TrimSpace(p.Text) != "" {
				blocks = append(blocks, v.Markdown.Render(p.Text, v.contentWidth()))
			}
		case model.PartToolCall:
			blocks = append(blocks, v.renderToolCall(p))
		case model.PartToolResult:
			blocks = append(blocks, v.renderToolResult(p))
		}
	}
	if len(blocks) == 0 && st.Streaming {
		blocks = append(blocks, t.Hint.Render("..."))
	}

	body := t.AssistantBubble.Width(v.contentWidth()).Render(strings.Join(blocks, "\n"))
	return label + "\n" + body
}

func (v MessageView) renderReasoning(msg model.Message, partIdx int, st MessageState) string {
	t := v.Theme
	var summary string
	switch {
	case st.Streaming && st.Reasoning:
		summary = "Thinking..."
	case st.HasDuration:
		summary = "Thought for " + FormatSeconds(st.ReasoningSeconds)
	default:
		summary = "Reasoned"
	}
	head := t.ReasoningLabel.Render(summary)
	if !v.ShowReasoning {
		return head
	}
	return head + "\n" + t.ReasoningText.Width(v.contentWidth()).Render(msg.Parts[partIdx].Text)
}

func (v MessageView) renderToolCall(p model.Part) string {
	return v.Theme.ToolCall.Render(util.TruncateWidth(ToolCallLine(p), v.contentWidth()))
}

// ToolCallLine describes a tool call as "-> name(key=value, ...)".
func ToolCallLine(p model.Part) string {
	return fmt.Sprintf("-> %s(%s)", p.ToolName, formatArgs(p.Arguments))
}

func (v MessageView) renderToolResult(p model.Part) string {
	t := v.Theme
	name := p.ToolName
	if name == "" {
		name = "tool"
	}
	if p.Error != "" {
		return t.ToolError.Render(styles.StatusIndicators.Error + " " + name + ": " + p.Error)
	}
	out := clipLines(formatResult(p.Result), maxToolLines, v.contentWidth()-2)
	return t.ToolSuccess.Render(styles.StatusIndicators.Success + " " + name + "\n" + out)
}

func (v MessageView) renderError(msg model.Message) string {
	t := v.Theme
	text := msg.Text()
	if msg.Metadata != nil && msg.Metadata.ErrorCode != "" {
		text += " " + t.Hint.Render("("+msg.Metadata.ErrorCode+")")
	}
	lines := []string{styles.RenderError(text)}
	if msg.Metadata != nil && msg.Metadata.Retryable {
		lines = append(lines, t.Hint.Render("ctrl+r to retry"))
	}
	return t.ErrorBubble.Width(v.contentWidth()).Render(strings.Join(lines, "\n"))
}

// =============================================================================
// HELPERS
// =============================================================================

// FormatSeconds formats a reasoning duration: "1.5s" below a minute,
// "2m05s" above.
func FormatSeconds(s float64) string {
	if s < 60 {
		return fmt.Sprintf("%.1fs", s)
	}
	d := time.Duration(s * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func attachmentLabel(p model.Part) string {
	kind := string(p.Type)
	switch {
	case p.Name != "":
		return "[" + kind + ": " + p.Name + "]"
	case p.MediaType != "":
		return "[" + kind + ": " + p.MediaType + "]"
	}
	return "[" + kind + "]"
}

// formatArgs renders arguments as key=value pairs in key order.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + compact(args[k])
	}
	return strings.Join(parts, ", ")
}

func formatResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func compact(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// clipLines keeps the first n lines of s, each truncated to width.
func clipLines(s string, n, width int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	more := 0
	if len(lines) > n {
		more = len(lines) - n
		lines = lines[:n]
	}
	for i, l := range lines {
		lines[i] = util.TruncateWidth(l, width)
	}
	if more > 0 {
		lines = append(lines, fmt.Sprintf("... %d more lines", more))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
