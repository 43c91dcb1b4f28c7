// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

func testView() MessageView {
	theme := styles.NewTheme("dark")
	return MessageView{Theme: theme, Markdown: NewMarkdown(theme.MarkdownStyle(), theme.ColorProfile), Width: 80}
}

func assistant(parts ...model.Part) model.Message {
	msg := model.NewAssistantMessage("a1")
	msg.Parts = parts
	return msg
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0s"},
		{1.46, "1.5s"},
		{59.9, "59.9s"},
		{60, "1m00s"},
		{125.4, "2m05s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSeconds(tt.in))
	}
}

func TestRender_ReasoningSummary(t *testing.T) {
	v := testView()
	msg := assistant(model.ReasoningPart("secret plan"), model.TextPart("answer"))

	tests := []struct {
		name string
		st   MessageState
		want string
	}{
		{"thinking", MessageState{Streaming: true, Reasoning: true}, "Thinking..."},
		{"duration", MessageState{ReasoningSeconds: 1.5, HasDuration: true}, "Thought for 1.5s"},
		{"unknown", MessageState{}, "Reasoned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Render(msg, tt.st)
			assert.Contains(t, out, tt.want)
			assert.NotContains(t, out, "secret plan")
		})
	}

	v.ShowReasoning = true
	assert.Contains(t, v.Render(msg, MessageState{}), "secret plan")
}

func TestRender_ToolParts(t *testing.T) {
	v := testView()
	msg := assistant(
		model.Part{Type: model.PartToolCall, ToolCallID: "c1", ToolName: "get_current_time", Arguments: map[string]any{"timezone": "UTC"}},
		model.Part{Type: model.PartToolResult, ToolCallID: "c1", ToolName: "get_current_time", Result: "12:00"},
		model.Part{Type: model.PartToolCall, ToolCallID: "c2", ToolName: "read_file", Arguments: map[string]any{"path": "x"}},
		model.Part{Type: model.PartToolResult, ToolCallID: "c2", ToolName: "read_file", Error: "denied"},
	)

	out := v.Render(msg, MessageState{})
	assert.Contains(t, out, `get_current_time(timezone="UTC")`)
	assert.Contains(t, out, "12:00")
	assert.Contains(t, out, styles.StatusIndicators.Error+" read_file: denied")
}

func TestRender_ErrorPlaceholder(t *testing.T) {
	v := testView()

	retryable := model.NewErrorMessage("backend down", "BACKEND_UNAVAILABLE", true)
	out := v.Render(retryable, MessageState{})
	assert.Contains(t, out, "backend down")
	assert.Contains(t, out, "BACKEND_UNAVAILABLE")
	assert.Contains(t, out, "ctrl+r to retry")

	final := model.NewErrorMessage("bad request", "INVALID_REQUEST", false)
	assert.NotContains(t, v.Render(final, MessageState{}), "retry")
}

func TestRender_UserAttachmentsAndEditing(t *testing.T) {
	v := testView()
	msg := model.NewUserMessage("look", model.ImagePart("image/png", "AAAA"))

	out := v.Render(msg, MessageState{Editing: true})
	assert.Contains(t, out, "look")
	assert.Contains(t, out, "[image: image/png]")
	assert.Contains(t, out, "(editing)")
	assert.NotContains(t, out, "AAAA")
}

func TestClipLines(t *testing.T) {
	out := clipLines("1\n2\n3\n4\n5\n6", 4, 40)
	assert.Contains(t, out, "4")
	assert.NotContains(t, out, "5\n")
	assert.Contains(t, out, "... 2 more lines")
}

func TestRenderConversation_UsesSnapshotState(t *testing.T) {
	v := testView()
	user := model.NewUserMessage("hi")
	done := assistant(model.ReasoningPart("r"), model.TextPart("first"))
	done.ID = "done"
	live := assistant(model.ReasoningPart("r"))
	live.ID = "live"

	snap := display.Snapshot{
		Messages:           []model.Message{user, done, live},
		Status:             display.StatusStreaming,
		StreamPhase:        display.PhaseReasoning,
		StreamingMessageID: "live",
		ReasoningDurations: map[string]float64{"done": 2},
	}

	out := RenderConversation(v, snap, user.ID)
	assert.Contains(t, out, "Thought for 2.0s")
	assert.Contains(t, out, "Thinking...")
	assert.Contains(t, out, "(editing)")
	assert.Equal(t, 3, strings.Count(out, model.RoleAssistant.DisplayName())+strings.Count(out, model.RoleUser.DisplayName()))
}

func TestStatusBar(t *testing.T) {
	theme := styles.NewTheme("dark")
	tests := []struct {
		name string
		bar  StatusBar
		want []string
	}{
		{"ready", StatusBar{Status: display.StatusReady, Model: "qwen3:8b", Tools: true}, []string{"ready", "qwen3:8b", "tools on"}},
		{"thinking", StatusBar{Status: display.StatusStreaming, Phase: display.PhaseReasoning, Spinner: "*"}, []string{"thinking", "default model"}},
		{"answering", StatusBar{Status: display.StatusStreaming, Phase: display.PhaseAnswer}, []string{"answering"}},
		{"submitted", StatusBar{Status: display.StatusSubmitted, Reasoning: "high"}, []string{"waiting", "reasoning high", "tools off"}},
		{"error", StatusBar{Status: display.StatusError, Notice: "saved"}, []string{"error", "saved"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.bar.Width = 100
			out := tt.bar.Render(theme)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}
