// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"
)

func TestNewTheme_Names(t *testing.T) {
	tests := []struct {
		name     string
		wantDark bool
		wantMD   string
	}{
		{"dark", true, "dark"},
		{"DARK", true, "dark"},
		{"light", false, "light"},
		{" light ", false, "light"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			theme := NewTheme(tt.name)
			if theme.IsDark != tt.wantDark {
				t.Errorf("IsDark = %v, want %v", theme.IsDark, tt.wantDark)
			}
			if got := theme.MarkdownStyle(); got != tt.wantMD {
				t.Errorf("MarkdownStyle() = %q, want %q", got, tt.wantMD)
			}
		})
	}
}

func TestNewTheme_StylesRenderContent(t *testing.T) {
	theme := NewTheme("dark")
	for name, style := range map[string]interface{ Render(...string) string }{
		"UserBubble":      theme.UserBubble,
		"AssistantBubble": theme.AssistantBubble,
		"ErrorBubble":     theme.ErrorBubble,
		"ToolSuccess":     theme.ToolSuccess,
		"ToolError":       theme.ToolError,
		"StatusBar":       theme.StatusBar,
		"InputContainer":  theme.InputContainer,
	} {
		if out := style.Render("payload"); !strings.Contains(out, "payload") {
			t.Errorf("%s.Render dropped content: %q", name, out)
		}
	}
}

func TestRenderIndicators(t *testing.T) {
	tests := []struct {
		name   string
		render func(string) string
		marker string
	}{
		{"success", RenderSuccess, StatusIndicators.Success},
		{"error", RenderError, StatusIndicators.Error},
		{"warning", RenderWarning, StatusIndicators.Warning},
		{"info", RenderInfo, StatusIndicators.Info},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.render("done")
			if !strings.Contains(out, tt.marker) || !strings.Contains(out, "done") {
				t.Errorf("render = %q, want marker %q and text", out, tt.marker)
			}
		})
	}
}
