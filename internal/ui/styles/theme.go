// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme names accepted by NewTheme.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Theme holds the styled components of the chat client.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderMeta  lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserLabel       lipgloss.Style
	UserBubble      lipgloss.Style
	AssistantLabel  lipgloss.Style
	AssistantBubble lipgloss.Style
	ErrorBubble     lipgloss.Style
	EditMarker      lipgloss.Style

	// ==========================================================================
	// REASONING AND TOOLS
	// ==========================================================================

	ReasoningLabel lipgloss.Style
	ReasoningText  lipgloss.Style
	ToolCall       lipgloss.Style
	ToolSuccess    lipgloss.Style
	ToolError      lipgloss.Style

	// ==========================================================================
	// STATUS BAR
	// ==========================================================================

	StatusBar       lipgloss.Style
	StatusReady     lipgloss.Style
	StatusSubmitted lipgloss.Style
	StatusStreaming lipgloss.Style
	StatusError     lipgloss.Style
	StatusValue     lipgloss.Style
	StatusNotice    lipgloss.Style

	// ==========================================================================
	// INPUT
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	Spinner        lipgloss.Style
	Hint           lipgloss.Style
}

// NewTheme creates a theme. name is "dark", "light" or "auto"; anything
// else is treated as "auto".
func NewTheme(name string) *Theme {
	t := &Theme{ColorProfile: termenv.ColorProfile()}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ThemeDark:
		t.IsDark = true
	case ThemeLight:
		t.IsDark = false
	default:
		t.IsDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(t.IsDark)

	t.initStyles()
	return t
}

// MarkdownStyle returns the glamour standard style matching the theme.
func (t *Theme) MarkdownStyle() string {
	if t.IsDark {
		return ThemeDark
	}
	return ThemeLight
}

func (t *Theme) initStyles() {
	// Header
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderBrand = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.HeaderMeta = lipgloss.NewStyle().
		Foreground(TextSecondary)

	// Messages
	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.UserBubble = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(UserBubbleBorder).
		BorderLeft(true).
		PaddingLeft(1)

	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.AssistantBubble = lipgloss.NewStyle().
		Foreground(AssistantBubbleFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(AssistantBubbleBorder).
		BorderLeft(true).
		PaddingLeft(1)

	t.ErrorBubble = lipgloss.NewStyle().
		Foreground(ToolErrorFg).
		BorderStyle(lipgloss.ThickBorder()).
		BorderForeground(Rose).
		BorderLeft(true).
		PaddingLeft(1)

	t.EditMarker = lipgloss.NewStyle().
		Foreground(Amber).
		Italic(true)

	// Reasoning and tools
	t.ReasoningLabel = lipgloss.NewStyle().
		Foreground(Purple).
		Italic(true)

	t.ReasoningText = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.ToolCall = lipgloss.NewStyle().
		Foreground(Amber)

	t.ToolSuccess = lipgloss.NewStyle().
		Foreground(ToolSuccessFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Emerald).
		BorderLeft(true).
		PaddingLeft(1)

	t.ToolError = lipgloss.NewStyle().
		Foreground(ToolErrorFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Rose).
		BorderLeft(true).
		PaddingLeft(1)

	// Status bar
	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)

	t.StatusReady = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	t.StatusSubmitted = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	t.StatusStreaming = lipgloss.NewStyle().Foreground(Purple).Bold(true)
	t.StatusError = lipgloss.NewStyle().Foreground(Rose).Bold(true)

	t.StatusValue = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.StatusNotice = lipgloss.NewStyle().
		Foreground(Amber)

	// Input
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.Spinner = lipgloss.NewStyle().
		Foreground(Purple)

	t.Hint = lipgloss.NewStyle().
		Foreground(TextMuted)
}
