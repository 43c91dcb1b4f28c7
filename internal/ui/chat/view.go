// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/ui/components"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "\n  loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatus(),
		m.theme.InputContainer.Width(m.width).Render(m.input.View()),
		m.theme.Hint.Render(m.help.View(m.keys)),
	)
}

func (m Model) renderHeader() string {
	brand := m.theme.HeaderBrand.Render("rigrun-chat")
	meta := m.theme.HeaderMeta.Render(util.TruncateRunes(m.session.ChatID(), 8))
	line := strings.Join([]string{brand, meta}, " ")
	return m.theme.Header.Width(m.width).Render(line)
}

func (m Model) renderStatus() string {
	bar := components.StatusBar{
		Status:    m.snap.Status,
		Phase:     m.snap.StreamPhase,
		Model:     m.session.Model(),
		Reasoning: m.session.ReasoningLevel(),
		Tools:     m.session.Tools(),
		Spinner:   m.spinner.View(),
		Notice:    m.notice,
		Width:     m.width,
	}
	return bar.Render(m.theme)
}
