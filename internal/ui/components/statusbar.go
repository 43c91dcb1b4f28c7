// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// StatusBar is the single line under the conversation.
type StatusBar struct {
	Status display.Status
	Phase  display.Phase

	Model     string
	Reasoning string
	Tools     bool

	// Spinner is the current spinner frame, shown while busy.
	Spinner string

	// Notice is a transient message shown on the right.
	Notice string

	Width int
}

// Render renders the bar with theme.
func (s StatusBar) Render(t *styles.Theme) string {
	left := []string{s.renderStatus(t)}

	modelName := s.Model
	if modelName == "" {
		modelName = "default model"
	}
	left = append(left, t.StatusValue.Render(modelName))

	if s.Reasoning != "" {
		left = append(left, "reasoning "+t.StatusValue.Render(s.Reasoning))
	}
	if s.Tools {
		left = append(left, "tools "+t.StatusValue.Render("on"))
	} else {
		left = append(left, "tools off")
	}

	line := strings.Join(left, " | ")
	if s.Notice != "" {
		room := s.Width - lipgloss.Width(line) - 5
		if room > 3 {
			gap := s.Width - lipgloss.Width(line) - 2 - util.StringWidth(util.TruncateWidth(s.Notice, room))
			if gap < 1 {
				gap = 1
			}
			line += strings.Repeat(" ", gap) + t.StatusNotice.Render(util.TruncateWidth(s.Notice, room))
		}
	}
	return t.StatusBar.Width(s.Width).Render(line)
}

func (s StatusBar) renderStatus(t *styles.Theme) string {
	switch s.Status {
	case display.StatusSubmitted:
		return t.StatusSubmitted.Render(s.Spinner + " waiting")
	case display.StatusStreaming:
		label := "answering"
		if s.Phase == display.PhaseReasoning {
			label = "thinking"
		}
		return t.StatusStreaming.Render(s.Spinner + " " + label)
	case display.StatusError:
		return t.StatusError.Render(styles.StatusIndicators.Error + " error")
	}
	return t.StatusReady.Render(styles.StatusIndicators.Active + " ready")
}
