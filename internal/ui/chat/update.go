// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ui/components"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case hydratedMsg:
		if msg.err != nil {
			return m, m.setNotice("could not load history: " + client.Describe(msg.err))
		}
		return m, nil

	case turnDoneMsg:
		return m, m.turnDone(msg.err)

	case noticeExpiredMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey processes the chat bindings. Unhandled keys go to the input.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	busy := m.snap.Status.Busy()

	switch {
	case key.Matches(msg, m.keys.Quit):
		if busy {
			m.session.Stop()
			return m, nil, true
		}
		m.Close()
		return m, tea.Quit, true

	case key.Matches(msg, m.keys.Stop):
		switch {
		case busy:
			m.session.Stop()
		case m.editingID != "":
			m.cancelEdit()
		}
		return m, nil, true

	case key.Matches(msg, m.keys.Send):
		next, cmd := m.submit()
		return next, cmd, true

	case key.Matches(msg, m.keys.Retry):
		next, cmd := m.retryLast()
		return next, cmd, true

	case key.Matches(msg, m.keys.EditLast):
		next, cmd := m.editLast()
		return next, cmd, true

	case key.Matches(msg, m.keys.ToggleTools):
		on := !m.session.Tools()
		m.session.SetTools(on)
		return m, m.setNotice("tools " + onOff(on)), true

	case key.Matches(msg, m.keys.ExpandThought):
		m.messages.ShowReasoning = !m.messages.ShowReasoning
		m.refresh()
		return m, nil, true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil, true

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return m, nil, true
	}
	return m, nil, false
}

// submit sends the input as a new turn, an edit, or a slash command.
func (m Model) submit() (Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if m.snap.Status.Busy() {
		return m, m.setNotice("a reply is in progress (esc to stop)")
	}

	m.input.Reset()
	if id := m.editingID; id != "" {
		m.editingID = ""
		return m, m.editCmd(id, text)
	}
	return m, m.sendCmd(text)
}

// retryLast regenerates the last reply. An outstanding turn is stopped.
func (m Model) retryLast() (Model, tea.Cmd) {
	msgs := m.snap.Messages
	if len(msgs) == 0 {
		return m, m.setNotice("nothing to retry")
	}
	return m, m.retryCmd(msgs[len(msgs)-1].ID)
}

// editLast loads the last user message into the input.
func (m Model) editLast() (Model, tea.Cmd) {
	msgs := m.snap.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			m.editingID = msgs[i].ID
			m.input.SetValue(msgs[i].Text())
			m.input.CursorEnd()
			m.refresh()
			return m, m.setNotice("editing: enter to resend, esc to cancel")
		}
	}
	return m, m.setNotice("no message to edit")
}

func (m *Model) cancelEdit() {
	m.editingID = ""
	m.input.Reset()
	m.refresh()
}

// turnDone reports failures the conversation does not already show.
func (m *Model) turnDone(err error) tea.Cmd {
	m.refresh()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, display.ErrBusy):
		return m.setNotice("a reply is in progress (esc to stop)")
	case errors.Is(err, client.ErrMessageNotFound),
		errors.Is(err, client.ErrNotUserMessage),
		errors.Is(err, client.ErrNoUserTurn):
		return m.setNotice(err.Error())
	}
	return nil
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.ready = true
	m.layout()
	m.refresh()
}

// layout sizes the viewport to what the header, status bar, input and help
// leave over.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	m.input.SetWidth(m.width)
	m.help.Width = m.width
	m.messages.Width = m.width

	helpHeight := 1
	if m.help.ShowAll {
		helpHeight = len(m.keys.FullHelp()[0])
	}
	// header, status bar, input border
	chrome := 1 + 1 + 1 + inputHeight + helpHeight
	h := m.height - chrome
	if h < 1 {
		h = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
}

// refresh re-renders the conversation from the current display state and
// keeps following the tail when the view was at the bottom.
func (m *Model) refresh() {
	m.snap = m.session.View().Snapshot()
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(components.RenderConversation(m.messages, m.snap, m.editingID))
	if follow {
		m.viewport.GotoBottom()
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
