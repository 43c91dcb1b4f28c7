// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/ui/components"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

const (
	inputHeight   = 3
	noticeTimeout = 4 * time.Second
	loadTimeout   = 10 * time.Second
)

// =============================================================================
// MESSAGES
// =============================================================================

// changedMsg signals that the display state changed.
type changedMsg struct{}

// turnDoneMsg ends a Send, Edit or Retry.
type turnDoneMsg struct{ err error }

// hydratedMsg reports the initial history load.
type hydratedMsg struct {
	ok  bool
	err error
}

// noticeExpiredMsg clears notice number seq.
type noticeExpiredMsg struct{ seq int }

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model of the chat screen. The conversation itself
// lives in the session's display.Manager; Model re-renders whenever the
// manager reports a change.
type Model struct {
	session *client.Session
	theme   *styles.Theme
	keys    KeyMap

	// Components
	help     help.Model
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	messages components.MessageView

	// Display state
	snap        display.Snapshot
	changes     chan struct{}
	unsubscribe func()

	// Layout
	width  int
	height int
	ready  bool

	// editingID is the user message the input replaces on send.
	editingID string

	notice    string
	noticeSeq int

	ctx context.Context
}

// New creates the chat screen for session.
func New(session *client.Session, theme *styles.Theme) Model {
	ta := textarea.New()
	ta.Placeholder = "Send a message (/help for commands)"
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	keys := DefaultKeyMap()
	ta.KeyMap.InsertNewline = keys.Newline
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	m := Model{
		session:  session,
		theme:    theme,
		keys:     keys,
		help:     help.New(),
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  sp,
		messages: components.MessageView{
			Theme:    theme,
			Markdown: components.NewMarkdown(theme.MarkdownStyle(), theme.ColorProfile),
			Width:    80,
		},
		changes: make(chan struct{}, 1),
		ctx:     context.Background(),
	}

	changes := m.changes
	m.unsubscribe = session.View().Subscribe(func(display.Snapshot) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	m.snap = session.View().Snapshot()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.waitForChange(), m.hydrateCmd())
}

// Close detaches the model from the session and stops any turn.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.session.Stop()
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForChange blocks until the display state changes.
func (m Model) waitForChange() tea.Cmd {
	changes := m.changes
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

func (m Model) hydrateCmd() tea.Cmd {
	s, parent := m.session, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, loadTimeout)
		defer cancel()
		ok, err := s.Hydrate(ctx)
		return hydratedMsg{ok: ok, err: err}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		return turnDoneMsg{err: s.Send(ctx, text)}
	}
}

func (m Model) editCmd(messageID, text string) tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		return turnDoneMsg{err: s.Edit(ctx, messageID, text)}
	}
}

func (m Model) retryCmd(messageID string) tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		return turnDoneMsg{err: s.Retry(ctx, messageID, "")}
	}
}

// setNotice shows text in the status bar for a few seconds.
func (m *Model) setNotice(text string) tea.Cmd {
	m.noticeSeq++
	m.notice = text
	seq := m.noticeSeq
	return tea.Tick(noticeTimeout, func(time.Time) tea.Msg {
		return noticeExpiredMsg{seq: seq}
	})
}
