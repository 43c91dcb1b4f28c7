// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/client"
	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeTransport struct {
	mu       sync.Mutex
	reply    string
	getErr   error
	requests []protocol.ChatRequest
	deletes  []string
}

func (f *fakeTransport) Chat(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	var sb strings.Builder
	for _, c := range []protocol.Chunk{
		protocol.Reasoning("thinking it over"),
		protocol.Text(f.reply),
		protocol.Done(),
	} {
		line, _ := json.Marshal(c)
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return io.NopCloser(strings.NewReader(sb.String())), nil
}

func (f *fakeTransport) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	return nil, f.getErr
}

func (f *fakeTransport) SaveMessage(ctx context.Context, chatID string, msg model.Message) error {
	return nil
}

func (f *fakeTransport) DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return 1, nil
}

func (f *fakeTransport) lastRequest(t *testing.T) protocol.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

// =============================================================================
// HELPERS
// =============================================================================

func newTestModel(t *testing.T) (Model, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{reply: "The answer."}
	s := client.NewSession(tr, display.New(), client.SessionConfig{ChatID: "chat-1", Tools: true})
	m := New(s, styles.NewTheme("dark"))
	t.Cleanup(m.Close)
	return update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40}), tr
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

// typeAndSend types text and presses enter, running the resulting turn.
func typeAndSend(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	return update(t, m, cmd())
}

// =============================================================================
// TESTS
// =============================================================================

func TestView_BeforeSize(t *testing.T) {
	tr := &fakeTransport{}
	s := client.NewSession(tr, display.New(), client.SessionConfig{})
	m := New(s, styles.NewTheme("dark"))
	defer m.Close()
	assert.Contains(t, m.View(), "loading")
}

func TestSend_RendersConversation(t *testing.T) {
	m, tr := newTestModel(t)

	m = typeAndSend(t, m, "hello there")

	assert.Empty(t, m.input.Value())
	assert.Equal(t, display.StatusReady, m.snap.Status)
	require.Len(t, m.snap.Messages, 2)

	view := m.View()
	assert.Contains(t, view, "hello there")
	assert.Contains(t, view, "The answer.")
	assert.Contains(t, view, "Thought for")
	assert.NotContains(t, view, "thinking it over")

	req := tr.lastRequest(t)
	assert.Equal(t, "chat-1", req.ChatID)
	assert.True(t, req.EnableTools)
}

func TestSend_IgnoresBlankInput(t *testing.T) {
	m, tr := newTestModel(t)
	m.input.SetValue("   ")
	_, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, tr.requests)
}

func TestExpandReasoning(t *testing.T) {
	m, _ := newTestModel(t)
	m = typeAndSend(t, m, "hi")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlO})
	assert.Contains(t, m.View(), "thinking it over")
}

func TestEditLast_ResendsAndTruncates(t *testing.T) {
	m, tr := newTestModel(t)
	m = typeAndSend(t, m, "first draft")
	userID := m.snap.Messages[0].ID

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	assert.Equal(t, userID, m.editingID)
	assert.Equal(t, "first draft", m.input.Value())
	assert.Contains(t, m.View(), "(editing)")

	tr.reply = "Second answer."
	m = typeAndSend(t, m, "second draft")

	assert.Empty(t, m.editingID)
	assert.Equal(t, []string{userID}, tr.deletes)
	require.Len(t, m.snap.Messages, 2)
	assert.Equal(t, "second draft", m.snap.Messages[0].Text())
	assert.Equal(t, "Second answer.", m.snap.Messages[1].Text())

	req := tr.lastRequest(t)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "second draft", req.Messages[0].Content)
}

func TestEditLast_EscCancels(t *testing.T) {
	m, _ := newTestModel(t)
	m = typeAndSend(t, m, "draft")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEscape})
	assert.Empty(t, m.editingID)
	assert.Empty(t, m.input.Value())
}

func TestEditLast_NothingToEdit(t *testing.T) {
	m, _ := newTestModel(t)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	assert.Equal(t, "no message to edit", m.notice)
}

func TestRetryLast(t *testing.T) {
	m, tr := newTestModel(t)
	m = typeAndSend(t, m, "question")
	assistantID := m.snap.Messages[1].ID

	tr.reply = "Another take."
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	assert.Equal(t, []string{assistantID}, tr.deletes)
	require.Len(t, m.snap.Messages, 2)
	assert.Equal(t, "Another take.", m.snap.Messages[1].Text())
	assert.Len(t, tr.requests, 2)
}

func TestRetryLast_Empty(t *testing.T) {
	m, _ := newTestModel(t)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, "nothing to retry", m.notice)
}

func TestBusy_RejectsSendAndEscStops(t *testing.T) {
	m, tr := newTestModel(t)
	view := m.session.View()
	view.AddUserMessage("pending")
	require.NoError(t, view.BeginSubmit("a1"))
	m = update(t, m, changedMsg{})
	require.Equal(t, display.StatusSubmitted, m.snap.Status)

	m.input.SetValue("another")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, m.notice, "in progress")
	assert.Equal(t, "another", m.input.Value())
	assert.Empty(t, tr.requests)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEscape})
	m = update(t, m, changedMsg{})
	assert.Equal(t, display.StatusReady, m.snap.Status)
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestChangedMsg_RefreshesAndRearms(t *testing.T) {
	m, _ := newTestModel(t)
	m.session.View().AddUserMessage("from elsewhere")

	m, cmd := updateCmd(t, m, changedMsg{})
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "from elsewhere")
}

func TestHydrateFailure_ShowsNotice(t *testing.T) {
	m, tr := newTestModel(t)
	tr.getErr = errors.New("connection refused")

	msg := m.hydrateCmd()()
	m = update(t, m, msg)
	assert.Contains(t, m.notice, "could not load history")
}

func TestNoticeExpires(t *testing.T) {
	m, _ := newTestModel(t)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, "tools off", m.notice)
	assert.False(t, m.session.Tools())

	m = update(t, m, noticeExpiredMsg{seq: m.noticeSeq - 1})
	assert.Equal(t, "tools off", m.notice)
	m = update(t, m, noticeExpiredMsg{seq: m.noticeSeq})
	assert.Empty(t, m.notice)
}

func TestSlashCommands(t *testing.T) {
	tests := []struct {
		line   string
		notice string
		check  func(t *testing.T, m Model)
	}{
		{"/model llama3.2", "model set to llama3.2", func(t *testing.T, m Model) {
			assert.Equal(t, "llama3.2", m.session.Model())
		}},
		{"/model", "model: server default", nil},
		{"/reasoning high", "reasoning set to high", func(t *testing.T, m Model) {
			assert.Equal(t, "high", m.session.ReasoningLevel())
		}},
		{"/reasoning loud", `invalid reasoning level "loud"`, nil},
		{"/tools off", "tools off", func(t *testing.T, m Model) {
			assert.False(t, m.session.Tools())
		}},
		{"/chat", "chat chat-1", nil},
		{"/bogus", "unknown command /bogus (try /help)", nil},
		{"/help", "/chat", nil},
		{"/expand", "", func(t *testing.T, m Model) {
			assert.True(t, m.messages.ShowReasoning)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m, tr := newTestModel(t)
			m.input.SetValue(tt.line)
			m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

			assert.Empty(t, m.input.Value())
			assert.Empty(t, tr.requests)
			if tt.notice != "" {
				assert.Contains(t, m.notice, tt.notice)
			}
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestSlashQuit(t *testing.T) {
	m, _ := newTestModel(t)
	m.input.SetValue("/exit")
	_, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
