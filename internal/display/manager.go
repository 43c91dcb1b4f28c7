// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package display

import (
	"errors"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
)

// =============================================================================
// STATUS AND PHASE
// =============================================================================

// Status is the turn state of the conversation.
type Status string

const (
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Busy reports whether a turn is in flight.
func (s Status) Busy() bool {
	return s == StatusSubmitted || s == StatusStreaming
}

// Phase is what the open assistant message is currently receiving.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseReasoning Phase = "reasoning"
	PhaseAnswer    Phase = "answer"
)

// ErrBusy is returned by BeginSubmit while a turn is in flight.
var ErrBusy = errors.New("display: a turn is already in progress")

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable copy of the conversation state.
type Snapshot struct {
	Messages           []model.Message
	Status             Status
	StreamPhase        Phase
	StreamingMessageID string
	ReasoningStartedAt time.Time
	ReasoningDurations map[string]float64
}

// Streaming returns the open assistant message, if any.
func (s Snapshot) Streaming() (model.Message, bool) {
	if s.StreamingMessageID == "" {
		return model.Message{}, false
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID == s.StreamingMessageID {
			return s.Messages[i], true
		}
	}
	return model.Message{}, false
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the live conversation view. All mutation goes through its
// methods; subscribers are notified after every change, outside the lock.
type Manager struct {
	mu sync.Mutex

	messages    []model.Message
	status      Status
	phase       Phase
	streamingID string

	reasoningStart time.Time
	durations      map[string]float64

	subs   map[int]func(Snapshot)
	nextID int

	now func() time.Time
}

// New creates an empty manager in the ready state.
func New() *Manager {
	return &Manager{
		status:    StatusReady,
		phase:     PhaseIdle,
		durations: make(map[string]float64),
		subs:      make(map[int]func(Snapshot)),
		now:       time.Now,
	}
}

// Subscribe registers fn to receive a snapshot after each change. The
// returned func removes it.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// commit notifies subscribers. It must be called without m.mu held.
func (m *Manager) commit() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// =============================================================================
// GETTERS
// =============================================================================

// Messages returns a copy of the conversation.
func (m *Manager) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneMessages(m.messages)
}

// Status returns the turn status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// StreamPhase returns the phase of the open assistant message.
func (m *Manager) StreamPhase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// StreamingMessageID returns the id of the open assistant message, or "".
func (m *Manager) StreamingMessageID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamingID
}

// ReasoningDuration returns the recorded reasoning time of a message.
func (m *Manager) ReasoningDuration(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.durations[id]
	return d, ok
}

// Snapshot returns a copy of the whole state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	durations := make(map[string]float64, len(m.durations))
	for k, v := range m.durations {
		durations[k] = v
	}
	return Snapshot{
		Messages:           model.CloneMessages(m.messages),
		Status:             m.status,
		StreamPhase:        m.phase,
		StreamingMessageID: m.streamingID,
		ReasoningStartedAt: m.reasoningStart,
		ReasoningDurations: durations,
	}
}

// =============================================================================
// CONVERSATION EDITS
// =============================================================================

// AddUserMessage appends a user message and returns it. Error placeholders
// are cleared first.
func (m *Manager) AddUserMessage(text string, attachments ...model.Part) model.Message {
	msg := model.NewUserMessage(text, attachments...)

	m.mu.Lock()
	m.clearErrorsLocked()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()

	m.commit()
	return msg.Clone()
}

// RemoveMessagesAfter keeps id and drops everything after it. It reports
// whether id was found.
func (m *Manager) RemoveMessagesAfter(id string) bool {
	return m.truncate(id, 1)
}

// RemoveMessagesFrom drops id and everything after it. It reports whether
// id was found.
func (m *Manager) RemoveMessagesFrom(id string) bool {
	return m.truncate(id, 0)
}

func (m *Manager) truncate(id string, keep int) bool {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	cut := idx + keep
	for _, msg := range m.messages[cut:] {
		delete(m.durations, msg.ID)
	}
	m.messages = m.messages[:cut:cut]
	if m.streamingID != "" && m.indexLocked(m.streamingID) < 0 {
		m.closeTurnLocked(StatusReady)
	}
	m.mu.Unlock()

	m.commit()
	return true
}

func (m *Manager) indexLocked(id string) int {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// clearErrorsLocked removes every error placeholder.
func (m *Manager) clearErrorsLocked() {
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if !msg.IsErrorPlaceholder() {
			kept = append(kept, msg)
		}
	}
	clear(m.messages[len(kept):])
	m.messages = kept
}

// =============================================================================
// STREAMING
// =============================================================================

// BeginSubmit moves a ready or failed conversation to submitted and makes
// assistantID the message that will receive chunks. Error placeholders are
// cleared.
func (m *Manager) BeginSubmit(assistantID string) error {
	m.mu.Lock()
	if m.status.Busy() {
		m.mu.Unlock()
		return ErrBusy
	}
	m.clearErrorsLocked()
	m.status = StatusSubmitted
	m.phase = PhaseIdle
	m.streamingID = assistantID
	m.reasoningStart = time.Time{}
	m.mu.Unlock()

	m.commit()
	return nil
}

// UpdateStreamingMessage applies one chunk to the open assistant message.
// Chunks for any other assistant id, or arriving when no turn is in
// flight, are dropped.
func (m *Manager) UpdateStreamingMessage(c protocol.Chunk, assistantID string) {
	m.mu.Lock()
	if !m.status.Busy() || assistantID == "" || assistantID != m.streamingID {
		m.mu.Unlock()
		return
	}
	if m.status == StatusSubmitted {
		m.status = StatusStreaming
	}

	switch c.Kind {
	case protocol.KindReasoning, protocol.KindText, protocol.KindToolCall, protocol.KindToolResult:
		msg := m.openMessageLocked()
		msg.ApplyChunk(c)
		switch c.Kind {
		case protocol.KindReasoning:
			if c.Text != "" {
				if m.reasoningStart.IsZero() {
					if _, done := m.durations[m.streamingID]; !done {
						m.reasoningStart = m.now()
					}
				}
				if m.phase == PhaseIdle {
					m.phase = PhaseReasoning
				}
			}
		case protocol.KindText:
			if c.Text != "" {
				m.phase = PhaseAnswer
			}
		}
	case protocol.KindStreamContinue:
		// The next round appends to the same message.
	case protocol.KindError:
		text := c.Error
		if text == "" {
			text = protocol.Message(protocol.CodeInferenceFailed)
		}
		m.failLocked(text, protocol.CodeInferenceFailed, true)
	case protocol.KindDone:
		m.finalizeReasoningLocked()
		m.closeTurnLocked(StatusReady)
	}
	m.mu.Unlock()

	m.commit()
}

// openMessageLocked returns the open assistant message, appending a fresh
// one when the tail is anything else.
func (m *Manager) openMessageLocked() *model.Message {
	if n := len(m.messages); n > 0 {
		last := &m.messages[n-1]
		if last.Role == model.RoleAssistant && last.ID == m.streamingID {
			return last
		}
	}
	m.messages = append(m.messages, model.NewAssistantMessage(m.streamingID))
	return &m.messages[len(m.messages)-1]
}

// FinalizeReasoning stops the reasoning timer and records the elapsed
// seconds against the open assistant message.
func (m *Manager) FinalizeReasoning() {
	m.mu.Lock()
	changed := m.finalizeReasoningLocked()
	m.mu.Unlock()
	if changed {
		m.commit()
	}
}

func (m *Manager) finalizeReasoningLocked() bool {
	if m.reasoningStart.IsZero() || m.streamingID == "" {
		return false
	}
	secs := m.now().Sub(m.reasoningStart).Seconds()
	m.durations[m.streamingID] = secs
	m.reasoningStart = time.Time{}
	if idx := m.indexLocked(m.streamingID); idx >= 0 {
		msg := &m.messages[idx]
		if msg.Metadata == nil {
			msg.Metadata = &model.Metadata{}
		}
		msg.Metadata.ReasoningSeconds = secs
	}
	return true
}

// closeTurnLocked ends the open turn with the given status.
func (m *Manager) closeTurnLocked(status Status) {
	m.status = status
	m.phase = PhaseIdle
	m.streamingID = ""
	m.reasoningStart = time.Time{}
}

// AddErrorMessage shows a failed turn. An existing trailing placeholder is
// updated in place; otherwise one is appended. The open turn, if any, is
// closed. An open assistant message that received nothing is replaced by
// the placeholder, which takes over its id.
func (m *Manager) AddErrorMessage(text string, code protocol.Code, retryable bool) {
	m.mu.Lock()
	m.failLocked(text, code, retryable)
	m.mu.Unlock()
	m.commit()
}

func (m *Manager) failLocked(text string, code protocol.Code, retryable bool) {
	m.finalizeReasoningLocked()
	id := m.streamingID
	if id != "" {
		if idx := m.indexLocked(id); idx >= 0 {
			if m.messages[idx].IsEmpty() {
				m.messages = append(m.messages[:idx], m.messages[idx+1:]...)
			} else {
				id = ""
			}
		}
	}
	m.closeTurnLocked(StatusError)

	if n := len(m.messages); n > 0 && m.messages[n-1].IsErrorPlaceholder() {
		last := &m.messages[n-1]
		last.Parts = []model.Part{model.TextPart(text)}
		last.Metadata.ErrorCode = string(code)
		last.Metadata.Retryable = retryable
		last.UpdatedAt = m.now()
		return
	}
	msg := model.NewErrorMessage(text, string(code), retryable)
	if id != "" {
		msg.ID = id
	}
	m.messages = append(m.messages, msg)
}

// Abort ends an in-flight turn locally: status returns to ready, partial
// output is kept and an empty open message is dropped.
func (m *Manager) Abort() {
	m.mu.Lock()
	if !m.status.Busy() {
		m.mu.Unlock()
		return
	}
	m.finalizeReasoningLocked()
	if idx := m.indexLocked(m.streamingID); idx >= 0 && m.messages[idx].IsEmpty() {
		m.messages = append(m.messages[:idx], m.messages[idx+1:]...)
	}
	m.closeTurnLocked(StatusReady)
	m.mu.Unlock()

	m.commit()
}

// Reset empties the conversation.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.messages = nil
	m.durations = make(map[string]float64)
	m.closeTurnLocked(StatusReady)
	m.mu.Unlock()

	m.commit()
}

// =============================================================================
// HYDRATION
// =============================================================================

// Hydrate replaces the live view with persisted history when that cannot
// destroy live state. It is always refused while a turn is in flight.
// Otherwise it is accepted when:
//
//   - the live view is empty;
//   - persisted history is strictly longer;
//   - the live tail is an error placeholder and persisted history covers
//     everything before it;
//   - status is ready and the lengths differ by more than one.
//
// Accepted hydration drops live error placeholders and returns status to
// ready. It reports whether the data was accepted.
func (m *Manager) Hydrate(persisted []model.Message) bool {
	m.mu.Lock()
	if !m.acceptsLocked(len(persisted)) {
		m.mu.Unlock()
		return false
	}

	m.messages = model.CloneMessages(persisted)
	m.durations = make(map[string]float64)
	for _, msg := range m.messages {
		if msg.Metadata != nil && msg.Metadata.ReasoningSeconds > 0 {
			m.durations[msg.ID] = msg.Metadata.ReasoningSeconds
		}
	}
	m.closeTurnLocked(StatusReady)
	m.mu.Unlock()

	m.commit()
	return true
}

func (m *Manager) acceptsLocked(n int) bool {
	if m.status.Busy() {
		return false
	}
	live := len(m.messages)
	switch {
	case live == 0:
		return true
	case n > live:
		return true
	case m.messages[live-1].IsErrorPlaceholder() && n >= live-1:
		return true
	case m.status == StatusReady && abs(n-live) > 1:
		return true
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
