// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleTool:
		return "Tool"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// =============================================================================
// PART TYPE
// =============================================================================

// PartType discriminates the fragments of a message.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartImage      PartType = "image"
	PartFile       PartType = "file"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one typed fragment of a message. Only the fields relevant to
// Type are populated.
type Part struct {
	Type PartType `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// image, file
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"` // base64 payload
	URL       string `json:"url,omitempty"`
	Name      string `json:"name,omitempty"`

	// tool_call, tool_result
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Phase      string         `json:"phase,omitempty"`
}

// TextPart returns a text part.
func TextPart(s string) Part {
	return Part{Type: PartText, Text: s}
}

// ReasoningPart returns a reasoning part.
func ReasoningPart(s string) Part {
	return Part{Type: PartReasoning, Text: s}
}

// ImagePart returns an inline image part from base64 data.
func ImagePart(mediaType, data string) Part {
	return Part{Type: PartImage, MediaType: mediaType, Data: data}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Metadata carries out-of-band facts about a message.
type Metadata struct {
	IsError          bool    `json:"isError,omitempty"`
	Retryable        bool    `json:"retryable,omitempty"`
	ErrorCode        string  `json:"errorCode,omitempty"`
	Model            string  `json:"model,omitempty"`
	ReasoningSeconds float64 `json:"reasoningSeconds,omitempty"`

	// Interrupted marks a real reply whose stream failed part way. The
	// content is kept; ErrorCode says why it stopped.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Message represents a single message in a chat.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId,omitempty"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// NewMessage creates a message with a generated ID.
func NewMessage(role Role, parts ...Part) Message {
	now := time.Now()
	return Message{
		ID:        NewID(),
		Role:      role,
		Parts:     parts,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewUserMessage creates a user message from text and optional attachments.
func NewUserMessage(text string, attachments ...Part) Message {
	parts := make([]Part, 0, 1+len(attachments))
	if text != "" {
		parts = append(parts, TextPart(text))
	}
	parts = append(parts, attachments...)
	return NewMessage(RoleUser, parts...)
}

// NewAssistantMessage creates an empty assistant message. An empty id is
// replaced by a generated one.
func NewAssistantMessage(id string) Message {
	msg := NewMessage(RoleAssistant)
	if id != "" {
		msg.ID = id
	}
	return msg
}

// NewErrorMessage creates the synthetic assistant message shown when a turn
// fails.
func NewErrorMessage(text, code string, retryable bool) Message {
	msg := NewMessage(RoleAssistant, TextPart(text))
	msg.Metadata = &Metadata{IsError: true, ErrorCode: code, Retryable: retryable}
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendText extends the trailing part when it has the same type, otherwise
// starts a new part. Only text and reasoning parts are coalesced.
func (m *Message) AppendText(kind PartType, s string) {
	if s == "" {
		return
	}
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == kind {
		m.Parts[n-1].Text += s
	} else {
		m.Parts = append(m.Parts, Part{Type: kind, Text: s})
	}
	m.UpdatedAt = time.Now()
}

// AddPart appends a part without coalescing.
func (m *Message) AddPart(p Part) {
	m.Parts = append(m.Parts, p)
	m.UpdatedAt = time.Now()
}

// Text returns the concatenated answer text.
func (m *Message) Text() string {
	return m.joined(PartText)
}

// Reasoning returns the concatenated reasoning text.
func (m *Message) Reasoning() string {
	return m.joined(PartReasoning)
}

func (m *Message) joined(kind PartType) string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == kind {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// PartsOf returns the parts of the given type in order.
func (m *Message) PartsOf(kind PartType) []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == kind {
			out = append(out, p)
		}
	}
	return out
}

// ToolCalls returns the tool_call parts in order.
func (m *Message) ToolCalls() []Part {
	return m.PartsOf(PartToolCall)
}

// IsErrorPlaceholder reports whether the message is a synthetic error: an
// error-tagged message holding nothing but the error text.
func (m *Message) IsErrorPlaceholder() bool {
	if m.Metadata == nil || !m.Metadata.IsError {
		return false
	}
	return len(m.Parts) == 1 && m.Parts[0].Type == PartText
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	for _, p := range m.Parts {
		if p.Type != PartText && p.Type != PartReasoning {
			return false
		}
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

// Preview returns a single-line, rune-safe preview of the answer text.
func (m *Message) Preview(maxLen int) string {
	text := strings.Join(strings.Fields(m.Text()), " ")
	return util.TruncateRunes(text, maxLen)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			if p.Arguments != nil {
				args := make(map[string]any, len(p.Arguments))
				for k, v := range p.Arguments {
					args[k] = v
				}
				p.Arguments = args
			}
			out.Parts[i] = p
		}
	}
	if m.Metadata != nil {
		md := *m.Metadata
		out.Metadata = &md
	}
	return out
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
