// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "github.com/jeranaias/rigrun-chat/internal/protocol"

// ApplyChunk folds one content chunk into an assistant message. Reasoning
// and text coalesce with a trailing part of the same kind; tool chunks
// always add a part. Control chunks (stream_continue, error, done) leave
// the message unchanged. It reports whether m changed.
func (m *Message) ApplyChunk(c protocol.Chunk) bool {
	switch c.Kind {
	case protocol.KindReasoning:
		if c.Text == "" {
			return false
		}
		m.AppendText(PartReasoning, c.Text)
	case protocol.KindText:
		if c.Text == "" {
			return false
		}
		m.AppendText(PartText, c.Text)
	case protocol.KindToolCall:
		if c.ToolCall == nil {
			return false
		}
		m.AddPart(Part{
			Type:       PartToolCall,
			ToolCallID: c.ToolCall.ID,
			ToolName:   c.ToolCall.Name,
			Arguments:  c.ToolCall.Arguments,
			Phase:      string(c.ToolCall.Phase),
		})
	case protocol.KindToolResult:
		if c.ToolResult == nil {
			return false
		}
		m.AddPart(Part{
			Type:       PartToolResult,
			ToolCallID: c.ToolResult.ID,
			ToolName:   m.toolNameFor(c.ToolResult.ID),
			Result:     c.ToolResult.Result,
			Error:      c.ToolResult.Error,
			Phase:      string(c.ToolResult.Phase),
		})
	default:
		return false
	}
	return true
}

func (m *Message) toolNameFor(callID string) string {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		if p := m.Parts[i]; p.Type == PartToolCall && p.ToolCallID == callID {
			return p.ToolName
		}
	}
	return ""
}
