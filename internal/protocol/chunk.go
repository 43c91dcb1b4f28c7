// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "fmt"

// Kind tags a chunk.
type Kind string

const (
	KindReasoning      Kind = "reasoning"
	KindText           Kind = "text"
	KindToolCall       Kind = "tool_call"
	KindToolResult     Kind = "tool_result"
	KindStreamContinue Kind = "stream_continue"
	KindError          Kind = "error"
	KindDone           Kind = "done"
)

// Terminal reports whether no further chunks follow a chunk of this kind.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Phase records whether a tool call happened while the model was reasoning
// or while it was answering.
type Phase string

const (
	PhaseReasoning Phase = "reasoning"
	PhaseResponse  Phase = "response"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Phase     Phase          `json:"phase"`
}

// ToolResult is the outcome of a ToolCall with the same ID. Exactly one of
// Result or Error is meaningful.
type ToolResult struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Phase  Phase  `json:"phase"`
}

// Failed reports whether the tool call failed.
func (r *ToolResult) Failed() bool {
	return r.Error != ""
}

// Chunk is one line of the stream.
type Chunk struct {
	Kind       Kind        `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Reasoning returns a reasoning chunk.
func Reasoning(s string) Chunk { return Chunk{Kind: KindReasoning, Text: s} }

// Text returns an answer text chunk.
func Text(s string) Chunk { return Chunk{Kind: KindText, Text: s} }

// Call returns a tool_call chunk.
func Call(tc ToolCall) Chunk { return Chunk{Kind: KindToolCall, ToolCall: &tc} }

// Result returns a tool_result chunk.
func Result(tr ToolResult) Chunk { return Chunk{Kind: KindToolResult, ToolResult: &tr} }

// Continue returns a stream_continue chunk.
func Continue() Chunk { return Chunk{Kind: KindStreamContinue} }

// Errorf returns an error chunk.
func Errorf(format string, args ...any) Chunk {
	return Chunk{Kind: KindError, Error: fmt.Sprintf(format, args...)}
}

// Done returns the terminal done chunk.
func Done() Chunk { return Chunk{Kind: KindDone} }

// Validate checks that the payload required by Kind is present.
func (c Chunk) Validate() error {
	switch c.Kind {
	case KindReasoning, KindText, KindStreamContinue, KindDone:
		return nil
	case KindToolCall:
		if c.ToolCall == nil || c.ToolCall.ID == "" || c.ToolCall.Name == "" {
			return fmt.Errorf("tool_call chunk missing id or name")
		}
	case KindToolResult:
		if c.ToolResult == nil || c.ToolResult.ID == "" {
			return fmt.Errorf("tool_result chunk missing id")
		}
	case KindError:
		if c.Error == "" {
			return fmt.Errorf("error chunk missing message")
		}
	default:
		return fmt.Errorf("unknown chunk kind %q", c.Kind)
	}
	return nil
}
