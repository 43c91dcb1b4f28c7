// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role      string     `json:"role"`                 // "user", "assistant", "system", "tool"
	Content   string     `json:"content"`              // Answer text
	Thinking  string     `json:"thinking,omitempty"`   // Reasoning text (thinking models)
	Images    []string   `json:"images,omitempty"`     // Base64 encoded images
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // Tool calls requested by assistant
	ToolName  string     `json:"tool_name,omitempty"`  // Tool that produced a "tool" message
}

// ToolCall represents a tool invocation from the model.
type ToolCall struct {
	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name and arguments.
type ToolFunction struct {
	Index     int            `json:"index,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Think selects reasoning output: either a boolean switch or an effort
// level ("low", "medium", "high") for models that support levels.
type Think struct {
	value any
}

// ThinkEnabled returns a boolean Think value.
func ThinkEnabled(on bool) *Think {
	return &Think{value: on}
}

// ThinkLevel returns a leveled Think value.
func ThinkLevel(level string) *Think {
	return &Think{value: level}
}

// Level returns the effort level, or "" for boolean values.
func (t *Think) Level() string {
	if t == nil {
		return ""
	}
	s, _ := t.value.(string)
	return s
}

// Enabled reports whether reasoning is requested at all.
func (t *Think) Enabled() bool {
	if t == nil {
		return false
	}
	switch v := t.value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	}
	return false
}

// MarshalJSON encodes the value as a bare bool or string.
func (t Think) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.value)
}

// UnmarshalJSON accepts a bool or one of the level strings.
func (t *Think) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		t.value = b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("think must be a boolean or a level string")
	}
	switch s {
	case "low", "medium", "high":
		t.value = s
		return nil
	case "true", "false":
		t.value = s == "true"
		return nil
	}
	return fmt.Errorf("invalid think level %q", s)
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model     string    `json:"model"`                // Model name (e.g., "qwen3:8b")
	Messages  []Message `json:"messages"`             // Conversation history
	Stream    bool      `json:"stream"`               // Enable streaming
	Think     *Think    `json:"think,omitempty"`      // Reasoning control
	Format    string    `json:"format,omitempty"`     // Response format (e.g., "json")
	Options   *Options  `json:"options,omitempty"`    // Model parameters
	KeepAlive string    `json:"keep_alive,omitempty"` // How long the model stays loaded
	Tools     []Tool    `json:"tools,omitempty"`      // Available tools for function calling
}

// Tool represents a tool definition for function calling.
type Tool struct {
	Type     string     `json:"type"`     // Always "function"
	Function ToolSchema `json:"function"` // Function definition
}

// ToolSchema defines a tool's interface. Parameters is a JSON Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Options contains model parameters for inference.
type Options struct {
	Temperature   float64  `json:"temperature,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	NumCtx        int      `json:"num_ctx,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is one line of a /api/chat response.
type ChatResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            Message   `json:"message"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`       // nanoseconds
	LoadDuration       int64     `json:"load_duration,omitempty"`        // nanoseconds
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`    // number of tokens in prompt
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"` // nanoseconds
	EvalCount          int       `json:"eval_count,omitempty"`           // number of tokens generated
	EvalDuration       int64     `json:"eval_duration,omitempty"`        // nanoseconds
	Error              string    `json:"error,omitempty"`                // set when generation fails mid-stream
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo contains information about a model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ShowModelRequest is the request for /api/show endpoint.
type ShowModelRequest struct {
	Model string `json:"model"`
}

// ShowModelResponse is the response from /api/show endpoint.
type ShowModelResponse struct {
	License      string       `json:"license"`
	Modelfile    string       `json:"modelfile"`
	Parameters   string       `json:"parameters"`
	Template     string       `json:"template"`
	Details      ModelDetails `json:"details"`
	Capabilities []string     `json:"capabilities,omitempty"` // e.g. "completion", "tools", "thinking", "vision"
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single event from a streaming chat response.
type StreamChunk struct {
	// Reasoning text carried by this event (message.thinking)
	Thinking string

	// Answer text carried by this event (message.content)
	Content string

	// Tool calls requested by the model
	ToolCalls []ToolCall

	// Populated on the final event
	Done             bool
	DoneReason       string
	TotalDuration    time.Duration
	EvalDuration     time.Duration
	PromptTokens     int
	CompletionTokens int

	Model string
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// NewToolResultMessage creates a tool result message.
func NewToolResultMessage(toolName, content string) Message {
	return Message{Role: "tool", Content: content, ToolName: toolName}
}

// NewAssistantMessageWithTools creates an assistant message with tool calls.
func NewAssistantMessageWithTools(content, thinking string, toolCalls []ToolCall) Message {
	return Message{
		Role:      "assistant",
		Content:   content,
		Thinking:  thinking,
		ToolCalls: toolCalls,
	}
}

// HasToolCalls returns true if the message contains tool calls.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// TokensPerSecond calculates the generation speed of a final stream event.
func (c *StreamChunk) TokensPerSecond() float64 {
	if c.EvalDuration <= 0 {
		return 0
	}
	return float64(c.CompletionTokens) / c.EvalDuration.Seconds()
}
