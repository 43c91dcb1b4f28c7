// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"fmt"
	"strings"
)

// Request limits.
const (
	// MaxMessageCount is the maximum number of messages in a request.
	MaxMessageCount = 200

	// MaxMessageLength is the maximum length of one message's content.
	MaxMessageLength = 100000

	// MaxRequestBodySize bounds the request body, images included (16MB).
	MaxRequestBodySize = 16 * 1024 * 1024
)

// validRoles defines the set of acceptable message roles.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
	"tool":      true,
}

// validLevels are the accepted reasoning levels.
var validLevels = map[string]bool{"low": true, "medium": true, "high": true}

// RequestMessage is one message of a chat request.
type RequestMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64, no data: prefix
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string           `json:"model,omitempty"`
	Messages []RequestMessage `json:"messages"`

	// Think is a boolean or one of "low", "medium", "high".
	Think any `json:"think,omitempty"`

	// ReasoningLevel overrides Think when set.
	ReasoningLevel string `json:"reasoningLevel,omitempty"`

	// ChatID and AssistantMessageID enable persistence of the response.
	ChatID             string `json:"chatId,omitempty"`
	AssistantMessageID string `json:"assistantMessageId,omitempty"`

	EnableTools bool `json:"enableTools,omitempty"`
}

// Validate checks message count, roles, lengths and the reasoning options.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	if len(r.Messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, msg := range r.Messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role '%s' at message %d: must be one of user, assistant, system, tool", msg.Role, i)
		}
		if len(msg.Content) > MaxMessageLength {
			return fmt.Errorf("message %d exceeds maximum length of %d", i, MaxMessageLength)
		}
		for j, img := range msg.Images {
			if strings.HasPrefix(img, "data:") {
				return fmt.Errorf("image %d of message %d must be raw base64, not a data URL", j, i)
			}
		}
	}
	if r.ReasoningLevel != "" && !validLevels[r.ReasoningLevel] {
		return fmt.Errorf("invalid reasoningLevel %q: must be low, medium or high", r.ReasoningLevel)
	}
	switch v := r.Think.(type) {
	case nil, bool:
	case string:
		if !validLevels[v] {
			return fmt.Errorf("invalid think value %q", v)
		}
	default:
		return fmt.Errorf("think must be a boolean or a level string")
	}
	if (r.ChatID == "") != (r.AssistantMessageID == "") {
		return fmt.Errorf("chatId and assistantMessageId must be given together")
	}
	return nil
}
