// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// MaxTitleRunes bounds generated chat titles.
const MaxTitleRunes = 60

// DefaultTitle is used until the first user message arrives.
const DefaultTitle = "New chat"

// Chat is a persisted conversation. UpdatedAt is its last-activity time.
type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// NewChat creates a chat with a generated ID.
func NewChat(model string) Chat {
	now := time.Now()
	return Chat{
		ID:        NewID(),
		Title:     DefaultTitle,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TitleFromText derives a chat title from the first user message.
func TitleFromText(text string) string {
	text = strings.Join(strings.Fields(util.Sanitize(text)), " ")
	if text == "" {
		return DefaultTitle
	}
	return util.TruncateRunes(text, MaxTitleRunes)
}
