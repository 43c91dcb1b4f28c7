// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/display"
)

// RenderConversation renders every message of snap. editingID marks the
// user message being edited, if any.
func RenderConversation(v MessageView, snap display.Snapshot, editingID string) string {
	blocks := make([]string, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		st := MessageState{Editing: msg.ID == editingID}
		if msg.ID == snap.StreamingMessageID && snap.Status.Busy() {
			st.Streaming = true
			st.Reasoning = snap.StreamPhase == display.PhaseReasoning
		}
		if secs, ok := snap.ReasoningDurations[msg.ID]; ok {
			st.ReasoningSeconds, st.HasDuration = secs, true
		} else if msg.Metadata != nil && msg.Metadata.ReasoningSeconds > 0 {
			st.ReasoningSeconds, st.HasDuration = msg.Metadata.ReasoningSeconds, true
		}
		blocks = append(blocks, v.Render(msg, st))
	}
	return strings.Join(blocks, "\n\n")
}
