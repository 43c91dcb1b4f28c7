// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// These types are shared by the server (persistence, streaming) and the
// client (display state). A Message is an ordered list of typed parts so
// that reasoning, answer text and tool activity stay distinct within one
// assistant turn.
//
// # Key Types
//
//   - Chat: A persisted conversation with title, model and last activity
//   - Message: Single message with role, ordered parts and optional metadata
//   - Part: One typed fragment (text, reasoning, image, file, tool call, tool result)
//   - Role: Message role enumeration (user, assistant, system, tool)
//
// # Usage
//
//	msg := model.NewAssistantMessage(id)
//	msg.AppendText(model.PartReasoning, "thinking...")
//	msg.AppendText(model.PartText, "Hello!")
package model
