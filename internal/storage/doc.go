// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats and their messages in SQLite.
//
// The store is the eventual source of truth for a conversation. While a
// response is streaming the relay writes the assistant message repeatedly
// (see internal/stream); clients read it back to hydrate their view.
//
// # Key Types
//
//   - Store: SQLite-backed chat and message store
//   - StoreError: Typed error comparable with errors.Is
//
// # Usage
//
//	st, err := storage.Open(path)
//	err = st.CreateChat(ctx, model.NewChat("qwen3:8b"))
//	err = st.UpsertMessage(ctx, chatID, msg)
//	msgs, err := st.GetMessages(ctx, chatID)
//	n, err := st.DeleteMessagesFrom(ctx, chatID, msgID)
//
// # Storage Location
//
// The database lives at ~/.rigrun-chat/chats.db unless configured otherwise.
package storage
