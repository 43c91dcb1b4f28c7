// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components renders the pieces of the chat screen: messages with
// their reasoning, tool and error blocks, the conversation as a whole and
// the status bar. Components are plain values rendered with a
// styles.Theme; they hold no Bubble Tea state.
package components
