// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package display maintains the client's view of a conversation while
// responses stream in.
//
// A Manager is the only writer of that view. It applies protocol chunks to
// a single open assistant message, tracks the turn status
// (ready, submitted, streaming, error) and the stream phase, and decides
// whether persisted history may replace the live view. Renderers subscribe
// and receive a Snapshot after every change.
package display
