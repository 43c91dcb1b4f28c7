// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns Ollama's streaming chat responses into the
// line-delimited chunk protocol of internal/protocol.
//
// A Handler serves POST /api/chat. It validates the request, resolves the
// reasoning option, probes tool support, and drives a Loop: one backend
// invocation per round, executing the tool calls a round requests and
// feeding their results back until a round requests none. Reasoning and
// answer text pass through one normalize.Normalizer each.
//
// When the request names a chat, a Persister writes the growing assistant
// message to the store from a background goroutine, at most once per
// throttle interval, and always once more when the stream ends. Storage
// failures are logged and never reach the client.
//
// # Failure Reporting
//
// Failures before the first chunk is written become an HTTP error with a
// JSON body ({"error", "code"}). Failures after that become one in-band
// error chunk. A client that disconnects stops generation and receives
// nothing further.
package stream
