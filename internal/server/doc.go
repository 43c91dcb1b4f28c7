// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat relay over HTTP.
//
// # Endpoints
//
//   - POST   /api/chat                       - streaming chat (NDJSON chunks)
//   - GET    /api/chats                      - list chats, most recent first
//   - POST   /api/chats                      - create a chat
//   - GET    /api/chats/{id}                 - chat record
//   - PATCH  /api/chats/{id}                 - rename
//   - DELETE /api/chats/{id}                 - delete with its messages
//   - GET    /api/chats/{id}/export          - Markdown or JSON transcript
//   - GET    /api/chats/{id}/messages        - persisted history
//   - POST   /api/chats/{id}/messages        - upsert one message
//   - DELETE /api/chats/{id}/messages?from=  - delete a message and its suffix
//   - GET    /api/models                     - installed Ollama models
//   - GET    /api/models/{name}/capabilities - capability probe
//   - GET    /api/tools                      - advertised tool schemas
//   - GET    /api/mcp                        - MCP server status
//   - GET    /api/usage                      - token usage per model
//   - GET    /health                         - backend and store health
//   - GET    /metrics                        - Prometheus metrics
//
// Failures outside a stream use the body {"error": "...", "code": "..."}.
//
// # Middleware
//
// Every request passes recovery, security headers and optional CORS. The
// /api routes add per-IP rate limiting and an optional bearer token.
// Request logging forwards http.Flusher so chat chunks reach the client as
// they are produced.
package server
