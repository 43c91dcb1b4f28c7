// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the line-delimited chat stream protocol spoken
// between the rigrun-chat server and its clients.
//
// A response body is a sequence of JSON objects, one per line, each tagged
// by a "kind" field:
//
//	{"kind":"reasoning","text":"..."}
//	{"kind":"text","text":"..."}
//	{"kind":"tool_call","toolCall":{"id":"...","name":"...","arguments":{},"phase":"response"}}
//	{"kind":"tool_result","toolResult":{"id":"...","result":...,"phase":"response"}}
//	{"kind":"stream_continue"}
//	{"kind":"error","error":"..."}
//	{"kind":"done"}
//
// A successful stream ends with exactly one done chunk. Chunks are never
// replayed or reordered.
package protocol
