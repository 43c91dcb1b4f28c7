// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// This package implements the parts of the Ollama API rigrun-chat relies on:
// streaming chat with reasoning ("thinking") output and tool calling, model
// listing, and the per-model capability probe.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ChatRequest: Request structure for /api/chat, including Think and Tools
//   - ChatStream: An accepted streaming response read with Recv
//   - StreamChunk: One streamed event (thinking, content, tool calls)
//   - ClientError: Typed error with sentinel values for errors.Is
//
// # Usage
//
//	client := ollama.NewClient()
//	stream, err := client.OpenChatStream(ctx, ollama.ChatRequest{
//	    Model:    "qwen3:8b",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	    Think:    ollama.ThinkEnabled(true),
//	})
//	if err != nil {
//	    // ollama.IsNotRunning(err), ollama.IsModelNotFound(err), ...
//	}
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(chunk.Content)
//	}
package ollama
