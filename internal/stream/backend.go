// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// EventStream is an open backend response.
type EventStream interface {
	// Recv returns the next event, or io.EOF after the final one.
	Recv() (ollama.StreamChunk, error)
	Close() error
}

// Backend starts streaming chat requests. Errors returned by OpenStream
// happen before any event exists.
type Backend interface {
	OpenStream(ctx context.Context, req ollama.ChatRequest) (EventStream, error)
}

// CapabilityProbe answers whether a model accepts tool definitions.
type CapabilityProbe interface {
	SupportsTools(ctx context.Context, model string) (bool, error)
}

// OllamaBackend adapts *ollama.Client to Backend.
type OllamaBackend struct {
	Client *ollama.Client
}

// OpenStream implements Backend.
func (b OllamaBackend) OpenStream(ctx context.Context, req ollama.ChatRequest) (EventStream, error) {
	s, err := b.Client.OpenChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var (
	_ Backend         = OllamaBackend{}
	_ CapabilityProbe = (*ollama.Client)(nil)
)
