// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"io"

	"github.com/jeranaias/rigrun-chat/internal/protocol"
)

// Sink receives the chunks of one assistant message in stream order.
// *display.Manager is a Sink.
type Sink interface {
	UpdateStreamingMessage(c protocol.Chunk, assistantID string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(c protocol.Chunk, assistantID string)

// UpdateStreamingMessage calls f.
func (f SinkFunc) UpdateStreamingMessage(c protocol.Chunk, assistantID string) {
	f(c, assistantID)
}

// Consume reads a chat stream and forwards every chunk to sink. It returns
// nil after done, a *StreamError after an error chunk or when the body ends
// without done, and ctx.Err() once ctx is canceled. Nothing is forwarded
// after ctx is canceled.
func Consume(ctx context.Context, body io.Reader, assistantID string, sink Sink) error {
	dec := protocol.NewDecoder(body)
	for {
		c, err := dec.Next()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return &StreamError{Code: protocol.CodeStreamingInterrupted}
			}
			return &StreamError{Code: protocol.CodeStreamingInterrupted, Message: err.Error()}
		}

		sink.UpdateStreamingMessage(c, assistantID)

		switch c.Kind {
		case protocol.KindDone:
			return nil
		case protocol.KindError:
			return &StreamError{Code: protocol.CodeInferenceFailed, Message: c.Error}
		}
	}
}
