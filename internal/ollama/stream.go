// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of streaming responses.
type StreamReader struct {
	reader *bufio.Reader
	model  string
	done   bool
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF after the event with
// Done set has been returned. A body that ends before that event yields an
// ErrTypeStreamInterrupted error.
func (s *StreamReader) Next() (StreamChunk, error) {
	if s.done {
		return StreamChunk{}, io.EOF
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			chunk, ok, perr := s.parse(line)
			if perr != nil {
				return StreamChunk{}, perr
			}
			if ok {
				if chunk.Done {
					s.done = true
				}
				return chunk, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return StreamChunk{}, &ClientError{
					Type:    ErrTypeStreamInterrupted,
					Message: "stream ended before completion",
					Cause:   io.ErrUnexpectedEOF,
				}
			}
			return StreamChunk{}, &ClientError{Type: ErrTypeStreamInterrupted, Message: "stream read failed", Cause: err}
		}
	}
}

// parse decodes one line. Malformed lines are skipped.
func (s *StreamReader) parse(line []byte) (StreamChunk, bool, error) {
	var resp ChatResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return StreamChunk{}, false, nil
	}
	if resp.Error != "" {
		return StreamChunk{}, false, &ClientError{Type: ErrTypeInvalidResponse, Message: resp.Error}
	}

	if resp.Model != "" {
		s.model = resp.Model
	}

	chunk := StreamChunk{
		Thinking:  resp.Message.Thinking,
		Content:   resp.Message.Content,
		ToolCalls: resp.Message.ToolCalls,
		Done:      resp.Done,
		Model:     s.model,
	}
	if resp.Done {
		chunk.DoneReason = resp.DoneReason
		chunk.TotalDuration = time.Duration(resp.TotalDuration)
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
	}
	return chunk, true, nil
}

// Process reads the stream and calls the callback for each chunk.
// Blocks until the stream is complete or the context is cancelled.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		callback(chunk)
	}
}

// =============================================================================
// CHAT STREAM
// =============================================================================

// ChatStream is an open streaming chat response. The HTTP exchange has
// already succeeded when a ChatStream exists; failures from here on happen
// mid-stream.
type ChatStream struct {
	body   io.ReadCloser
	reader *StreamReader
	ctx    context.Context
}

// Recv returns the next event, or io.EOF after the final one.
func (cs *ChatStream) Recv() (StreamChunk, error) {
	chunk, err := cs.reader.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		if ctxErr := cs.ctx.Err(); ctxErr != nil {
			return StreamChunk{}, classifyTransportError(cs.ctx, ctxErr)
		}
	}
	return chunk, err
}

// Close releases the response body.
func (cs *ChatStream) Close() error {
	return cs.body.Close()
}
