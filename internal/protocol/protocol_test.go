// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestEncoder_OneLinePerChunkAndFlush(t *testing.T) {
	var buf flushRecorder
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(Reasoning("hmm")))
	require.NoError(t, enc.Encode(Call(ToolCall{ID: "c1", Name: "get_current_time", Arguments: map[string]any{}, Phase: PhaseReasoning})))
	require.NoError(t, enc.Encode(Result(ToolResult{ID: "c1", Result: "noon", Phase: PhaseReasoning})))
	require.NoError(t, enc.Encode(Continue()))
	require.NoError(t, enc.Encode(Text("hi")))
	require.NoError(t, enc.Encode(Done()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, `{"kind":"reasoning","text":"hmm"}`, lines[0])
	assert.Equal(t, `{"kind":"tool_call","toolCall":{"id":"c1","name":"get_current_time","arguments":{},"phase":"reasoning"}}`, lines[1])
	assert.Equal(t, `{"kind":"tool_result","toolResult":{"id":"c1","result":"noon","phase":"reasoning"}}`, lines[2])
	assert.Equal(t, `{"kind":"stream_continue"}`, lines[3])
	assert.Equal(t, `{"kind":"done"}`, lines[5])
	assert.Equal(t, 6, buf.flushes)
	assert.Equal(t, 6, enc.Count())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestEncoder_StickyError(t *testing.T) {
	enc := NewEncoder(failingWriter{})
	require.ErrorIs(t, enc.Encode(Text("a")), io.ErrClosedPipe)
	require.ErrorIs(t, enc.Encode(Done()), io.ErrClosedPipe)
	assert.Equal(t, 0, enc.Count())
}

func TestDecoder_RoundTripsEncoderOutput(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := []Chunk{
		Reasoning("a"),
		Text("b"),
		Result(ToolResult{ID: "x", Error: "nope", Phase: PhaseResponse}),
		Errorf("backend failed: %s", "eof"),
	}
	for _, c := range want {
		require.NoError(t, enc.Encode(c))
	}

	dec := NewDecoder(&buf)
	for i, w := range want {
		got, err := dec.Next()
		require.NoError(t, err, "chunk %d", i)
		assert.Equal(t, w.Kind, got.Kind)
		assert.Equal(t, w.Text, got.Text)
		assert.Equal(t, w.Error, got.Error)
	}
	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_SkipsBlankAndMalformedLines(t *testing.T) {
	body := "\n{\"kind\":\"text\",\"text\":\"a\"}\nnot json\n{}\n\n{\"kind\":\"done\"}\n"
	dec := NewDecoder(strings.NewReader(body))

	c, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindText, c.Kind)

	c, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindDone, c.Kind)
	assert.Equal(t, 2, dec.Skipped())
}

func TestDecoder_FinalLineWithoutNewline(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"kind":"done"}`))
	c, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindDone, c.Kind)
}

func TestDecoder_TruncatedFinalLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader("{\"kind\":\"text\",\"text\":\"a\"}\n{\"kind\":\"te"))
	_, err := dec.Next()
	require.NoError(t, err)
	_, err = dec.Next()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestDecoder_LongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	dec := NewDecoder(strings.NewReader(`{"kind":"text","text":"` + long + `"}` + "\n"))
	c, err := dec.Next()
	require.NoError(t, err)
	assert.Len(t, c.Text, len(long))
}

func TestChunkValidate(t *testing.T) {
	testCases := []struct {
		name  string
		chunk Chunk
		ok    bool
	}{
		{"text", Text("a"), true},
		{"done", Done(), true},
		{"tool call", Call(ToolCall{ID: "1", Name: "n"}), true},
		{"tool call no id", Call(ToolCall{Name: "n"}), false},
		{"tool result", Result(ToolResult{ID: "1"}), true},
		{"empty error", Chunk{Kind: KindError}, false},
		{"unknown", Chunk{Kind: "bogus"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.chunk.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(CodeModelNotFound))
	assert.True(t, Retryable(CodeBackendUnavailable))
	assert.True(t, Retryable(CodeStreamingInterrupted))
	assert.True(t, KindError.Terminal())
	assert.False(t, KindStreamContinue.Terminal())
}
