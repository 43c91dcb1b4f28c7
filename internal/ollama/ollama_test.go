// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewToolResultMessage(t *testing.T) {
	msg := NewToolResultMessage("read_file", "contents")

	if msg.Role != "tool" {
		t.Errorf("Role = %q, want 'tool'", msg.Role)
	}
	if msg.ToolName != "read_file" {
		t.Errorf("ToolName = %q, want 'read_file'", msg.ToolName)
	}
}

func TestNewAssistantMessageWithTools(t *testing.T) {
	calls := []ToolCall{{Function: ToolFunction{Name: "search", Arguments: map[string]any{"q": "x"}}}}
	msg := NewAssistantMessageWithTools("text", "thought", calls)

	if !msg.HasToolCalls() {
		t.Error("HasToolCalls() = false, want true")
	}
	if msg.Thinking != "thought" {
		t.Errorf("Thinking = %q, want 'thought'", msg.Thinking)
	}
}

// =============================================================================
// THINK TESTS
// =============================================================================

func TestThink_MarshalJSON(t *testing.T) {
	testCases := []struct {
		name     string
		think    *Think
		expected string
	}{
		{"omitted", nil, `{"model":"m","messages":null,"stream":true}`},
		{"bool", ThinkEnabled(true), `{"model":"m","messages":null,"stream":true,"think":true}`},
		{"level", ThinkLevel("high"), `{"model":"m","messages":null,"stream":true,"think":"high"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(ChatRequest{Model: "m", Stream: true, Think: tc.think})
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tc.expected {
				t.Errorf("json = %s, want %s", data, tc.expected)
			}
		})
	}
}

func TestThink_UnmarshalJSON(t *testing.T) {
	var v struct {
		Think *Think `json:"think"`
	}
	if err := json.Unmarshal([]byte(`{"think":"medium"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.Think.Level() != "medium" || !v.Think.Enabled() {
		t.Errorf("Think = %+v, want level medium", v.Think)
	}
	if err := json.Unmarshal([]byte(`{"think":false}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.Think.Enabled() {
		t.Error("think:false should not be enabled")
	}
	if err := json.Unmarshal([]byte(`{"think":"extreme"}`), &v); err == nil {
		t.Error("expected error for unknown level")
	}
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_ThinkingContentAndToolCalls(t *testing.T) {
	body := strings.Join([]string{
		`{"model":"qwen3","message":{"role":"assistant","content":"","thinking":"let me"},"done":false}`,
		`not json`,
		`{"model":"qwen3","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_current_time","arguments":{}}}]},"done":false}`,
		`{"model":"qwen3","message":{"role":"assistant","content":"hi"},"done":false}`,
		`{"model":"qwen3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":10,"eval_duration":1000000000}`,
	}, "\n")

	r := NewStreamReader(strings.NewReader(body))

	var chunks []StreamChunk
	for {
		c, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, c)
	}

	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}
	if chunks[0].Thinking != "let me" {
		t.Errorf("chunks[0].Thinking = %q", chunks[0].Thinking)
	}
	if len(chunks[1].ToolCalls) != 1 || chunks[1].ToolCalls[0].Function.Name != "get_current_time" {
		t.Errorf("chunks[1].ToolCalls = %+v", chunks[1].ToolCalls)
	}
	if chunks[2].Content != "hi" {
		t.Errorf("chunks[2].Content = %q", chunks[2].Content)
	}
	if !chunks[3].Done || chunks[3].TokensPerSecond() != 10 {
		t.Errorf("final chunk = %+v", chunks[3])
	}
}

func TestStreamReader_EndsWithoutDone(t *testing.T) {
	r := NewStreamReader(strings.NewReader(`{"message":{"content":"a"},"done":false}` + "\n"))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	_, err := r.Next()
	if !IsStreamInterrupted(err) {
		t.Errorf("err = %v, want stream interrupted", err)
	}
}

func TestStreamReader_ErrorLine(t *testing.T) {
	r := NewStreamReader(strings.NewReader(`{"error":"model crashed"}` + "\n"))
	_, err := r.Next()
	if err == nil || !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("err = %v, want model crashed", err)
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
}

func TestOpenChatStream_SendsThinkAndTools(t *testing.T) {
	var got ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"message":{"content":"ok"},"done":true}`+"\n")
	})

	stream, err := client.OpenChatStream(context.Background(), ChatRequest{
		Model: "qwen3",
		Think: ThinkLevel("low"),
		Tools: []Tool{{Type: "function", Function: ToolSchema{Name: "t", Parameters: map[string]any{"type": "object"}}}},
	})
	if err != nil {
		t.Fatalf("OpenChatStream: %v", err)
	}
	defer stream.Close()

	c, err := stream.Recv()
	if err != nil || c.Content != "ok" {
		t.Fatalf("Recv = %+v, %v", c, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("second Recv err = %v, want EOF", err)
	}
	if !got.Stream || got.Think.Level() != "low" || len(got.Tools) != 1 {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenChatStream_ModelNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
	})

	_, err := client.OpenChatStream(context.Background(), ChatRequest{Model: "nope"})
	if !IsModelNotFound(err) {
		t.Fatalf("err = %v, want model not found", err)
	}
	if !strings.Contains(err.Error(), "try pulling") {
		t.Errorf("error message lost: %v", err)
	}
}

func TestOpenChatStream_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := client.OpenChatStream(context.Background(), ChatRequest{Model: "m"})
	if !IsNotRunning(err) {
		t.Errorf("err = %v, want not running", err)
	}
}

func TestOpenChatStream_Canceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{}\n")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.OpenChatStream(ctx, ChatRequest{Model: "m"})
	if !IsCanceled(err) {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestCapabilities_CachedAndFallback(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req ShowModelRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Model {
		case "modern":
			io.WriteString(w, `{"capabilities":["completion","tools","thinking"]}`)
		case "qwen2.5:7b":
			io.WriteString(w, `{"details":{"family":"qwen2"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"not found"}`)
		}
	})
	ctx := context.Background()

	ok, err := client.SupportsTools(ctx, "modern")
	if err != nil || !ok {
		t.Fatalf("SupportsTools(modern) = %v, %v", ok, err)
	}
	ok, _ = client.SupportsThinking(ctx, "modern")
	if !ok {
		t.Error("SupportsThinking(modern) = false")
	}
	if calls.Load() != 1 {
		t.Errorf("show calls = %d, want 1 (cached)", calls.Load())
	}

	ok, err = client.SupportsTools(ctx, "qwen2.5:7b")
	if err != nil || !ok {
		t.Errorf("family fallback = %v, %v", ok, err)
	}

	if _, err := client.SupportsTools(ctx, "missing"); !IsModelNotFound(err) {
		t.Errorf("missing model err = %v", err)
	}
}

func TestFamilySupportsTools(t *testing.T) {
	testCases := []struct {
		model    string
		expected bool
	}{
		{"llama3.1:8b", true},
		{"qwen2.5-coder:14b-instruct-q4_K_M", true},
		{"library/qwen3:30b", true},
		{"gemma2:9b", false},
		{"phi3", false},
	}
	for _, tc := range testCases {
		if got := FamilySupportsTools(tc.model); got != tc.expected {
			t.Errorf("FamilySupportsTools(%q) = %v, want %v", tc.model, got, tc.expected)
		}
	}
}
