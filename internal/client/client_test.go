// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// =============================================================================
// FAKES
// =============================================================================

func ndjson(chunks ...protocol.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		line, _ := json.Marshal(c)
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

type deleteCall struct{ chatID, from string }

// fakeTransport answers every chat request with body and records calls.
type fakeTransport struct {
	mu       sync.Mutex
	body     string
	chatErr  error
	history  []model.Message
	getErr   error
	requests []protocol.ChatRequest
	saved    []model.Message
	deletes  []deleteCall
}

func (f *fakeTransport) Chat(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeTransport) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	return f.history, f.getErr
}

func (f *fakeTransport) SaveMessage(ctx context.Context, chatID string, msg model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeTransport) DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{chatID, messageID})
	return 1, nil
}

func (f *fakeTransport) lastRequest(t *testing.T) protocol.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

// conversation returns five alternating user/assistant messages.
func conversation() []model.Message {
	var msgs []model.Message
	for i, text := range []string{"u0", "a1", "u2", "a3", "u4"} {
		if i%2 == 0 {
			msgs = append(msgs, model.NewUserMessage(text))
		} else {
			m := model.NewAssistantMessage("")
			m.AppendText(model.PartText, text)
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func newSession(ft *fakeTransport) *Session {
	return NewSession(ft, display.New(), SessionConfig{ChatID: "c1", Model: "qwen3:8b"})
}

// =============================================================================
// CONSUME
// =============================================================================

func TestConsume_ForwardsInOrder(t *testing.T) {
	body := ndjson(
		protocol.Reasoning("a"),
		protocol.Text("b"),
		protocol.Continue(),
		protocol.Done(),
		protocol.Text("after done"),
	)
	var kinds []protocol.Kind
	err := Consume(context.Background(), strings.NewReader(body), "a1", SinkFunc(func(c protocol.Chunk, id string) {
		assert.Equal(t, "a1", id)
		kinds = append(kinds, c.Kind)
	}))
	require.NoError(t, err)
	assert.Equal(t, []protocol.Kind{protocol.KindReasoning, protocol.KindText, protocol.KindStreamContinue, protocol.KindDone}, kinds)
}

func TestConsume_Endings(t *testing.T) {
	tests := []struct {
		name string
		body string
		code protocol.Code
	}{
		{"eof without done", ndjson(protocol.Text("x")), protocol.CodeStreamingInterrupted},
		{"truncated line", ndjson(protocol.Text("x")) + `{"kind":"te`, protocol.CodeStreamingInterrupted},
		{"error chunk", ndjson(protocol.Text("x"), protocol.Errorf("model crashed")), protocol.CodeInferenceFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Consume(context.Background(), strings.NewReader(tt.body), "a1", SinkFunc(func(protocol.Chunk, string) {}))
			var streamErr *StreamError
			require.ErrorAs(t, err, &streamErr)
			assert.Equal(t, tt.code, streamErr.Code)
			assert.Equal(t, tt.code, Classify(err))
		})
	}
}

func TestConsume_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := ndjson(protocol.Text("a"), protocol.Text("b"), protocol.Done())
	var got int
	err := Consume(ctx, strings.NewReader(body), "a1", SinkFunc(func(protocol.Chunk, string) {
		got++
		cancel()
	}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, got)
}

// =============================================================================
// SESSION
// =============================================================================

func TestSession_Send(t *testing.T) {
	ft := &fakeTransport{body: ndjson(protocol.Reasoning("hm"), protocol.Text("hello"), protocol.Done())}
	s := newSession(ft)
	s.SetTools(true)
	require.NoError(t, s.SetReasoningLevel("high"))

	require.NoError(t, s.Send(context.Background(), "hi"))

	view := s.View()
	assert.Equal(t, display.StatusReady, view.Status())
	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Text())
	assert.Equal(t, "hm", msgs[1].Reasoning())

	req := ft.lastRequest(t)
	assert.Equal(t, "qwen3:8b", req.Model)
	assert.Equal(t, "high", req.ReasoningLevel)
	assert.True(t, req.EnableTools)
	assert.Equal(t, "c1", req.ChatID)
	assert.Equal(t, msgs[1].ID, req.AssistantMessageID)
	assert.Equal(t, []protocol.RequestMessage{{Role: "user", Content: "hi"}}, req.Messages)

	require.Len(t, ft.saved, 1)
	assert.Equal(t, msgs[0].ID, ft.saved[0].ID)
}

func TestSession_EditTruncates(t *testing.T) {
	for _, k := range []int{0, 2, 4} {
		t.Run(string(rune('0'+k)), func(t *testing.T) {
			ft := &fakeTransport{body: ndjson(protocol.Done())}
			s := newSession(ft)
			original := conversation()
			require.True(t, s.View().Hydrate(original))

			require.NoError(t, s.Edit(context.Background(), original[k].ID, "edited"))

			msgs := s.View().Messages()
			require.Len(t, msgs, k+1)
			for i := 0; i < k; i++ {
				assert.Equal(t, original[i].ID, msgs[i].ID)
			}
			assert.Equal(t, "edited", msgs[k].Text())

			require.Len(t, ft.deletes, 1)
			assert.Equal(t, deleteCall{"c1", original[k].ID}, ft.deletes[0])

			req := ft.lastRequest(t)
			require.Len(t, req.Messages, k+1)
			assert.Equal(t, "edited", req.Messages[k].Content)
			for _, m := range req.Messages {
				assert.NotEqual(t, original[k].Text(), m.Content)
			}
		})
	}
}

func TestSession_EditRejectsAssistant(t *testing.T) {
	ft := &fakeTransport{body: ndjson(protocol.Done())}
	s := newSession(ft)
	msgs := conversation()
	require.True(t, s.View().Hydrate(msgs))

	assert.ErrorIs(t, s.Edit(context.Background(), msgs[1].ID, "x"), ErrNotUserMessage)
	assert.ErrorIs(t, s.Edit(context.Background(), "missing", "x"), ErrMessageNotFound)
	assert.Empty(t, ft.deletes)
}

func TestSession_Retry(t *testing.T) {
	ft := &fakeTransport{body: ndjson(protocol.Text("again"), protocol.Done())}
	s := newSession(ft)
	msgs := conversation()[:4]
	require.True(t, s.View().Hydrate(msgs))

	require.NoError(t, s.Retry(context.Background(), msgs[3].ID, "llama3.1"))

	got := s.View().Messages()
	require.Len(t, got, 4)
	assert.Equal(t, msgs[2].ID, got[2].ID)
	assert.Equal(t, "again", got[3].Text())
	assert.NotEqual(t, msgs[3].ID, got[3].ID)

	require.Len(t, ft.deletes, 1)
	assert.Equal(t, msgs[3].ID, ft.deletes[0].from)

	req := ft.lastRequest(t)
	assert.Equal(t, "llama3.1", req.Model)
	assert.Equal(t, "llama3.1", s.Model())
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "u2", req.Messages[2].Content)
	assert.Empty(t, ft.saved)
}

func TestSession_RetryAfterError(t *testing.T) {
	ft := &fakeTransport{chatErr: &APIError{Status: 503, Code: protocol.CodeBackendUnavailable, Message: "Ollama is not running"}}
	s := newSession(ft)

	err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	view := s.View()
	assert.Equal(t, display.StatusError, view.Status())
	msgs := view.Messages()
	require.Len(t, msgs, 2)
	placeholder := msgs[1]
	require.True(t, placeholder.IsErrorPlaceholder())
	assert.Equal(t, string(protocol.CodeBackendUnavailable), placeholder.Metadata.ErrorCode)
	assert.True(t, placeholder.Metadata.Retryable)
	assert.Equal(t, "Ollama is not running", placeholder.Text())

	ft.chatErr = nil
	ft.body = ndjson(protocol.Text("ok"), protocol.Done())
	require.NoError(t, s.Retry(context.Background(), placeholder.ID, ""))

	msgs = view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ok", msgs[1].Text())
	assert.Equal(t, display.StatusReady, view.Status())
	require.Len(t, ft.deletes, 1)
	assert.Equal(t, placeholder.ID, ft.deletes[0].from)

	// The placeholder never reaches the payload.
	for _, m := range ft.lastRequest(t).Messages {
		assert.NotEqual(t, "assistant", m.Role)
	}
}

func TestSession_ErrorChunkShowsOnce(t *testing.T) {
	ft := &fakeTransport{body: ndjson(protocol.Text("part"), protocol.Errorf("boom"))}
	s := newSession(ft)

	err := s.Send(context.Background(), "hi")
	assert.Equal(t, protocol.CodeInferenceFailed, Classify(err))

	msgs := s.View().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "part", msgs[1].Text())
	assert.True(t, msgs[2].IsErrorPlaceholder())
	assert.Equal(t, "boom", msgs[2].Text())
	assert.Equal(t, display.StatusError, s.View().Status())
}

func TestSession_InterruptedStream(t *testing.T) {
	ft := &fakeTransport{body: ndjson(protocol.Text("part"))}
	s := newSession(ft)

	err := s.Send(context.Background(), "hi")
	assert.Equal(t, protocol.CodeStreamingInterrupted, Classify(err))

	msgs := s.View().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, string(protocol.CodeStreamingInterrupted), msgs[2].Metadata.ErrorCode)
}

// blockingTransport streams one chunk, then blocks until the request is
// canceled.
type blockingTransport struct {
	fakeTransport
	started chan struct{}
}

func (b *blockingTransport) Chat(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte(ndjson(protocol.Text("partial"))))
		close(b.started)
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return pr, nil
}

func TestSession_Stop(t *testing.T) {
	bt := &blockingTransport{started: make(chan struct{})}
	s := NewSession(bt, display.New(), SessionConfig{ChatID: "c1"})

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "hi") }()

	<-bt.started
	require.Eventually(t, func() bool {
		return s.View().Status() == display.StatusStreaming
	}, testTimeout, testTick)

	s.Stop()
	assert.Equal(t, display.StatusReady, s.View().Status())
	require.NoError(t, <-done)

	msgs := s.View().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Text())
	assert.False(t, msgs[1].IsErrorPlaceholder())
}

func TestSession_Hydrate(t *testing.T) {
	ft := &fakeTransport{history: conversation()}
	s := newSession(ft)

	ok, err := s.Hydrate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, s.View().Messages(), 5)

	ft.getErr = &APIError{Status: http.StatusNotFound, Code: protocol.CodeNotFound}
	ok, err = s.Hydrate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_SendAfterInterruptedReply(t *testing.T) {
	partial := model.NewAssistantMessage("a1")
	partial.AppendText(model.PartText, "partial answer")
	partial.Metadata = &model.Metadata{Interrupted: true, ErrorCode: string(protocol.CodeStreamingInterrupted)}
	ft := &fakeTransport{
		history: []model.Message{model.NewUserMessage("q"), partial},
		body:    ndjson(protocol.Text("done now"), protocol.Done()),
	}
	s := newSession(ft)

	ok, err := s.Hydrate(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Send(context.Background(), "go on"))

	assert.Equal(t, []protocol.RequestMessage{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "partial answer"},
		{Role: "user", Content: "go on"},
	}, ft.lastRequest(t).Messages)
	assert.Len(t, s.View().Messages(), 4)
}

func TestSession_SetReasoningLevel(t *testing.T) {
	s := newSession(&fakeTransport{})
	assert.Error(t, s.SetReasoningLevel("extreme"))
	require.NoError(t, s.SetReasoningLevel("low"))
	assert.Equal(t, "low", s.ReasoningLevel())
}

// =============================================================================
// API
// =============================================================================

func TestAPI_ChatErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(protocol.ErrorBody{Error: "model not found", Code: protocol.CodeModelNotFound})
	}))
	defer srv.Close()

	api := NewAPI(Config{BaseURL: srv.URL, Token: "tok"})
	_, err := api.Chat(context.Background(), protocol.ChatRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, protocol.CodeModelNotFound, apiErr.Code)
	assert.Equal(t, protocol.CodeModelNotFound, Classify(err))
	assert.False(t, protocol.Retryable(Classify(err)))
	assert.True(t, IsNotFound(err))
}

func TestAPI_Requests(t *testing.T) {
	var gotPath, gotQuery, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.Query().Get("from")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deleted":3}`))
	}))
	defer srv.Close()

	api := NewAPI(Config{BaseURL: srv.URL + "/"})
	n, err := api.DeleteMessagesFrom(context.Background(), "c 1", "m/2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/chats/c 1/messages", gotPath)
	assert.Equal(t, "m/2", gotQuery)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want protocol.Code
	}{
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, protocol.CodeBackendUnavailable},
		{"deadline", context.DeadlineExceeded, protocol.CodeTimeout},
		{"chat error", &APIError{Status: 500, Code: protocol.CodeChatError}, protocol.CodeUnknown},
		{"backend", &APIError{Status: 503, Code: protocol.CodeBackendUnavailable}, protocol.CodeBackendUnavailable},
		{"unexpected eof", io.ErrUnexpectedEOF, protocol.CodeStreamingInterrupted},
		{"other", errors.New("x"), protocol.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
