// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
)

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status  int
	Code    protocol.Code
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

// StreamError ends a chat stream that did not reach done.
type StreamError struct {
	Code    protocol.Code
	Message string
}

func (e *StreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return protocol.Message(e.Code)
}

// Classify maps a client-side failure onto the error taxonomy.
func Classify(err error) protocol.Code {
	var apiErr *APIError
	var streamErr *StreamError
	var opErr *net.OpError
	var netErr net.Error

	switch {
	case err == nil:
		return ""
	case errors.As(err, &streamErr):
		return streamErr.Code
	case errors.As(err, &apiErr):
		if apiErr.Code == "" || apiErr.Code == protocol.CodeChatError {
			return protocol.CodeUnknown
		}
		return apiErr.Code
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.CodeTimeout
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return protocol.CodeBackendUnavailable
	case errors.As(err, &netErr) && netErr.Timeout():
		return protocol.CodeTimeout
	case errors.Is(err, io.ErrUnexpectedEOF):
		return protocol.CodeStreamingInterrupted
	}
	return protocol.CodeUnknown
}

// Describe returns the text shown to the user for err.
func Describe(err error) string {
	var apiErr *APIError
	var streamErr *StreamError
	switch {
	case errors.As(err, &streamErr):
		return streamErr.Error()
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	}
	return protocol.Message(Classify(err))
}

// =============================================================================
// API CLIENT
// =============================================================================

// Config configures the relay client.
type Config struct {
	// BaseURL of the relay (default: http://127.0.0.1:8787)
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout for non-streaming requests (default: 15s)
	Timeout time.Duration
}

// API talks to the relay's HTTP API. It is safe for concurrent use.
type API struct {
	base   string
	token  string
	http   *http.Client
	stream *http.Client
}

// NewAPI creates a client.
func NewAPI(cfg Config) *API {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8787"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &API{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		// Streams are bounded by the caller's context only.
		stream: &http.Client{},
	}
}

// BaseURL returns the relay address.
func (a *API) BaseURL() string {
	return a.base
}

func (a *API) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

// do sends a non-streaming request and decodes a JSON response into out.
func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// readAPIError turns an error response into *APIError.
func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body protocol.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: protocol.CodeChatError, Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

// Chat opens a chat stream. The caller must close the returned body.
func (a *API) Chat(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error) {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", protocol.ContentType)

	resp, err := a.stream.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp.Body, nil
}

// CreateChat creates a chat. An empty id lets the server choose one.
func (a *API) CreateChat(ctx context.Context, id, modelName string) (model.Chat, error) {
	var chat model.Chat
	body := map[string]string{"id": id, "model": modelName}
	err := a.do(ctx, http.MethodPost, "/api/chats", body, &chat)
	return chat, err
}

// ListChats returns chats, most recently active first.
func (a *API) ListChats(ctx context.Context) ([]model.Chat, error) {
	var out struct {
		Chats []model.Chat `json:"chats"`
	}
	err := a.do(ctx, http.MethodGet, "/api/chats", nil, &out)
	return out.Chats, err
}

// DeleteChat removes a chat and its messages.
func (a *API) DeleteChat(ctx context.Context, chatID string) error {
	return a.do(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(chatID), nil, nil)
}

// ExportChat returns a chat transcript as "markdown" or "json".
func (a *API) ExportChat(ctx context.Context, chatID, format string) ([]byte, error) {
	path := "/api/chats/" + url.PathEscape(chatID) + "/export?format=" + url.QueryEscape(format)
	req, err := a.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// GetMessages returns the persisted history of a chat.
func (a *API) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	err := a.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID)+"/messages", nil, &out)
	return out.Messages, err
}

// SaveMessage upserts one message, creating the chat if needed.
func (a *API) SaveMessage(ctx context.Context, chatID string, msg model.Message) error {
	return a.do(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/messages", msg, nil)
}

// DeleteMessagesFrom deletes messageID and every later message of a chat.
func (a *API) DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages?from=" + url.QueryEscape(messageID)
	err := a.do(ctx, http.MethodDelete, path, nil, &out)
	return out.Deleted, err
}

// Models lists the models installed in the backend.
func (a *API) Models(ctx context.Context) ([]ollama.ModelInfo, error) {
	var out struct {
		Models []ollama.ModelInfo `json:"models"`
	}
	err := a.do(ctx, http.MethodGet, "/api/models", nil, &out)
	return out.Models, err
}

// IsNotFound reports whether err is a 404 from the relay.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
