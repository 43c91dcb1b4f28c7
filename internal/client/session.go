// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/display"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
)

// Transport is the part of the relay API a Session uses.
type Transport interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (io.ReadCloser, error)
	GetMessages(ctx context.Context, chatID string) ([]model.Message, error)
	SaveMessage(ctx context.Context, chatID string, msg model.Message) error
	DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int64, error)
}

var _ Transport = (*API)(nil)

// Session errors.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotUserMessage  = errors.New("only user messages can be edited")
	ErrNoUserTurn      = errors.New("no user message precedes this message")
)

// storeTimeout bounds the bookkeeping requests made around a turn.
const storeTimeout = 10 * time.Second

// SessionConfig configures a Session.
type SessionConfig struct {
	// ChatID of the conversation; generated when empty.
	ChatID string

	Model          string
	ReasoningLevel string
	Tools          bool

	Logger *zap.Logger
}

// Session drives one chat: it submits turns, feeds the response into a
// display.Manager and keeps the persisted history in line with edits and
// retries.
type Session struct {
	api  Transport
	view *display.Manager
	log  *zap.Logger

	mu     sync.Mutex
	cfg    SessionConfig
	cancel context.CancelFunc
	turn   uint64
}

// NewSession creates a session rendering into view.
func NewSession(api Transport, view *display.Manager, cfg SessionConfig) *Session {
	if cfg.ChatID == "" {
		cfg.ChatID = model.NewID()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{api: api, view: view, log: log.With(zap.String("chat_id", cfg.ChatID)), cfg: cfg}
}

// ChatID returns the conversation id.
func (s *Session) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ChatID
}

// View returns the display state the session renders into.
func (s *Session) View() *display.Manager {
	return s.view
}

// Model returns the model used for new turns.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Model
}

// SetModel changes the model used for new turns. Empty means the server
// default.
func (s *Session) SetModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Model = name
}

// ReasoningLevel returns the requested reasoning level.
func (s *Session) ReasoningLevel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ReasoningLevel
}

// SetReasoningLevel sets "low", "medium", "high", or "" to leave it to the
// model.
func (s *Session) SetReasoningLevel(level string) error {
	switch level {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("invalid reasoning level %q", level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ReasoningLevel = level
	return nil
}

// Tools reports whether tools are requested.
func (s *Session) Tools() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Tools
}

// SetTools toggles tool use for new turns.
func (s *Session) SetTools(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Tools = on
}

// =============================================================================
// TURNS
// =============================================================================

// Send submits text as a new user turn and blocks until the response ends.
// An outstanding turn is aborted first. Failures are shown in the view and
// also returned; a turn stopped by Stop or by a newer turn returns nil.
func (s *Session) Send(ctx context.Context, text string, attachments ...model.Part) error {
	s.Stop()
	user := s.view.AddUserMessage(text, attachments...)
	s.save(ctx, user)
	return s.submit(ctx)
}

// Edit replaces the user message messageID with text. The message and
// everything after it are removed from the view and the store, then the
// edited text is submitted with the preceding history.
func (s *Session) Edit(ctx context.Context, messageID, text string) error {
	s.Stop()
	msg, _, ok := s.find(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Role != model.RoleUser {
		return ErrNotUserMessage
	}

	s.truncate(ctx, messageID)
	user := s.view.AddUserMessage(text, msg.PartsOf(model.PartImage)...)
	s.save(ctx, user)
	return s.submit(ctx)
}

// Retry regenerates the reply to the user message preceding messageID.
// Everything after that user message is removed from the view and the
// store. A non-empty modelName switches the session's model first.
func (s *Session) Retry(ctx context.Context, messageID, modelName string) error {
	s.Stop()
	msgs := s.view.Messages()
	_, idx, ok := s.find(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	user := -1
	for i := idx; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			user = i
			break
		}
	}
	if user < 0 {
		return ErrNoUserTurn
	}
	if modelName != "" {
		s.SetModel(modelName)
	}
	if user+1 < len(msgs) {
		s.truncate(ctx, msgs[user+1].ID)
	}
	return s.submit(ctx)
}

// Stop aborts the outstanding turn, if any. The view returns to ready at
// once; the server notices the dropped connection.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.view.Abort()
}

// Hydrate loads the persisted history into the view. It reports whether
// the view accepted it. A chat the server does not know yet is empty.
func (s *Session) Hydrate(ctx context.Context) (bool, error) {
	msgs, err := s.api.GetMessages(ctx, s.ChatID())
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return s.view.Hydrate(msgs), nil
}

// find locates a message in the view.
func (s *Session) find(id string) (model.Message, int, bool) {
	msgs := s.view.Messages()
	for i, m := range msgs {
		if m.ID == id {
			return m, i, true
		}
	}
	return model.Message{}, -1, false
}

// truncate removes messageID and its suffix from the view and issues one
// deletion for the same range in the store.
func (s *Session) truncate(ctx context.Context, messageID string) {
	s.view.RemoveMessagesFrom(messageID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	n, err := s.api.DeleteMessagesFrom(ctx, s.ChatID(), messageID)
	switch {
	case err == nil:
		s.log.Debug("history_truncated", zap.String("from", messageID), zap.Int64("deleted", n))
	case IsNotFound(err):
		// Never persisted.
	default:
		s.log.Warn("history_truncate_failed", zap.String("from", messageID), zap.Error(err))
	}
}

// save persists a user message. Failures only cost durability.
func (s *Session) save(ctx context.Context, msg model.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := s.api.SaveMessage(ctx, s.ChatID(), msg); err != nil {
		s.log.Warn("save_message_failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// submit streams a response to the current history into the view.
func (s *Session) submit(parent context.Context) error {
	assistantID := model.NewID()
	req := s.request(assistantID)
	if err := s.view.BeginSubmit(assistantID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.turn++
	turn := s.turn
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.turn == turn {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	body, err := s.api.Chat(ctx, req)
	if err == nil {
		err = Consume(ctx, body, assistantID, s.view)
		body.Close()
	}

	switch {
	case err == nil:
		s.log.Debug("turn_done", zap.String("message_id", assistantID), zap.Duration("duration", time.Since(start)))
		return nil
	case ctx.Err() != nil:
		return nil
	}

	code := Classify(err)
	var streamErr *StreamError
	if !errors.As(err, &streamErr) || streamErr.Code != protocol.CodeInferenceFailed {
		// Error chunks were already applied by the view.
		s.view.AddErrorMessage(Describe(err), code, protocol.Retryable(code))
	}
	s.log.Warn("turn_failed", zap.String("message_id", assistantID), zap.String("code", string(code)), zap.Error(err))
	return err
}

// request builds the chat request from the view. Error placeholders are
// left out; the user's latest message is already the tail of the history.
func (s *Session) request(assistantID string) protocol.ChatRequest {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	var history []protocol.RequestMessage
	for _, m := range s.view.Messages() {
		if m.IsErrorPlaceholder() {
			continue
		}
		rm := protocol.RequestMessage{Role: string(m.Role), Content: m.Text()}
		for _, img := range m.PartsOf(model.PartImage) {
			if img.Data != "" {
				rm.Images = append(rm.Images, img.Data)
			}
		}
		if rm.Content == "" && len(rm.Images) == 0 {
			continue
		}
		history = append(history, rm)
	}

	return protocol.ChatRequest{
		Model:              cfg.Model,
		Messages:           history,
		ReasoningLevel:     cfg.ReasoningLevel,
		ChatID:             cfg.ChatID,
		AssistantMessageID: assistantID,
		EnableTools:        cfg.Tools,
	}
}
