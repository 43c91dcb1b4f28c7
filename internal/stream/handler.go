// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes the handler.
type Config struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxRounds caps backend invocations per turn.
	MaxRounds int

	// PersistInterval is the minimum spacing of streaming writes.
	PersistInterval time.Duration

	// DrainTimeout bounds the final write after the stream ends.
	DrainTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.DefaultModel == "" {
		c.DefaultModel = ollama.DefaultConfig().DefaultModel
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = DefaultPersistInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// =============================================================================
// HANDLER
// =============================================================================

// Handler serves POST /api/chat.
type Handler struct {
	cfg     Config
	backend Backend
	probe   CapabilityProbe
	tools   tools.Provider
	store   MessageStore
	logger  *zap.Logger
	metrics *telemetry.Metrics
	usage   *telemetry.UsageTracker
	loop    *Loop
}

// Option configures a Handler.
type Option func(*Handler)

// WithConfig sets the configuration.
func WithConfig(cfg Config) Option {
	return func(h *Handler) { h.cfg = cfg }
}

// WithProbe sets the capability probe consulted when tools are requested.
func WithProbe(p CapabilityProbe) Option {
	return func(h *Handler) { h.probe = p }
}

// WithTools sets the tool provider.
func WithTools(p tools.Provider) Option {
	return func(h *Handler) { h.tools = p }
}

// WithStore enables persistence.
func WithStore(s MessageStore) Option {
	return func(h *Handler) { h.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTelemetry sets metrics and the usage tracker. Either may be nil.
func WithTelemetry(m *telemetry.Metrics, u *telemetry.UsageTracker) Option {
	return func(h *Handler) {
		h.metrics = m
		h.usage = u
	}
}

// NewHandler creates the chat stream handler.
func NewHandler(backend Backend, opts ...Option) *Handler {
	h := &Handler{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	h.cfg.setDefaults()
	h.loop = NewLoop(backend, h.tools,
		WithMaxRounds(h.cfg.MaxRounds),
		WithLoopLogger(h.logger),
		WithLoopTelemetry(h.metrics, h.usage),
	)
	return h
}

// Loop returns the handler's tool loop.
func (h *Handler) Loop() *Loop {
	return h.loop
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, protocol.MaxRequestBodySize)
	var req protocol.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, protocol.CodeInvalidRequest,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", protocol.MaxRequestBodySize))
			return
		}
		h.reject(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(w, http.StatusBadRequest, protocol.CodeInvalidRequest, err.Error())
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = h.cfg.DefaultModel
	}

	turn := Turn{
		Model:    modelName,
		Messages: toOllamaMessages(req.Messages),
		Think:    ResolveThink(req.Think, req.ReasoningLevel),
		Tools:    h.toolDefinitions(ctx, modelName, req.EnableTools),
	}

	log := h.logger.With(zap.String("model", modelName), zap.String("chat_id", req.ChatID))
	log.Info("stream_start",
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(turn.Tools)),
		zap.String("think", turn.Think.Level()),
		zap.Bool("think_enabled", turn.Think.Enabled()),
	)

	// The assistant message as the client will have rendered it.
	assistant := model.NewAssistantMessage(req.AssistantMessageID)
	assistant.Metadata = &model.Metadata{Model: modelName}

	var persister *Persister
	if h.store != nil && req.ChatID != "" && req.AssistantMessageID != "" {
		persister = NewPersister(h.store, req.ChatID, h.cfg.PersistInterval, log, h.metrics)
		persister.Begin(ctx, modelName, assistant)
	}

	out := newChunkWriter(w)
	h.metrics.StreamStarted()

	var reasoningStart time.Time
	emit := func(c protocol.Chunk) error {
		if err := out.write(c); err != nil {
			return err
		}
		if c.Kind == protocol.KindReasoning && reasoningStart.IsZero() {
			reasoningStart = time.Now()
		}
		if c.Kind == protocol.KindText && !reasoningStart.IsZero() && assistant.Metadata.ReasoningSeconds == 0 {
			assistant.Metadata.ReasoningSeconds = time.Since(reasoningStart).Seconds()
		}
		if assistant.ApplyChunk(c) && persister != nil {
			persister.Offer(assistant)
		}
		return nil
	}

	stats, err := h.loop.Run(ctx, turn, emit)
	outcome := h.finish(ctx, w, out, &assistant, err, log)

	if persister != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.DrainTimeout)
		persister.Close(drainCtx, assistant)
		cancel()
	}

	h.metrics.StreamFinished(outcome, time.Since(start))
	log.Info("stream_end",
		zap.String("outcome", outcome),
		zap.Int("rounds", stats.Rounds),
		zap.Int("tool_calls", stats.ToolCalls),
		zap.Int("tool_failures", stats.ToolFailures),
		zap.Int("chunks", out.count()),
		zap.Duration("duration", time.Since(start)),
	)
}

// finish reports the outcome of Run to the client and marks the assistant
// message accordingly. It returns the outcome label.
func (h *Handler) finish(ctx context.Context, w http.ResponseWriter, out *chunkWriter, assistant *model.Message, err error, log *zap.Logger) string {
	if err == nil {
		if werr := out.write(protocol.Done()); werr != nil {
			return "canceled"
		}
		return "done"
	}

	var emitErr *EmitError
	if ctx.Err() != nil || errors.As(err, &emitErr) {
		log.Info("stream_canceled", zap.Error(err))
		return "canceled"
	}

	status, code := Classify(err)
	markFailed(assistant, code, errorText(err))

	if !out.started() {
		log.Warn("stream_rejected", zap.Int("status", status), zap.String("code", string(code)), zap.Error(err))
		h.writeError(w, status, preStreamCode(code), errorText(err))
		return "rejected"
	}

	log.Warn("stream_failed", zap.String("code", string(code)), zap.Error(err))
	_ = out.write(protocol.Errorf("%s", errorText(err)))
	return "error"
}

// markFailed records a failed turn on the assistant message. With nothing
// streamed it becomes an error placeholder; otherwise the partial reply is
// kept and only flagged as interrupted.
func markFailed(m *model.Message, code protocol.Code, text string) {
	if m.Metadata == nil {
		m.Metadata = &model.Metadata{}
	}
	m.Metadata.ErrorCode = string(code)
	m.Metadata.Retryable = protocol.Retryable(code)
	if m.IsEmpty() {
		m.Parts = nil
		m.AppendText(model.PartText, text)
		m.Metadata.IsError = true
		return
	}
	m.Metadata.Interrupted = true
}

// toolDefinitions returns the tools to advertise. A failed or negative
// probe disables tools for the request without failing it.
func (h *Handler) toolDefinitions(ctx context.Context, modelName string, enabled bool) []ollama.Tool {
	if !enabled || h.tools == nil {
		return nil
	}
	if h.probe != nil {
		ok, err := h.probe.SupportsTools(ctx, modelName)
		if err != nil {
			h.logger.Warn("capability_probe_failed", zap.String("model", modelName), zap.Error(err))
			return nil
		}
		if !ok {
			h.logger.Debug("tools_unsupported", zap.String("model", modelName))
			return nil
		}
	}
	return h.tools.Definitions(ctx)
}

func (h *Handler) reject(w http.ResponseWriter, status int, code protocol.Code, msg string) {
	h.metrics.StreamRejected()
	h.writeError(w, status, code, msg)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code protocol.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(protocol.ErrorBody{Error: msg, Code: code})
}

// =============================================================================
// REQUEST CONVERSION
// =============================================================================

// ResolveThink picks the reasoning option: a reasoning level wins over
// think, and nothing is sent when neither is set.
func ResolveThink(think any, level string) *ollama.Think {
	if level != "" {
		return ollama.ThinkLevel(level)
	}
	switch v := think.(type) {
	case bool:
		return ollama.ThinkEnabled(v)
	case string:
		if v != "" {
			return ollama.ThinkLevel(v)
		}
	}
	return nil
}

func toOllamaMessages(msgs []protocol.RequestMessage) []ollama.Message {
	out := make([]ollama.Message, len(msgs))
	for i, m := range msgs {
		out[i] = ollama.Message{Role: m.Role, Content: m.Content, Images: m.Images}
	}
	return out
}

// =============================================================================
// CHUNK WRITER
// =============================================================================

// chunkWriter commits the 200 response on the first chunk so that earlier
// failures can still become an HTTP error.
type chunkWriter struct {
	w   http.ResponseWriter
	enc *protocol.Encoder
}

func newChunkWriter(w http.ResponseWriter) *chunkWriter {
	return &chunkWriter{w: w}
}

func (c *chunkWriter) started() bool {
	return c.enc != nil
}

func (c *chunkWriter) count() int {
	if c.enc == nil {
		return 0
	}
	return c.enc.Count()
}

func (c *chunkWriter) write(chunk protocol.Chunk) error {
	if c.enc == nil {
		h := c.w.Header()
		h.Set("Content-Type", protocol.ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		c.w.WriteHeader(http.StatusOK)
		c.enc = protocol.NewEncoder(c.w)
	}
	return c.enc.Encode(chunk)
}
