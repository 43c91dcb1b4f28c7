// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/normalize"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// DefaultMaxRounds caps backend invocations per turn.
const DefaultMaxRounds = 25

// EmitFunc delivers one chunk to the client. A non-nil error stops the
// loop.
type EmitFunc func(protocol.Chunk) error

// =============================================================================
// ERRORS
// =============================================================================

// RoundLimitError is returned when the model keeps calling tools after the
// last allowed round.
type RoundLimitError struct {
	Rounds int
}

func (e *RoundLimitError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d rounds", e.Rounds)
}

// BackendError wraps a failure of the inference backend during a round.
type BackendError struct {
	Round int
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("round %d: %v", e.Round, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// EmitError wraps a failure to write to the client.
type EmitError struct {
	Err error
}

func (e *EmitError) Error() string {
	return "write chunk: " + e.Err.Error()
}

func (e *EmitError) Unwrap() error {
	return e.Err
}

// =============================================================================
// LOOP
// =============================================================================

// Turn is the input of one Run.
type Turn struct {
	Model    string
	Messages []ollama.Message
	Think    *ollama.Think
	Options  *ollama.Options

	// Tools are advertised to the model. Empty disables tool calling.
	Tools []ollama.Tool
}

// RunStats summarizes a Run.
type RunStats struct {
	Rounds       int
	ToolCalls    int
	ToolFailures int
}

// Loop drives backend rounds and tool execution for one turn at a time.
// A Loop holds no per-turn state and may be shared.
type Loop struct {
	backend   Backend
	tools     tools.Provider
	maxRounds int
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	usage     *telemetry.UsageTracker
	newCallID func() string
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxRounds overrides DefaultMaxRounds.
func WithMaxRounds(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxRounds = n
		}
	}
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLoopTelemetry sets the metrics and usage tracker. Either may be nil.
func WithLoopTelemetry(m *telemetry.Metrics, u *telemetry.UsageTracker) LoopOption {
	return func(l *Loop) {
		l.metrics = m
		l.usage = u
	}
}

// NewLoop creates a loop over backend. provider may be nil when no tools
// are available.
func NewLoop(backend Backend, provider tools.Provider, opts ...LoopOption) *Loop {
	l := &Loop{
		backend:   backend,
		tools:     provider,
		maxRounds: DefaultMaxRounds,
		logger:    zap.NewNop(),
		newCallID: func() string { return "call_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxRounds returns the round cap.
func (l *Loop) MaxRounds() int {
	return l.maxRounds
}

type pendingCall struct {
	id    string
	raw   ollama.ToolCall
	phase protocol.Phase
}

// turnState is the per-Run state: one normalizer per text channel and
// the phase of the most recent text event.
type turnState struct {
	emit      EmitFunc
	reasoning *normalize.Normalizer
	text      *normalize.Normalizer
	phase     protocol.Phase
}

func (s *turnState) send(c protocol.Chunk) error {
	if err := s.emit(c); err != nil {
		return &EmitError{Err: err}
	}
	return nil
}

// flush emits whatever the normalizers withheld.
func (s *turnState) flush() error {
	if r := s.reasoning.Flush(); r != "" {
		if err := s.send(protocol.Reasoning(r)); err != nil {
			return err
		}
	}
	if t := s.text.Flush(); t != "" {
		if err := s.send(protocol.Text(t)); err != nil {
			return err
		}
	}
	return nil
}

// Run executes rounds until one requests no tool calls. It never emits
// done or error chunks; the caller reports the outcome. Cancellation of
// ctx stops the loop with ctx.Err().
func (l *Loop) Run(ctx context.Context, turn Turn, emit EmitFunc) (RunStats, error) {
	var stats RunStats
	st := &turnState{
		emit:      emit,
		reasoning: normalize.New(),
		text:      normalize.New(),
		phase:     protocol.PhaseResponse,
	}

	history := append([]ollama.Message(nil), turn.Messages...)

	for round := 1; ; round++ {
		stats.Rounds = round
		l.metrics.BackendRound()

		req := ollama.ChatRequest{
			Model:    turn.Model,
			Messages: history,
			Think:    turn.Think,
			Options:  turn.Options,
			Tools:    turn.Tools,
		}
		text, reasoning, calls, err := l.round(ctx, round, req, st, &stats)
		if err != nil {
			return stats, err
		}
		if len(calls) == 0 {
			return stats, nil
		}

		rawCalls := make([]ollama.ToolCall, len(calls))
		for i, c := range calls {
			rawCalls[i] = c.raw
		}
		history = append(history, ollama.NewAssistantMessageWithTools(text, reasoning, rawCalls))

		for _, c := range calls {
			msg, err := l.execute(ctx, c, st, &stats)
			if err != nil {
				return stats, err
			}
			history = append(history, msg)
		}

		if round >= l.maxRounds {
			return stats, &RoundLimitError{Rounds: l.maxRounds}
		}
		if err := st.send(protocol.Continue()); err != nil {
			return stats, err
		}
	}
}

// round runs one backend invocation. It returns the round's raw text and
// reasoning and the tool calls it requested, already announced.
func (l *Loop) round(ctx context.Context, n int, req ollama.ChatRequest, st *turnState, stats *RunStats) (string, string, []pendingCall, error) {
	events, err := l.backend.OpenStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", nil, ctx.Err()
		}
		return "", "", nil, &BackendError{Round: n, Err: err}
	}
	defer events.Close()

	l.logger.Debug("backend_round", zap.Int("round", n), zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)), zap.Int("tools", len(req.Tools)))

	var text, reasoning strings.Builder
	var calls []pendingCall

	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", "", nil, ctx.Err()
			}
			return "", "", nil, &BackendError{Round: n, Err: err}
		}

		if ev.Thinking != "" {
			st.phase = protocol.PhaseReasoning
			reasoning.WriteString(ev.Thinking)
			if out := st.reasoning.Normalize(ev.Thinking); out != "" {
				if err := st.send(protocol.Reasoning(out)); err != nil {
					return "", "", nil, err
				}
			}
		}
		if ev.Content != "" {
			st.phase = protocol.PhaseResponse
			text.WriteString(ev.Content)
			if out := st.text.Normalize(ev.Content); out != "" {
				if err := st.send(protocol.Text(out)); err != nil {
					return "", "", nil, err
				}
			}
		}

		if len(ev.ToolCalls) > 0 {
			if err := st.flush(); err != nil {
				return "", "", nil, err
			}
			for _, tc := range ev.ToolCalls {
				c := pendingCall{id: l.newCallID(), raw: tc, phase: st.phase}
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				if err := st.send(protocol.Call(protocol.ToolCall{
					ID:        c.id,
					Name:      tc.Function.Name,
					Arguments: args,
					Phase:     c.phase,
				})); err != nil {
					return "", "", nil, err
				}
				calls = append(calls, c)
			}
		}

		if ev.Done {
			l.metrics.Tokens(req.Model, ev.PromptTokens, ev.CompletionTokens)
			l.usage.Record(req.Model, ev.PromptTokens, ev.CompletionTokens, ev.EvalDuration)
			break
		}
	}

	if err := st.flush(); err != nil {
		return "", "", nil, err
	}
	stats.ToolCalls += len(calls)
	return text.String(), reasoning.String(), calls, nil
}

// execute runs one tool call, emits its result and returns the tool
// message for the history.
func (l *Loop) execute(ctx context.Context, c pendingCall, st *turnState, stats *RunStats) (ollama.Message, error) {
	name := c.raw.Function.Name
	start := time.Now()

	var result any
	var err error
	if l.tools == nil {
		err = fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	} else {
		result, err = l.tools.Execute(ctx, name, c.raw.Function.Arguments)
	}
	if ctx.Err() != nil {
		return ollama.Message{}, ctx.Err()
	}

	elapsed := time.Since(start)
	l.metrics.ToolCall(name, err == nil, elapsed)

	res := protocol.ToolResult{ID: c.id, Phase: c.phase}
	var content string
	if err != nil {
		stats.ToolFailures++
		res.Error = err.Error()
		content = "error: " + err.Error()
		l.logger.Info("tool_failed", zap.String("tool", name), zap.String("call_id", c.id),
			zap.Duration("duration", elapsed), zap.Error(err))
	} else {
		res.Result = result
		content = resultContent(result)
		l.logger.Debug("tool_done", zap.String("tool", name), zap.String("call_id", c.id),
			zap.Duration("duration", elapsed))
	}

	if err := st.send(protocol.Result(res)); err != nil {
		return ollama.Message{}, err
	}
	return ollama.NewToolResultMessage(name, content), nil
}

// resultContent renders a tool result for the model.
func resultContent(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
