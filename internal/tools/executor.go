// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// DefaultHistorySize is the number of executions kept for inspection.
const DefaultHistorySize = 100

// =============================================================================
// ERRORS
// =============================================================================

// ExecutionError reports a tool that ran (or was validated) and failed.
type ExecutionError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return e.Tool + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Tool + ": " + e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ValidationError reports arguments that do not match the schema.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid argument " + e.Param + ": " + e.Message
}

// =============================================================================
// EXECUTOR
// =============================================================================

// ExecutionRecord is one entry of the execution history.
type ExecutionRecord struct {
	Tool      string
	Params    map[string]any
	Success   bool
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// ExecutionStats summarizes the history.
type ExecutionStats struct {
	Total     int
	Succeeded int
	Failed    int
	TotalTime time.Duration
}

// Executor runs tools from a Registry. It implements Provider.
type Executor struct {
	registry   *Registry
	logger     *zap.Logger
	timeout    time.Duration
	maxHistory int

	mu      sync.Mutex
	history []ExecutionRecord
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithHistorySize sets how many executions are remembered.
func WithHistorySize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxHistory = n
		}
	}
}

// NewExecutor creates an executor for registry.
func NewExecutor(registry *Registry, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		registry:   registry,
		logger:     logger,
		timeout:    DefaultTimeout,
		maxHistory: DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the underlying registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Definitions returns the enabled local tools.
func (e *Executor) Definitions(ctx context.Context) []ollama.Tool {
	return e.registry.Definitions()
}

// Execute validates args and runs the named tool. Unknown or disabled
// tools return an error wrapping ErrUnknownTool.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	tool := e.registry.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := ValidateArgs(tool.Schema, args); err != nil {
		e.record(name, args, Result{Error: err.Error()})
		return nil, &ExecutionError{Tool: name, Message: "validation failed", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := tool.Executor.Execute(ctx, args)
	res.Duration = time.Since(start)

	if err == nil && !res.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ctx.Err()
	}
	if err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	e.record(name, args, res)

	e.logger.Debug("tool_exec",
		zap.String("tool", name),
		zap.Bool("success", res.Success),
		zap.Duration("duration", res.Duration),
	)

	switch {
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ExecutionError{Tool: name, Message: "timed out after " + e.timeout.String(), Cause: err}
		}
		return nil, &ExecutionError{Tool: name, Message: "execution failed", Cause: err}
	case !res.Success:
		return nil, &ExecutionError{Tool: name, Message: res.Error}
	}
	return res.Output, nil
}

func (e *Executor) record(name string, params map[string]any, res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, ExecutionRecord{
		Tool:      name,
		Params:    params,
		Success:   res.Success,
		Error:     res.Error,
		Duration:  res.Duration,
		Timestamp: time.Now(),
	})
	if over := len(e.history) - e.maxHistory; over > 0 {
		e.history = append([]ExecutionRecord(nil), e.history[over:]...)
	}
}

// History returns a copy of the execution history, oldest first.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExecutionRecord(nil), e.history...)
}

// Stats summarizes the execution history.
func (e *Executor) Stats() ExecutionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s ExecutionStats
	for _, r := range e.history {
		s.Total++
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.TotalTime += r.Duration
	}
	return s
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateArgs checks required parameters, types and enums.
func ValidateArgs(schema Schema, args map[string]any) error {
	for _, p := range schema.Parameters {
		val, ok := args[p.Name]
		if !ok || val == nil {
			if p.Required {
				return &ValidationError{Param: p.Name, Message: "is required"}
			}
			continue
		}
		if err := validateType(p, val); err != nil {
			return err
		}
	}
	return nil
}

func validateType(p Parameter, val any) error {
	switch p.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return &ValidationError{Param: p.Name, Message: "must be a string"}
		}
		if len(p.Enum) > 0 {
			for _, e := range p.Enum {
				if s == e {
					return nil
				}
			}
			return &ValidationError{Param: p.Name, Message: fmt.Sprintf("must be one of %v", p.Enum)}
		}
	case "integer":
		switch v := val.(type) {
		case int, int64:
		case float64:
			if v != math.Trunc(v) {
				return &ValidationError{Param: p.Name, Message: "must be an integer"}
			}
		default:
			return &ValidationError{Param: p.Name, Message: "must be an integer"}
		}
	case "number":
		switch val.(type) {
		case int, int64, float64:
		default:
			return &ValidationError{Param: p.Name, Message: "must be a number"}
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return &ValidationError{Param: p.Name, Message: "must be a boolean"}
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return &ValidationError{Param: p.Name, Message: "must be an array"}
		}
	}
	return nil
}

// =============================================================================
// PARAM HELPERS
// =============================================================================

func stringParam(params map[string]any, name, def string) string {
	if s, ok := params[name].(string); ok && s != "" {
		return s
	}
	return def
}

func intParam(params map[string]any, name string, def int) int {
	switch v := params[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}
