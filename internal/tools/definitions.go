// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// =============================================================================
// RISK LEVELS
// =============================================================================

// RiskLevel indicates how dangerous a tool operation is.
type RiskLevel int

const (
	// RiskLow - Read-only operations, no side effects
	RiskLow RiskLevel = iota

	// RiskMedium - Reaches outside the machine or reads broadly
	RiskMedium

	// RiskHigh - Modifies state
	RiskHigh
)

// String returns the string representation of a risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Tool represents an executable tool.
type Tool struct {
	// Name is the identifier the model calls (e.g., "read_file")
	Name string

	// Description is shown to the model
	Description string

	// Schema defines the tool's parameters
	Schema Schema

	// RiskLevel indicates how dangerous the tool is
	RiskLevel RiskLevel

	// Executor handles the actual execution
	Executor ToolExecutor
}

// Schema defines a tool's parameters.
type Schema struct {
	Parameters []Parameter
}

// Parameter defines a single tool parameter.
type Parameter struct {
	Name        string
	Type        string // "string", "integer", "number", "boolean", "array"
	Required    bool
	Description string
	Default     any
	Enum        []string
}

// JSONSchema renders the parameters as a JSON Schema object.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Parameters))
	required := make([]string, 0)
	for _, p := range s.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Definition converts the tool to Ollama's function definition.
func (t *Tool) Definition() ollama.Tool {
	return ollama.Tool{
		Type: "function",
		Function: ollama.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema.JSONSchema(),
		},
	}
}

// =============================================================================
// TOOL EXECUTOR INTERFACE
// =============================================================================

// ToolExecutor is the interface for individual tool execution.
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]any) (Result, error)
}

// ExecutorFunc adapts a function to ToolExecutor.
type ExecutorFunc func(ctx context.Context, params map[string]any) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, params map[string]any) (Result, error) {
	return f(ctx, params)
}

// Result holds the outcome of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool

	// Output is the tool's output, any JSON-encodable value
	Output any

	// Error is the error message (for failed execution)
	Error string

	// Duration is how long execution took
	Duration time.Duration

	// Truncated is set when output was cut to a size limit
	Truncated bool
}

// Failure builds a failed Result.
func Failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Success builds a successful Result.
func Success(output any) Result {
	return Result{Success: true, Output: output}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the local tools by name.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	disabled map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		disabled: make(map[string]bool),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the enabled tool with the given name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.disabled[name] {
		return nil
	}
	return r.tools[name]
}

// All returns enabled tools sorted by name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if !r.disabled[name] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetDisabled replaces the disabled list. Names are matched exactly after
// trimming whitespace.
func (r *Registry) SetDisabled(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			r.disabled[n] = true
		}
	}
}

// Definitions returns Ollama function definitions for the enabled tools.
func (r *Registry) Definitions() []ollama.Tool {
	all := r.All()
	out := make([]ollama.Tool, 0, len(all))
	for _, t := range all {
		out = append(out, t.Definition())
	}
	return out
}
