// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// ErrUnknownTool is returned by a Provider that does not serve a name.
var ErrUnknownTool = errors.New("unknown tool")

// Provider lists tool definitions and executes tools by name. A successful
// result is any JSON-encodable value.
type Provider interface {
	Definitions(ctx context.Context) []ollama.Tool
	Execute(ctx context.Context, name string, args map[string]any) (any, error)
}

// Chain consults providers in order: the first provider that does not
// answer ErrUnknownTool handles the call.
type Chain struct {
	providers []Provider
}

// NewChain builds a chain, skipping nil providers.
func NewChain(providers ...Provider) *Chain {
	c := &Chain{}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Definitions merges definitions; earlier providers win name collisions.
func (c *Chain) Definitions(ctx context.Context) []ollama.Tool {
	seen := make(map[string]bool)
	var out []ollama.Tool
	for _, p := range c.providers {
		for _, def := range p.Definitions(ctx) {
			if seen[def.Function.Name] {
				continue
			}
			seen[def.Function.Name] = true
			out = append(out, def)
		}
	}
	return out
}

// Execute runs name on the first provider that knows it.
func (c *Chain) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	for _, p := range c.providers {
		out, err := p.Execute(ctx, name, args)
		if errors.Is(err, ErrUnknownTool) {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}
