// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Capability names reported by /api/show.
const (
	CapabilityCompletion = "completion"
	CapabilityTools      = "tools"
	CapabilityThinking   = "thinking"
	CapabilityVision     = "vision"
)

type capEntry struct {
	caps    []string
	fetched time.Time
}

// Capabilities returns the capability list reported for model. Results are
// cached for CapabilityTTL. Older Ollama versions report no capabilities;
// in that case the list is inferred from the model family.
func (c *Client) Capabilities(ctx context.Context, model string) ([]string, error) {
	if model == "" {
		model = c.config.DefaultModel
	}

	c.capMu.Lock()
	entry, ok := c.capCache[model]
	c.capMu.Unlock()
	if ok && time.Since(entry.fetched) < c.config.CapabilityTTL {
		return entry.caps, nil
	}

	info, err := c.ShowModel(ctx, model)
	if err != nil {
		return nil, err
	}

	caps := info.Capabilities
	if len(caps) == 0 {
		caps = inferCapabilities(model)
	}

	c.capMu.Lock()
	c.capCache[model] = capEntry{caps: caps, fetched: time.Now()}
	c.capMu.Unlock()
	return caps, nil
}

// SupportsTools reports whether model accepts tool definitions.
func (c *Client) SupportsTools(ctx context.Context, model string) (bool, error) {
	caps, err := c.Capabilities(ctx, model)
	if err != nil {
		return false, err
	}
	return slices.Contains(caps, CapabilityTools), nil
}

// SupportsThinking reports whether model emits separate reasoning output.
func (c *Client) SupportsThinking(ctx context.Context, model string) (bool, error) {
	caps, err := c.Capabilities(ctx, model)
	if err != nil {
		return false, err
	}
	return slices.Contains(caps, CapabilityThinking), nil
}

// =============================================================================
// FAMILY FALLBACK
// =============================================================================

// toolFamilies lists model families known to support native tool calling.
var toolFamilies = []string{
	"llama3.1", "llama3.2", "llama3.3", "llama4",
	"qwen2.5", "qwen2.5-coder", "qwen3", "qwq",
	"mistral", "mistral-nemo", "mistral-small", "mixtral",
	"command-r", "command-r-plus", "firefunction-v2",
	"hermes3", "granite3", "smollm2", "gpt-oss", "deepseek-r1",
}

// thinkingFamilies lists model families that emit reasoning.
var thinkingFamilies = []string{"qwen3", "qwq", "deepseek-r1", "gpt-oss", "magistral"}

// FamilySupportsTools reports tool support from the model name alone.
func FamilySupportsTools(model string) bool {
	return matchesFamily(model, toolFamilies)
}

func inferCapabilities(model string) []string {
	caps := []string{CapabilityCompletion}
	if matchesFamily(model, toolFamilies) {
		caps = append(caps, CapabilityTools)
	}
	if matchesFamily(model, thinkingFamilies) {
		caps = append(caps, CapabilityThinking)
	}
	return caps
}

// matchesFamily normalizes "qwen2.5-coder:14b-instruct" to "qwen2.5-coder"
// and checks it against the family list by prefix.
func matchesFamily(model string, families []string) bool {
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i != -1 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i != -1 {
		name = name[:i]
	}
	for _, f := range families {
		if strings.HasPrefix(name, f) {
			return true
		}
	}
	return false
}
