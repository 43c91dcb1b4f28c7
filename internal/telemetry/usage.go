// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// USAGE TRACKER
// =============================================================================

// TokenCount tracks input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ModelUsage is the running total for one model.
type ModelUsage struct {
	Model      string        `json:"model"`
	Turns      int           `json:"turns"`
	Tokens     TokenCount    `json:"tokens"`
	Generation time.Duration `json:"generationNs"`
	LastUsed   time.Time     `json:"lastUsed"`
}

// TokensPerSecond is the average output rate.
func (u ModelUsage) TokensPerSecond() float64 {
	if u.Generation <= 0 {
		return 0
	}
	return float64(u.Tokens.Output) / u.Generation.Seconds()
}

// UsageSummary is the tracker state returned to callers.
type UsageSummary struct {
	Since  time.Time    `json:"since"`
	Total  TokenCount   `json:"total"`
	Turns  int          `json:"turns"`
	Models []ModelUsage `json:"models"`
}

// UsageTracker accumulates token usage per model. It is safe for
// concurrent use.
type UsageTracker struct {
	mu     sync.Mutex
	start  time.Time
	models map[string]*ModelUsage
	now    func() time.Time
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		start:  time.Now(),
		models: make(map[string]*ModelUsage),
		now:    time.Now,
	}
}

// Record adds one backend round's usage.
func (t *UsageTracker) Record(model string, input, output int, generation time.Duration) {
	if t == nil || model == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.models[model]
	if u == nil {
		u = &ModelUsage{Model: model}
		t.models[model] = u
	}
	u.Turns++
	u.Tokens.Input += input
	u.Tokens.Output += output
	u.Generation += generation
	u.LastUsed = t.now()
}

// Summary returns totals with models ordered by output tokens, highest
// first.
func (t *UsageTracker) Summary() UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := UsageSummary{Since: t.start, Models: make([]ModelUsage, 0, len(t.models))}
	for _, u := range t.models {
		s.Models = append(s.Models, *u)
		s.Total.Input += u.Tokens.Input
		s.Total.Output += u.Tokens.Output
		s.Turns += u.Turns
	}
	sort.Slice(s.Models, func(i, j int) bool {
		if s.Models[i].Tokens.Output != s.Models[j].Tokens.Output {
			return s.Models[i].Tokens.Output > s.Models[j].Tokens.Output
		}
		return s.Models[i].Model < s.Models[j].Model
	})
	return s
}

// Reset clears all totals.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.now()
	t.models = make(map[string]*ModelUsage)
}
