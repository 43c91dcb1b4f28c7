// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// Markdown renders answer text for the terminal. Renderers are built lazily
// per wrap width. Safe for concurrent use.
type Markdown struct {
	style   string
	profile termenv.Profile

	mu        sync.Mutex
	renderers map[int]*glamour.TermRenderer
	failed    map[int]bool
}

// NewMarkdown creates a renderer using a glamour standard style ("dark" or
// "light") and the terminal's color profile.
func NewMarkdown(style string, profile termenv.Profile) *Markdown {
	return &Markdown{
		style:     style,
		profile:   profile,
		renderers: make(map[int]*glamour.TermRenderer),
		failed:    make(map[int]bool),
	}
}

// Render renders md wrapped at width. Rendering problems fall back to the
// raw text.
func (m *Markdown) Render(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	if width < 20 {
		width = 20
	}
	r := m.renderer(width)
	if r == nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}

func (m *Markdown) renderer(width int) *glamour.TermRenderer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.renderers[width]; ok {
		return r
	}
	if m.failed[width] {
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithColorProfile(m.profile),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.failed[width] = true
		return nil
	}
	m.renderers[width] = r
	return r
}
