// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// NameSeparator joins server and tool names in advertised tool names.
const NameSeparator = "__"

// ServerStatus is the lifecycle state of a server.
type ServerStatus string

const (
	StatusStopped ServerStatus = "stopped"
	StatusReady   ServerStatus = "ready"
	StatusFailed  ServerStatus = "failed"
)

// ServerState reports one server.
type ServerState struct {
	Name   string       `json:"name"`
	Status ServerStatus `json:"status"`
	Tools  int          `json:"tools"`
	Error  string       `json:"error,omitempty"`
}

// Manager owns the server connections and implements tools.Provider.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	errs    map[string]error
}

// NewManager creates a manager for the configured servers. Nothing is
// started until Start.
func NewManager(servers map[string]ServerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:  logger,
		clients: make(map[string]*Client, len(servers)),
		errs:    make(map[string]error),
	}
	for name, cfg := range servers {
		m.clients[name] = NewClient(name, cfg)
	}
	return m
}

// AddClient registers an additional client.
func (m *Manager) AddClient(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.Name()] = c
}

// Start connects to every server concurrently. A server that fails to
// start is logged and left out; Start itself only fails on cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clients {
		g.Go(func() error {
			err := c.Start(gctx)
			m.mu.Lock()
			if err != nil {
				m.errs[c.Name()] = err
			} else {
				delete(m.errs, c.Name())
			}
			m.mu.Unlock()
			if err != nil {
				m.logger.Warn("mcp_server_failed", zap.String("server", c.Name()), zap.Error(err))
			} else {
				m.logger.Info("mcp_server_ready", zap.String("server", c.Name()), zap.Int("tools", len(c.Tools())))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close stops every server.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, c := range m.clients {
		if err := c.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status reports every server, sorted by name.
func (m *Manager) Status() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerState, 0, len(m.clients))
	for name, c := range m.clients {
		st := ServerState{Name: name, Status: StatusStopped}
		switch {
		case c.IsRunning():
			st.Status = StatusReady
			st.Tools = len(c.Tools())
		case m.errs[name] != nil:
			st.Status = StatusFailed
			st.Error = m.errs[name].Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions lists the tools of every running server as server__tool.
func (m *Manager) Definitions(ctx context.Context) []ollama.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []ollama.Tool
	for _, name := range names {
		c := m.clients[name]
		if !c.IsRunning() {
			continue
		}
		for _, spec := range c.Tools() {
			out = append(out, ollama.Tool{
				Type: "function",
				Function: ollama.ToolSchema{
					Name:        name + NameSeparator + spec.Name,
					Description: spec.Description,
					Parameters:  spec.Schema,
				},
			})
		}
	}
	return out
}

// Execute routes server__tool to its server. Names without a running
// server prefix yield tools.ErrUnknownTool.
func (m *Manager) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	server, tool, ok := strings.Cut(name, NameSeparator)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}

	m.mu.RLock()
	c := m.clients[server]
	m.mu.RUnlock()
	if c == nil || !c.IsRunning() {
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
	return c.CallTool(ctx, tool, args)
}

var _ tools.Provider = (*Manager)(nil)
