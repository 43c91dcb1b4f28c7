// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mcp connects to Model Context Protocol servers and exposes their
// tools as a fallback tool provider.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// =============================================================================
// SERVER CONFIG
// =============================================================================

// ServerConfig describes one MCP server. Command selects the stdio
// transport, URL the streamable HTTP transport.
type ServerConfig struct {
	Type    string            `toml:"type" yaml:"type" json:"type,omitempty"`
	Command string            `toml:"command" yaml:"command" json:"command,omitempty"`
	Args    []string          `toml:"args" yaml:"args" json:"args,omitempty"`
	URL     string            `toml:"url" yaml:"url" json:"url,omitempty"`
	Headers map[string]string `toml:"headers" yaml:"headers" json:"headers,omitempty"`
	Env     map[string]string `toml:"env" yaml:"env" json:"env,omitempty"`
}

// TransportType returns "http" or "stdio".
func (c ServerConfig) TransportType() string {
	if c.Type == "http" || c.URL != "" {
		return "http"
	}
	return "stdio"
}

// Validate checks that exactly one transport is configured.
func (c ServerConfig) Validate() error {
	if c.Command != "" && c.URL != "" {
		return errors.New("cannot specify both url and command")
	}
	if c.TransportType() == "http" {
		if c.URL == "" {
			return errors.New("http transport requires url")
		}
		return nil
	}
	if c.Command == "" {
		return errors.New("stdio transport requires command")
	}
	return nil
}

// =============================================================================
// CLIENT
// =============================================================================

// ToolSpec describes a tool offered by a server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client is one server connection.
type Client struct {
	name      string
	config    ServerConfig
	transport mcp.Transport

	mu      sync.RWMutex
	session *mcp.ClientSession
	tools   []ToolSpec
}

// NewClient creates a client for a configured server.
func NewClient(name string, config ServerConfig) *Client {
	return &Client{name: name, config: config}
}

// NewClientWithTransport creates a client over an existing transport.
func NewClientWithTransport(name string, transport mcp.Transport) *Client {
	return &Client{name: name, transport: transport}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Start connects and lists the server's tools.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "rigrun-chat", Version: "1.0.0"}, nil)

	transport := c.transport
	if transport == nil {
		if err := c.config.Validate(); err != nil {
			return fmt.Errorf("mcp server %s: %w", c.name, err)
		}
		transport = c.newTransport(ctx)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to mcp server %s: %w", c.name, err)
	}

	tools, err := listTools(ctx, session)
	if err != nil {
		session.Close()
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}

	c.session = session
	c.tools = tools
	return nil
}

func (c *Client) newTransport(ctx context.Context) mcp.Transport {
	if c.config.TransportType() == "http" {
		httpClient := http.DefaultClient
		if len(c.config.Headers) > 0 {
			httpClient = &http.Client{Transport: &headerTransport{
				headers: c.config.Headers,
				base:    http.DefaultTransport,
			}}
		}
		return &mcp.StreamableClientTransport{Endpoint: c.config.URL, HTTPClient: httpClient}
	}

	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

func listTools(ctx context.Context, session *mcp.ClientSession) ([]ToolSpec, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	specs := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, _ := t.InputSchema.(map[string]any)
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, ToolSpec{Name: t.Name, Description: t.Description, Schema: schema})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// Stop closes the connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.tools = nil
	return err
}

// IsRunning reports whether the client is connected.
func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// Tools returns the tools listed at connect time.
func (c *Client) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes a tool and returns its text content.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return "", fmt.Errorf("mcp server %s is not running", c.name)
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	text := formatContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			sb.WriteString(v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				sb.Write(data)
			}
		}
	}
	return sb.String()
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
