// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/tools"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func startTestServer(t *testing.T) sdkmcp.Transport {
	t.Helper()
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "calc", Version: "0.0.1"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "add", Description: "Add two integers"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, args addArgs) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: strconv.Itoa(args.A + args.B)}},
			}, nil, nil
		})
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "fail", Description: "Always fails"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, args map[string]any) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{
				IsError: true,
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "broken"}},
			}, nil, nil
		})

	clientT, serverT := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })
	return clientT
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"stdio", ServerConfig{Command: "server"}, false},
		{"http", ServerConfig{URL: "http://localhost:9000/mcp"}, false},
		{"both", ServerConfig{Command: "x", URL: "http://x"}, true},
		{"http without url", ServerConfig{Type: "http"}, true},
		{"empty", ServerConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStdioTransport_InheritsEnv(t *testing.T) {
	c := NewClient("test", ServerConfig{Command: "echo", Env: map[string]string{"CUSTOM": "1"}})
	ct, ok := c.newTransport(context.Background()).(*sdkmcp.CommandTransport)
	require.True(t, ok)

	var hasPath, hasCustom bool
	for _, e := range ct.Command.Env {
		hasPath = hasPath || strings.HasPrefix(e, "PATH=")
		hasCustom = hasCustom || e == "CUSTOM=1"
	}
	assert.True(t, hasCustom)
	assert.True(t, hasPath)

	c = NewClient("test", ServerConfig{Command: "echo"})
	ct = c.newTransport(context.Background()).(*sdkmcp.CommandTransport)
	assert.Nil(t, ct.Command.Env)
}

func TestManager_ProvidesServerTools(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)
	m.AddClient(NewClientWithTransport("calc", startTestServer(t)))
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	defs := m.Definitions(ctx)
	require.Len(t, defs, 2)
	assert.Equal(t, "calc__add", defs[0].Function.Name)
	assert.Equal(t, "object", defs[0].Function.Parameters["type"])

	out, err := m.Execute(ctx, "calc__add", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "5", out)

	_, err = m.Execute(ctx, "calc__fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	_, err = m.Execute(ctx, "other__add", nil)
	assert.True(t, errors.Is(err, tools.ErrUnknownTool))
	_, err = m.Execute(ctx, "add", nil)
	assert.True(t, errors.Is(err, tools.ErrUnknownTool))

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StatusReady, status[0].Status)
	assert.Equal(t, 2, status[0].Tools)
}

func TestManager_FailedServerIsReported(t *testing.T) {
	m := NewManager(map[string]ServerConfig{"broken": {}}, nil)
	require.NoError(t, m.Start(context.Background()))

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StatusFailed, status[0].Status)
	assert.Empty(t, m.Definitions(context.Background()))
}

func TestChain_FallsBackToManager(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)
	m.AddClient(NewClientWithTransport("calc", startTestServer(t)))
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry, tools.BuiltinConfig{}))
	chain := tools.NewChain(tools.NewExecutor(registry, nil), m)

	assert.Len(t, chain.Definitions(ctx), 3)
	out, err := chain.Execute(ctx, "calc__add", map[string]any{"a": 1, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}
