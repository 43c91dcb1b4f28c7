// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo",
		Schema: Schema{Parameters: []Parameter{
			{Name: "text", Type: "string", Required: true},
			{Name: "mode", Type: "string", Enum: []string{"plain", "loud"}},
		}},
		Executor: ExecutorFunc(func(ctx context.Context, params map[string]any) (Result, error) {
			s := params["text"].(string)
			if params["mode"] == "loud" {
				s = strings.ToUpper(s)
			}
			return Success(s), nil
		}),
	}
}

func TestRegistry_DisableHidesTool(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("b"))
	r.Register(echoTool("a"))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)

	r.SetDisabled([]string{" a "})
	assert.Nil(t, r.Get("a"))
	assert.Len(t, r.Definitions(), 1)

	r.SetDisabled(nil)
	assert.NotNil(t, r.Get("a"))
}

func TestSchema_JSONSchema(t *testing.T) {
	def := echoTool("echo").Definition()
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, "echo", def.Function.Name)

	params := def.Function.Parameters
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"text"}, params["required"])
	props := params["properties"].(map[string]any)
	assert.Contains(t, props, "mode")
}

// =============================================================================
// EXECUTOR TESTS
// =============================================================================

func TestExecutor_Execute(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))
	e := NewExecutor(r, nil)

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		want    any
		wantErr error
	}{
		{name: "ok", tool: "echo", args: map[string]any{"text": "hi"}, want: "hi"},
		{name: "enum", tool: "echo", args: map[string]any{"text": "hi", "mode": "loud"}, want: "HI"},
		{name: "unknown", tool: "nope", wantErr: ErrUnknownTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Execute(context.Background(), tt.tool, tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutor_ValidationErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))
	e := NewExecutor(r, nil)

	cases := []map[string]any{
		{},
		{"text": 42.0},
		{"text": "x", "mode": "quiet"},
	}
	for i, args := range cases {
		_, err := e.Execute(context.Background(), "echo", args)
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr, "case %d", i)
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr, "case %d", i)
	}
	assert.Equal(t, 3, e.Stats().Failed)
}

func TestExecutor_FailedResultBecomesError(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "bad", Executor: ExecutorFunc(func(context.Context, map[string]any) (Result, error) {
		return Failure("nope"), nil
	})})
	e := NewExecutor(r, nil)

	_, err := e.Execute(context.Background(), "bad", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestExecutor_Timeout(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "slow", Executor: ExecutorFunc(func(ctx context.Context, _ map[string]any) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})})
	e := NewExecutor(r, nil, WithTimeout(20*time.Millisecond))

	_, err := e.Execute(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecutor_HistoryBounded(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))
	e := NewExecutor(r, nil, WithHistorySize(3))

	for i := 0; i < 5; i++ {
		_, err := e.Execute(context.Background(), "echo", map[string]any{"text": fmt.Sprint(i)})
		require.NoError(t, err)
	}
	h := e.History()
	require.Len(t, h, 3)
	assert.Equal(t, "2", h[0].Params["text"])
	assert.Equal(t, 3, e.Stats().Succeeded)
}

// =============================================================================
// CHAIN TESTS
// =============================================================================

type staticProvider struct {
	names []string
	tag   string
}

func (p *staticProvider) Definitions(context.Context) []ollama.Tool {
	var out []ollama.Tool
	for _, n := range p.names {
		out = append(out, ollama.Tool{Type: "function", Function: ollama.ToolSchema{Name: n}})
	}
	return out
}

func (p *staticProvider) Execute(_ context.Context, name string, _ map[string]any) (any, error) {
	for _, n := range p.names {
		if n == name {
			return p.tag, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

func TestChain_FirstProviderWins(t *testing.T) {
	c := NewChain(
		&staticProvider{names: []string{"a", "b"}, tag: "local"},
		nil,
		&staticProvider{names: []string{"b", "c"}, tag: "remote"},
	)

	defs := c.Definitions(context.Background())
	require.Len(t, defs, 3)

	got, err := c.Execute(context.Background(), "b", nil)
	require.NoError(t, err)
	assert.Equal(t, "local", got)

	got, err = c.Execute(context.Background(), "c", nil)
	require.NoError(t, err)
	assert.Equal(t, "remote", got)

	_, err = c.Execute(context.Background(), "z", nil)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

// =============================================================================
// BUILTIN TESTS
// =============================================================================

func TestCurrentTime(t *testing.T) {
	res, err := CurrentTimeTool().Executor.Execute(context.Background(), map[string]any{"timezone": "UTC"})
	require.NoError(t, err)
	require.True(t, res.Success)
	out := res.Output.(map[string]any)
	assert.Equal(t, "UTC", out["timezone"])
	_, perr := time.Parse(time.RFC3339, out["time"].(string))
	assert.NoError(t, perr)

	res, err = CurrentTimeTool().Executor.Execute(context.Background(), map[string]any{"timezone": "Mars/Olympus"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("one\ntwo\nthree\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOKEN=x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0x7f, 'E', 'L', 'F', 0, 0, 1}, 0o644))
	ws, err := NewWorkspace(dir)
	require.NoError(t, err)
	return ws
}

func TestReadFile(t *testing.T) {
	ws := newWorkspace(t)
	tool := ReadFileTool(ws)

	tests := []struct {
		name    string
		args    map[string]any
		ok      bool
		contain string
	}{
		{name: "whole file", args: map[string]any{"path": "notes.txt"}, ok: true, contain: "     2\ttwo"},
		{name: "offset", args: map[string]any{"path": "notes.txt", "offset": 3.0}, ok: true, contain: "three"},
		{name: "escape", args: map[string]any{"path": "../outside.txt"}, ok: false},
		{name: "sensitive", args: map[string]any{"path": ".env"}, ok: false, contain: "credentials"},
		{name: "binary", args: map[string]any{"path": "blob.bin"}, ok: false, contain: "binary"},
		{name: "directory", args: map[string]any{"path": "src"}, ok: false, contain: "list_files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Executor.Execute(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.Success, res.Error)
			if tt.contain == "" {
				return
			}
			if tt.ok {
				assert.Contains(t, res.Output.(map[string]any)["content"], tt.contain)
			} else {
				assert.Contains(t, res.Error, tt.contain)
			}
		})
	}
}

func TestReadFile_Limit(t *testing.T) {
	ws := newWorkspace(t)
	res, err := ReadFileTool(ws).Executor.Execute(context.Background(), map[string]any{"path": "notes.txt", "limit": 1.0})
	require.NoError(t, err)
	require.True(t, res.Success)
	out := res.Output.(map[string]any)
	assert.Equal(t, 1, out["lines"])
	assert.Equal(t, true, out["truncated"])
}

func TestWorkspace_RejectsSymlinkEscape(t *testing.T) {
	ws := newWorkspace(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	if err := os.Symlink(target, filepath.Join(ws.Root(), "link.txt")); err != nil {
		t.Skip("symlinks not supported:", err)
	}

	_, err := ws.Resolve("link.txt")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestListFiles(t *testing.T) {
	ws := newWorkspace(t)
	tool := ListFilesTool(ws)

	res, err := tool.Executor.Execute(context.Background(), map[string]any{"pattern": "*.go"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, []string{"src/main.go"}, res.Output.(map[string]any)["files"])

	res, err = tool.Executor.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	files := res.Output.(map[string]any)["files"].([]string)
	assert.NotContains(t, files, ".env")
	assert.Contains(t, files, "notes.txt")

	res, err = tool.Executor.Execute(context.Background(), map[string]any{"pattern": "[", "dir": ""})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFetcher_ValidateURL(t *testing.T) {
	f := &Fetcher{}
	tests := []struct {
		url     string
		wantErr error
	}{
		{"ftp://example.com/x", ErrInvalidScheme},
		{"http://localhost:8080/", ErrBlockedHost},
		{"http://169.254.169.254/latest/meta-data", ErrBlockedHost},
		{"http://10.1.2.3/", ErrBlockedIP},
		{"http://[::1]/", ErrBlockedIP},
		{"https:///nohost", ErrInvalidURL},
		{"https://example.com/page", nil},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := f.ValidateURL(tt.url)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https", u.Scheme)
		})
	}
}

func TestFetchURL_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>T</title><style>p{}</style></head><body>
<h1>Title</h1><p>Hello &amp; <a href="https://go.dev">Go</a></p><script>x()</script></body></html>`)
	}))
	defer srv.Close()

	tool := FetchURLTool(&Fetcher{AllowPrivate: true})
	res, err := tool.Executor.Execute(context.Background(), map[string]any{"url": srv.URL, "format": "markdown"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	out := res.Output.(*FetchResult)
	assert.Contains(t, out.Content, "# Title")
	assert.Contains(t, out.Content, "Hello & [Go](https://go.dev)")
	assert.NotContains(t, out.Content, "x()")
	assert.NotContains(t, out.Content, "p{}")
}

func TestFetchURL_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("a", 100))
	}))
	defer srv.Close()

	res, err := (&Fetcher{AllowPrivate: true, MaxBytes: 10}).Fetch(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Content, 10)
}

func TestFetchURL_BlocksLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	res, err := FetchURLTool(&Fetcher{}).Executor.Execute(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinConfig{WorkspaceDir: t.TempDir(), EnableFetch: true}))
	for _, name := range []string{"get_current_time", "read_file", "list_files", "fetch_url"} {
		assert.NotNil(t, r.Get(name), name)
	}

	r = NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinConfig{}))
	assert.Len(t, r.All(), 1)

	assert.Error(t, RegisterBuiltins(NewRegistry(), BuiltinConfig{WorkspaceDir: filepath.Join(t.TempDir(), "missing")}))
}
