// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxReadBytes   = 1 << 20
	maxReadLines   = 2000
	maxLineLength  = 2000
	maxListResults = 500
)

// sensitivePatterns are path fragments and extensions that are never read.
var sensitivePatterns = []string{
	".env", "id_rsa", "id_ed25519", "id_ecdsa", ".ssh/", ".aws/", ".kube/",
	".git-credentials", ".netrc", ".npmrc", ".pypirc",
	".pem", ".key", ".p12", ".pfx",
	"credentials", "secrets",
}

// ErrOutsideWorkspace is returned for paths that escape the workspace.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// ErrSensitivePath is returned for credential-like files.
var ErrSensitivePath = errors.New("access denied: file may contain credentials or secrets")

// =============================================================================
// WORKSPACE
// =============================================================================

// Workspace confines file access to one directory tree.
type Workspace struct {
	root string
}

// NewWorkspace resolves dir to an absolute, symlink-free root.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace %q: %w", dir, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace %q: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workspace %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %q is not a directory", dir)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a workspace-relative (or absolute) path to a real path
// inside the workspace, following symlinks.
func (w *Workspace) Resolve(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	real, err := filepath.EvalSymlinks(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	if !w.contains(real) {
		return "", ErrOutsideWorkspace
	}
	if isSensitivePath(real) {
		return "", ErrSensitivePath
	}
	return real, nil
}

func (w *Workspace) contains(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isSensitivePath(p string) bool {
	lower := strings.ToLower(filepath.ToSlash(p))
	base := filepath.Base(lower)
	for _, pat := range sensitivePatterns {
		if strings.HasPrefix(pat, ".") && !strings.Contains(pat, "/") {
			if strings.HasSuffix(base, pat) || strings.HasPrefix(base, pat+".") {
				return true
			}
			continue
		}
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// =============================================================================
// read_file
// =============================================================================

// ReadFileTool reads text files inside ws.
func ReadFileTool(ws *Workspace) *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read a text file from the workspace. Lines are numbered. Use offset and limit for large files.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "path", Type: "string", Required: true, Description: "File path relative to the workspace"},
			{Name: "offset", Type: "integer", Description: "First line to read (1-based)", Default: 1},
			{Name: "limit", Type: "integer", Description: "Maximum lines to read", Default: maxReadLines},
		}},
		RiskLevel: RiskLow,
		Executor: ExecutorFunc(func(ctx context.Context, params map[string]any) (Result, error) {
			return readFile(ctx, ws, params)
		}),
	}
}

func readFile(ctx context.Context, ws *Workspace, params map[string]any) (Result, error) {
	path, err := ws.Resolve(stringParam(params, "path", ""))
	if err != nil {
		return Failure(err.Error()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Failure("cannot open file: " + err.Error()), nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Failure("cannot access file: " + err.Error()), nil
	}
	if info.IsDir() {
		return Failure("cannot read a directory, use list_files instead"), nil
	}
	if info.Size() > maxReadBytes {
		return Failure(fmt.Sprintf("file too large (%d bytes, max %d)", info.Size(), maxReadBytes)), nil
	}
	if isBinary(f) {
		return Failure("cannot read binary file"), nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return Failure(err.Error()), nil
	}

	offset := max(intParam(params, "offset", 1), 1)
	limit := intParam(params, "limit", maxReadLines)
	if limit <= 0 || limit > maxReadLines {
		limit = maxReadLines
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReadBytes)

	lineNum, read, truncated := 0, 0, false
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if read >= limit {
			truncated = true
			break
		}
		if read%100 == 0 && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", lineNum, line)
		read++
	}
	if err := scanner.Err(); err != nil {
		return Failure("error reading file: " + err.Error()), nil
	}

	rel, _ := filepath.Rel(ws.root, path)
	return Result{
		Success: true,
		Output: map[string]any{
			"path":      filepath.ToSlash(rel),
			"content":   sb.String(),
			"lines":     read,
			"truncated": truncated,
		},
		Truncated: truncated,
	}, nil
}

// isBinary sniffs the first 512 bytes for NULs or mostly non-text bytes.
func isBinary(f *os.File) bool {
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	buf = buf[:n]
	nonText := 0
	for _, b := range buf {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			nonText++
		}
	}
	return float64(nonText)/float64(n) > 0.30
}

// =============================================================================
// list_files
// =============================================================================

// ListFilesTool lists files inside ws matching a glob.
func ListFilesTool(ws *Workspace) *Tool {
	return &Tool{
		Name:        "list_files",
		Description: "List files in the workspace whose name or relative path matches a glob pattern such as *.go or docs/*.md.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "pattern", Type: "string", Description: "Glob pattern (default: *)", Default: "*"},
			{Name: "dir", Type: "string", Description: "Subdirectory to search (default: workspace root)"},
		}},
		RiskLevel: RiskLow,
		Executor: ExecutorFunc(func(ctx context.Context, params map[string]any) (Result, error) {
			return listFiles(ctx, ws, params)
		}),
	}
}

func listFiles(ctx context.Context, ws *Workspace, params map[string]any) (Result, error) {
	pattern := stringParam(params, "pattern", "*")
	if _, err := filepath.Match(pattern, ""); err != nil {
		return Failure("invalid pattern: " + err.Error()), nil
	}

	start := ws.root
	if dir := stringParam(params, "dir", ""); dir != "" {
		resolved, err := ws.Resolve(dir)
		if err != nil {
			return Failure(err.Error()), nil
		}
		start = resolved
	}

	var matches []string
	truncated := false
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if name := d.Name(); p != start && (name == ".git" || name == "node_modules" || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(ws.root, p)
		rel = filepath.ToSlash(rel)
		if isSensitivePath(p) {
			return nil
		}
		baseOK, _ := filepath.Match(pattern, d.Name())
		relOK, _ := filepath.Match(pattern, rel)
		if baseOK || relOK {
			if len(matches) >= maxListResults {
				truncated = true
				return filepath.SkipAll
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:   true,
		Output:    map[string]any{"files": matches, "count": len(matches), "truncated": truncated},
		Truncated: truncated,
	}, nil
}
