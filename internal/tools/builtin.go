// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"time"
)

// BuiltinConfig selects and configures the built-in tools.
type BuiltinConfig struct {
	// WorkspaceDir confines the file tools. Empty disables them.
	WorkspaceDir string

	// EnableFetch registers fetch_url.
	EnableFetch bool

	// FetchAllowPrivate lets fetch_url reach private and loopback
	// addresses over plain HTTP. Intended for local development.
	FetchAllowPrivate bool

	// FetchMaxBytes caps fetched bodies (default 2MB).
	FetchMaxBytes int64
}

// RegisterBuiltins adds the built-in tools to r.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	r.Register(CurrentTimeTool())

	if cfg.WorkspaceDir != "" {
		ws, err := NewWorkspace(cfg.WorkspaceDir)
		if err != nil {
			return err
		}
		r.Register(ReadFileTool(ws))
		r.Register(ListFilesTool(ws))
	}

	if cfg.EnableFetch {
		r.Register(FetchURLTool(&Fetcher{
			AllowPrivate: cfg.FetchAllowPrivate,
			MaxBytes:     cfg.FetchMaxBytes,
		}))
	}
	return nil
}

// =============================================================================
// get_current_time
// =============================================================================

// CurrentTimeTool reports the current time.
func CurrentTimeTool() *Tool {
	return &Tool{
		Name:        "get_current_time",
		Description: "Get the current date and time, optionally in an IANA time zone such as Europe/Paris.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "timezone", Type: "string", Description: "IANA time zone name (default: server local time)"},
		}},
		RiskLevel: RiskLow,
		Executor: ExecutorFunc(func(ctx context.Context, params map[string]any) (Result, error) {
			now := time.Now()
			if tz := stringParam(params, "timezone", ""); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return Failure("unknown time zone " + tz), nil
				}
				now = now.In(loc)
			}
			return Success(map[string]any{
				"time":     now.Format(time.RFC3339),
				"weekday":  now.Weekday().String(),
				"timezone": now.Location().String(),
				"unix":     now.Unix(),
			}), nil
		}),
	}
}
