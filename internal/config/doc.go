// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-chat.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_*), including those from .env files
//   - ~/.rigrun-chat/config.toml
//   - ~/.rigrun-chat/config.yaml (or .yml)
//   - ~/.rigrun-chat/config.json
//   - Built-in defaults
//
// Only the first config file found is read.
//
// # Live Reload
//
// Watch observes the loaded file and reports validated configurations as
// they change. The server applies the log level and the disabled-tool list
// without a restart.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	addr := cfg.Server.Addr
package config
