// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the tools a model may call while answering.
//
// Tools are advertised to Ollama as JSON Schema function definitions and
// executed through a Provider. The local Registry holds the built-in tools;
// a Chain consults several providers in order so that external tool servers
// act as a fallback for names the registry does not know.
//
// # Key Types
//
//   - Tool: Tool definition with name, description, schema and executor
//   - Registry: Named set of local tools, with a disabled list
//   - Executor: Runs registry tools with validation, timeouts and history
//   - Provider: Anything that can list tool definitions and execute by name
//   - Chain: Ordered providers; the first that knows a tool runs it
//
// # Built-in Tools
//
//   - get_current_time: Current time, optionally in a named time zone
//   - read_file: Read a text file inside the workspace
//   - list_files: Glob for files inside the workspace
//   - fetch_url: Fetch a public web page as readable text
//
// # Security
//
// File tools are confined to the configured workspace directory and refuse
// credential files. fetch_url refuses private, loopback and metadata
// addresses, including after DNS resolution and redirects.
package tools
