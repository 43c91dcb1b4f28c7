// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics and token usage tracking
// for rigrun-chat.
//
// # Key Types
//
//   - Metrics: Prometheus collectors on a private registry, nil-safe
//   - UsageTracker: In-memory token totals per model since startup
//
// # Usage
//
//	m := telemetry.NewMetrics()
//	m.StreamFinished("done", time.Since(start))
//	http.Handle("/metrics", m.Handler())
//
// # Privacy
//
// Usage tracking is local-only and does not transmit any data.
// Message content is never recorded, only token counts and durations.
package telemetry
