// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNew_FileSinkAndAtomicLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	log, level, err := New(Config{Level: "warn", Format: "json", Output: "file:" + path})
	require.NoError(t, err)

	log.Info("hidden_event")
	level.SetLevel(zapcore.InfoLevel)
	log.Info("visible_event", zap.String("k", "v"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden_event")
	assert.Contains(t, string(data), `"msg":"visible_event"`)
}

func TestNew_Rejects(t *testing.T) {
	_, _, err := New(Config{Format: "xml"})
	assert.Error(t, err)
	_, _, err = New(Config{Output: "syslog"})
	assert.Error(t, err)
}

func TestSafeHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/chats", nil)
	r.Header.Set("Authorization", "Bearer secret")
	r.Header.Set("Accept", "application/json")

	got := SafeHeaders(r)
	assert.False(t, strings.Contains(got, "secret"))
	assert.Equal(t, "Accept=application/json; Authorization=<redacted>", got)
	assert.Len(t, RequestFields(r), 3)
}
