// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/twestage/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestNewLogger_ConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LoggingConfig{Level: "warn", Format: "console", Console: true}, &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	require.NoError(t, l.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_JSONAdapter(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LoggingConfig{Level: "debug", Format: "json", Console: true}, &buf)
	require.NoError(t, err)

	a := NewSugarAdapter(l)
	a.Info("chip id read", "chip_id", "0x10408686")
	require.NoError(t, l.Sync())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "chip id read", line["msg"])
	assert.Equal(t, "0x10408686", line["chip_id"])
	assert.Equal(t, "info", line["level"])
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twestage.log")
	l, err := newLogger(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		File:   config.LumberjackConfig{Filename: path, MaxSizeMB: 1},
	}, nil)
	require.NoError(t, err)

	NewSugarAdapter(l).Error("flash verify failed", "chunk", 3)
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "flash verify failed"))
}

func TestNewLogger_NoSinks(t *testing.T) {
	l, err := newLogger(config.LoggingConfig{Level: "debug"}, &bytes.Buffer{})
	require.NoError(t, err)
	// no-op logger accepts calls
	NewSugarAdapter(l).Debug("nothing")
}
